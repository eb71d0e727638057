package hd

import (
	"strings"

	"github.com/pkg/errors"
)

// SentenceSelector decides, once per sentence, whether the sentence enters
// the sentence-level detection round, and returns the representative span
// sent to the model for it.
type SentenceSelector interface {
	SelectSentence(text string) (bool, EntitySpan)
}

// PassThroughSentenceSelector selects every sentence as-is.
type PassThroughSentenceSelector struct{}

func (PassThroughSentenceSelector) SelectSentence(text string) (bool, EntitySpan) {
	return true, EntitySpan{
		Hypothesis:    text,
		DetectionType: DetectionSentenceLevel,
	}
}

// EnsembleSentenceSelector fans out to each member; a sentence is selected
// when any member selects it, and the first selecting member supplies the
// representative span.
type EnsembleSentenceSelector struct {
	Members []SentenceSelector
}

func (e EnsembleSentenceSelector) SelectSentence(text string) (bool, EntitySpan) {
	for _, m := range e.Members {
		if selected, span := m.SelectSentence(text); selected {
			return true, span
		}
	}
	return false, EntitySpan{}
}

// NewSentenceSelector builds a selector by name. An empty name disables the
// sentence-level round. "ensembled:a,b" composes the named members.
func NewSentenceSelector(kind string) (SentenceSelector, error) {
	switch {
	case kind == "" || strings.EqualFold(kind, "none"):
		return nil, nil
	case strings.EqualFold(kind, "pass_through"):
		return PassThroughSentenceSelector{}, nil
	case strings.HasPrefix(strings.ToLower(kind), "ensembled:"):
		names := strings.Split(kind[len("ensembled:"):], ",")
		members := make([]SentenceSelector, 0, len(names))
		for _, name := range names {
			m, err := NewSentenceSelector(strings.TrimSpace(name))
			if err != nil {
				return nil, err
			}
			if m != nil {
				members = append(members, m)
			}
		}
		if len(members) == 0 {
			return nil, errors.Errorf("ensembled sentence selector %q has no members", kind)
		}
		return EnsembleSentenceSelector{Members: members}, nil
	default:
		return nil, errors.Errorf("unknown sentence selector type %q", kind)
	}
}
