package hd

import (
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jdkato/prose/v2"
	"github.com/pkg/errors"
)

// Batch-size caps observed per backend family. The clinical cap is much
// tighter than the general one; both are tuning constants, not derived.
const (
	generalEntityBatchCap  = 25
	clinicalEntityBatchCap = 5
)

// EntityDetector returns one span list per input sentence. Implementations
// clamp their own batch size through MaxBatchSize.
type EntityDetector interface {
	DetectEntities(texts []string) ([][]EntitySpan, error)
	MaxBatchSize() int
}

// HighlightSpan wraps the entity mention in angle-bracket markup inside its
// sentence. Mitigation later strips this markup when normalizing spans.
func HighlightSpan(sentence, entity string) string {
	return strings.Replace(sentence, entity, "<"+entity+">", 1)
}

// PassThroughEntityDetector turns every sentence into a single whole-sentence
// span.
type PassThroughEntityDetector struct{}

func (PassThroughEntityDetector) DetectEntities(texts []string) ([][]EntitySpan, error) {
	spans := make([][]EntitySpan, len(texts))
	for i, text := range texts {
		spans[i] = []EntitySpan{{
			Hypothesis:    text,
			DetectionType: DetectionEntityLevel,
		}}
	}
	return spans, nil
}

func (PassThroughEntityDetector) MaxBatchSize() int { return generalEntityBatchCap }

// ProseEntityDetector runs the prose NER model over each sentence and emits
// one span per recognized entity mention.
type ProseEntityDetector struct{}

func (ProseEntityDetector) DetectEntities(texts []string) ([][]EntitySpan, error) {
	spans := make([][]EntitySpan, len(texts))
	for i, text := range texts {
		doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
		if err != nil {
			return nil, errors.Wrap(err, "failed to run entity recognition")
		}
		var sentenceSpans []EntitySpan
		for _, ent := range doc.Entities() {
			sentenceSpans = append(sentenceSpans, EntitySpan{
				Hypothesis:    HighlightSpan(text, ent.Text),
				EntityName:    ent.Text,
				EntityType:    ent.Label,
				DetectionType: DetectionEntityLevel,
			})
		}
		spans[i] = sentenceSpans
	}
	return spans, nil
}

func (ProseEntityDetector) MaxBatchSize() int { return generalEntityBatchCap }

var numericMentionRE = regexp.MustCompile(`\d+(?:\.\d+)?\s*(?i:mg|mcg|ml|g|kg|mmhg|units?|%)?`)

// NumericalEntityDetector flags numeric mentions (doses, measurements,
// counts), the span category most prone to transcription hallucinations.
type NumericalEntityDetector struct{}

func (NumericalEntityDetector) DetectEntities(texts []string) ([][]EntitySpan, error) {
	spans := make([][]EntitySpan, len(texts))
	for i, text := range texts {
		var sentenceSpans []EntitySpan
		for _, mention := range numericMentionRE.FindAllString(text, -1) {
			mention = strings.TrimSpace(mention)
			sentenceSpans = append(sentenceSpans, EntitySpan{
				Hypothesis:    HighlightSpan(text, mention),
				EntityName:    mention,
				EntityType:    "Numeric",
				DetectionType: DetectionEntityLevel,
			})
		}
		spans[i] = sentenceSpans
	}
	return spans, nil
}

func (NumericalEntityDetector) MaxBatchSize() int { return clinicalEntityBatchCap }

// EnsembleEntityDetector fans out to each member and unions the spans per
// sentence, deduplicated on (hypothesis, detection type). Its batch cap is
// the tightest member cap.
type EnsembleEntityDetector struct {
	Members []EntityDetector
}

func (e EnsembleEntityDetector) DetectEntities(texts []string) ([][]EntitySpan, error) {
	merged := make([][]EntitySpan, len(texts))
	seen := make([]mapset.Set[string], len(texts))
	for i := range texts {
		seen[i] = mapset.NewSet[string]()
	}
	for _, m := range e.Members {
		spans, err := m.DetectEntities(texts)
		if err != nil {
			return nil, err
		}
		for i, sentenceSpans := range spans {
			for _, span := range sentenceSpans {
				key := span.DetectionType + "\x00" + span.Hypothesis
				if seen[i].Add(key) {
					merged[i] = append(merged[i], span)
				}
			}
		}
	}
	return merged, nil
}

func (e EnsembleEntityDetector) MaxBatchSize() int {
	bound := generalEntityBatchCap
	for _, m := range e.Members {
		if m.MaxBatchSize() < bound {
			bound = m.MaxBatchSize()
		}
	}
	return bound
}

// NewEntityDetector builds a detector by name. An empty name disables the
// entity-level round. "ensembled:a,b" composes the named members.
func NewEntityDetector(kind string) (EntityDetector, error) {
	switch {
	case kind == "" || strings.EqualFold(kind, "none"):
		return nil, nil
	case strings.EqualFold(kind, "pass_through"):
		return PassThroughEntityDetector{}, nil
	case strings.EqualFold(kind, "general") || strings.EqualFold(kind, "text_analytics"):
		return ProseEntityDetector{}, nil
	case strings.EqualFold(kind, "numerical"):
		return NumericalEntityDetector{}, nil
	case strings.HasPrefix(strings.ToLower(kind), "ensembled:"):
		names := strings.Split(kind[len("ensembled:"):], ",")
		members := make([]EntityDetector, 0, len(names))
		for _, name := range names {
			m, err := NewEntityDetector(strings.TrimSpace(name))
			if err != nil {
				return nil, err
			}
			if m != nil {
				members = append(members, m)
			}
		}
		if len(members) == 0 {
			return nil, errors.Errorf("ensembled entity detector %q has no members", kind)
		}
		return EnsembleEntityDetector{Members: members}, nil
	default:
		return nil, errors.Errorf("unknown entity detector type %q", kind)
	}
}
