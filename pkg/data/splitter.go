package data

import (
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/neurosnap/sentences.v1"
	"gopkg.in/neurosnap/sentences.v1/english"
)

// SentenceSplitter segments free text into sentences using the punkt-style
// english tokenizer.
type SentenceSplitter struct {
	tokenizer *sentences.DefaultSentenceTokenizer
}

func NewSentenceSplitter() (*SentenceSplitter, error) {
	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build sentence tokenizer")
	}
	return &SentenceSplitter{tokenizer: tokenizer}, nil
}

// Split returns the trimmed, non-empty sentences of text in order.
func (s *SentenceSplitter) Split(text string) []string {
	var out []string
	for _, sent := range s.tokenizer.Tokenize(text) {
		trimmed := strings.TrimSpace(sent.Text)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
