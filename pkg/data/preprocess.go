package data

import (
	"strings"
	"unicode"
)

// Sentence is one preprocessed hypothesis sentence. SentenceID is 1-based
// after filtering, so downstream ids stay dense.
type Sentence struct {
	SentenceID int    `json:"sentence_id"`
	Text       string `json:"text"`
}

// ResponsePreprocess cleans a raw generated response and segments it into
// sentences. Headers, all-caps lines, configured prefixes and fragments of
// three characters or fewer are dropped before ids are assigned.
type ResponsePreprocess struct {
	splitter     *SentenceSplitter
	skipPrefixes []string
	replaceWords []string
}

func NewResponsePreprocess(splitter *SentenceSplitter, skipPrefixes, replaceWords []string) *ResponsePreprocess {
	return &ResponsePreprocess{
		splitter:     splitter,
		skipPrefixes: skipPrefixes,
		replaceWords: replaceWords,
	}
}

// isUpper mirrors the usual "all cased characters are uppercase" test: true
// only when the text has at least one letter and no lowercase ones.
func isUpper(text string) bool {
	hasLetter := false
	for _, r := range text {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

// Preprocess splits the response line by line into cleaned sentences.
func (p *ResponsePreprocess) Preprocess(text string) []Sentence {
	var out []Sentence
	sentenceID := 0
	for _, line := range strings.Split(text, "\n") {
		for _, sent := range p.splitter.Split(line) {
			sent = strings.ReplaceAll(sent, "__lf1__", "")
			sent = strings.ReplaceAll(sent, "__lf2__", "")
			sent = strings.TrimSpace(sent)

			if (strings.HasPrefix(sent, "#") && strings.HasSuffix(sent, "#")) || isUpper(sent) {
				continue
			}

			skip := false
			for _, prefix := range p.skipPrefixes {
				if strings.HasPrefix(sent, prefix) {
					skip = true
					break
				}
			}
			if skip {
				continue
			}

			for _, word := range p.replaceWords {
				sent = strings.ReplaceAll(sent, word, "")
			}
			sent = strings.TrimSpace(strings.ReplaceAll(sent, "<|im_end|>", ""))

			if len(sent) <= 3 {
				continue
			}
			sentenceID++
			out = append(out, Sentence{SentenceID: sentenceID, Text: sent})
		}
	}
	return out
}
