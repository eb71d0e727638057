package hd

import (
	"github.com/athapong/conli-go/pkg/llm"
)

// Detection type tags. Sentence-level findings carry DetectionSentenceLevel;
// entity-level findings carry the tag of the detector backend that produced
// the span.
const (
	DetectionSentenceLevel = "sentence-level"
	DetectionEntityLevel   = "entity-level"
)

// Document pairs a source transcript with the generated response to check.
type Document struct {
	DataID     string
	SourceText string
	Hypothesis string
}

// SentenceRecord is one segmented sentence of a hypothesis response.
// SentenceID is 1-based and stable within a document. Entities stays empty
// until a detection round attaches spans.
type SentenceRecord struct {
	DataID     string
	SentenceID int
	Text       string
	Entities   []EntitySpan
}

// EntitySpan is one highlighted span inside a sentence. Hypothesis holds the
// sentence text with the span bracketed, e.g. "Patient took <20mg> daily."
type EntitySpan struct {
	Hypothesis    string
	EntityName    string
	EntityType    string
	DetectionType string
}

// DetectionItem is the atomic unit of work batched into one prompt: one span
// (or whole sentence for the sentence-level round) with its origin.
type DetectionItem struct {
	DataID        string
	Hypothesis    string
	EntityName    string
	EntityType    string
	DetectionType string
	SentenceID    int
	Sentence      string
}

// Payload is one batch of items plus the rendered prompt and, after the
// remote call, the raw output of each requested generation.
type Payload struct {
	Items      []DetectionItem
	Prompt     llm.Prompt
	RawOutputs []string
}

// Finding is one confirmed hallucination record.
type Finding struct {
	DataID        string `json:"data_id"`
	SentenceID    int    `json:"sentence_id"`
	DetectionType string `json:"detection_type"`
	Sentence      string `json:"text"`
	EntityName    string `json:"name"`
	EntityType    string `json:"type"`
	Reason        string `json:"reason"`
}

// Less orders findings by the canonical (data_id, sentence_id,
// detection_type, text) key. Every caller-visible finding slice is sorted
// with it, whatever order the batches completed in.
func (f Finding) Less(other Finding) bool {
	if f.DataID != other.DataID {
		return f.DataID < other.DataID
	}
	if f.SentenceID != other.SentenceID {
		return f.SentenceID < other.SentenceID
	}
	if f.DetectionType != other.DetectionType {
		return f.DetectionType < other.DetectionType
	}
	return f.Sentence < other.Sentence
}

// ItemVerdict is the parsed result for one batch item.
type ItemVerdict struct {
	IsHallucination bool
	Reason          string
	Sentence        string
}
