package prompt

import (
	"github.com/athapong/conli-go/pkg/llm"
)

const detectionTemplateName = "hallucination_detection/generic.nli.v1"

// DetectionBuilder renders one detection batch into a single prompt.
type DetectionBuilder struct {
	tmpl  *Template
	sizer *sizer
}

// NewDetectionBuilder loads the detection template from the resource root.
// maxPromptTokens is the active model's context window; it bounds the
// completion-form prompt together with the requested output budget.
func NewDetectionBuilder(root string, useChat bool, maxPromptTokens int) (*DetectionBuilder, error) {
	tmpl, err := Load(root, detectionTemplateName, useChat)
	if err != nil {
		return nil, err
	}
	s, err := newSizer(maxPromptTokens)
	if err != nil {
		return nil, err
	}
	return &DetectionBuilder{tmpl: tmpl, sizer: s}, nil
}

// BuildBatchPrompt substitutes the source transcript and the enumerated
// hypothesis block into the template. Hypotheses keep their input order.
func (b *DetectionBuilder) BuildBatchPrompt(source string, hypotheses []string, maxTokens int) (llm.Prompt, error) {
	p := b.tmpl.render(map[string]string{
		"{{Source}}":     source,
		"{{Hypothesis}}": EnumerateHypotheses(hypotheses),
	})
	if err := b.sizer.validate(p, maxTokens); err != nil {
		return llm.Prompt{}, err
	}
	return p, nil
}
