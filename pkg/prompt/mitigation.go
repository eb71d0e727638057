package prompt

import (
	"github.com/athapong/conli-go/pkg/llm"
)

const (
	mitigationTemplateName    = "hallucination_mitigation/v3"
	mitigationMaxPromptTokens = 32000
)

// MitigationBuilder renders one rewrite request per document.
type MitigationBuilder struct {
	tmpl  *Template
	sizer *sizer
}

// NewMitigationBuilder loads the mitigation template from the resource root.
func NewMitigationBuilder(root string, useChat bool) (*MitigationBuilder, error) {
	tmpl, err := Load(root, mitigationTemplateName, useChat)
	if err != nil {
		return nil, err
	}
	s, err := newSizer(mitigationMaxPromptTokens)
	if err != nil {
		return nil, err
	}
	return &MitigationBuilder{tmpl: tmpl, sizer: s}, nil
}

// BuildPrompt substitutes the source, the raw response and the combined
// rewrite instruction block into the template.
func (b *MitigationBuilder) BuildPrompt(source, rawResponse, rewriteInstructions string, maxTokens int) (llm.Prompt, error) {
	p := b.tmpl.render(map[string]string{
		"{{source}}":               source,
		"{{raw_response}}":         rawResponse,
		"{{rewrite_instructions}}": rewriteInstructions,
	})
	if err := b.sizer.validate(p, maxTokens); err != nil {
		return llm.Prompt{}, err
	}
	return p, nil
}
