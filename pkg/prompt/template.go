package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
	"gopkg.in/yaml.v3"

	"github.com/athapong/conli-go/pkg/llm"
)

const tokenEncoding = "cl100k_base"

// Turn is one role/content entry of a template resource.
type Turn struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// Template is a named prompt resource. In conversational form the turns are
// kept as-is; in completion form their contents are joined into one flat
// string, newline separated, as the resource was originally authored.
type Template struct {
	turns   []Turn
	flat    string
	useChat bool
}

// Load reads the YAML template <root>/<name>.yaml.
func Load(root, name string, useChat bool) (*Template, error) {
	path := filepath.Join(root, name+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read prompt template %s", path)
	}

	var turns []Turn
	if err := yaml.Unmarshal(raw, &turns); err != nil {
		return nil, errors.Wrapf(err, "failed to parse prompt template %s", path)
	}
	if len(turns) == 0 {
		return nil, errors.Errorf("prompt template %s has no turns", path)
	}

	t := &Template{turns: turns, useChat: useChat}
	if !useChat {
		var b strings.Builder
		for _, turn := range turns {
			b.WriteString(turn.Content)
			b.WriteString("\n")
		}
		t.flat = b.String()
	}
	return t, nil
}

// render substitutes every placeholder in every turn (or in the flat string)
// and returns the call-ready prompt.
func (t *Template) render(repl map[string]string) llm.Prompt {
	if t.useChat {
		messages := make([]llm.Message, 0, len(t.turns))
		for _, turn := range t.turns {
			content := turn.Content
			for before, after := range repl {
				content = strings.ReplaceAll(content, before, after)
			}
			messages = append(messages, llm.Message{Role: turn.Role, Content: content})
		}
		return llm.Prompt{Messages: messages}
	}
	flat := t.flat
	for before, after := range repl {
		flat = strings.ReplaceAll(flat, before, after)
	}
	return llm.Prompt{Text: flat}
}

// sizer counts prompt tokens for the completion-form context window check.
type sizer struct {
	enc             *tiktoken.Tiktoken
	maxPromptTokens int
}

func newSizer(maxPromptTokens int) (*sizer, error) {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load token encoding")
	}
	return &sizer{enc: enc, maxPromptTokens: maxPromptTokens}, nil
}

// validate rejects flat prompts that cannot fit together with the requested
// output budget. Conversational prompts skip the pre-check: the endpoint
// enforces its own limit and fails the call terminally.
func (s *sizer) validate(p llm.Prompt, maxTokens int) error {
	if p.IsChat() {
		return nil
	}
	n := len(s.enc.Encode(p.Text, nil, nil))
	if n+maxTokens > s.maxPromptTokens {
		return errors.Errorf("prompt tokens (%d) + max_tokens (%d) must be less than %d", n, maxTokens, s.maxPromptTokens)
	}
	return nil
}

// EnumerateHypotheses renders the "(0). <hypothesis>" block in stable input
// order. The parser relies on exactly this numbering.
func EnumerateHypotheses(hypotheses []string) string {
	lines := make([]string, 0, len(hypotheses))
	for i, h := range hypotheses {
		lines = append(lines, fmt.Sprintf("(%d). %s", i, h))
	}
	return strings.Join(lines, "\n")
}
