package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// AnswerPrefix is the structural marker the prompts instruct the model to
// emit. Output without it is not parseable and is resent.
const AnswerPrefix = "Answer:"

const certifiedPrefix = AnswerPrefix + "\n"

// DefaultChatMaxRetries bounds the chat call path. The completion path is
// historically unbounded.
const DefaultChatMaxRetries = 10

// Message is one role/content turn of a conversational prompt.
type Message struct {
	Role    string
	Content string
}

// Prompt is either a flat completion prompt or an ordered list of chat
// turns; exactly one of the two is set.
type Prompt struct {
	Text     string
	Messages []Message
}

// IsChat reports whether the prompt is in conversational form.
func (p Prompt) IsChat() bool { return len(p.Messages) > 0 }

// SamplingParams are the per-stage generation settings. Detection and
// mitigation carry independent sets.
type SamplingParams struct {
	Temperature      float32
	TopP             float32
	MaxTokens        int
	FrequencyPenalty float32
	PresencePenalty  float32
	Generations      int
	Stop             []string
	LogProbs         int
}

func (s SamplingParams) generations() int {
	if s.Generations <= 0 {
		return 1
	}
	return s.Generations
}

func (s SamplingParams) stop() []string {
	if len(s.Stop) == 0 {
		return []string{"<|im_end|>"}
	}
	return s.Stop
}

// Caller issues one inference request and returns one raw output per
// requested generation, or nil after a terminal failure.
type Caller interface {
	Call(ctx context.Context, p Prompt, params SamplingParams) []string
}

// Client talks to one configured OpenAI-compatible endpoint. Shared state
// (endpoint, credentials, engine) is read-only after construction.
type Client struct {
	api              *openai.Client
	engine           string
	logger           *logrus.Logger
	chatPolicy       RetryPolicy
	completionPolicy RetryPolicy
}

// NewClient builds a client for the given endpoint profile.
func NewClient(profile *Profile, logger *logrus.Logger) (*Client, error) {
	if profile.DefaultEngine == "" {
		return nil, errors.New("profile has no DEFAULT_ENGINE")
	}

	var cfg openai.ClientConfig
	if strings.EqualFold(profile.APIType, "azure") {
		if profile.APIBase == "" {
			return nil, errors.Errorf("azure profile %q has no OPENAI_API_BASE", profile.Name)
		}
		cfg = openai.DefaultAzureConfig(profile.APIKey, profile.APIBase)
		if profile.APIVersion != "" {
			cfg.APIVersion = profile.APIVersion
		}
	} else {
		cfg = openai.DefaultConfig(profile.APIKey)
		if profile.APIBase != "" {
			cfg.BaseURL = profile.APIBase
		}
	}

	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		engine: profile.DefaultEngine,
		logger: logger,
		chatPolicy: RetryPolicy{
			MaxAttempts: DefaultChatMaxRetries,
			Classify:    ClassifyChat,
		},
		completionPolicy: RetryPolicy{
			Classify: ClassifyCompletion,
		},
	}, nil
}

// WithRetryPolicies overrides the per-path retry policies, mainly for tests
// and for callers that want to bound the completion path.
func (c *Client) WithRetryPolicies(chat, completion RetryPolicy) *Client {
	c.chatPolicy = chat
	c.completionPolicy = completion
	return c
}

// Call dispatches the prompt on the matching call form. The returned slice
// holds one raw output per generation; nil means the call failed terminally
// and the caller should degrade, not abort.
func (c *Client) Call(ctx context.Context, p Prompt, params SamplingParams) []string {
	if p.IsChat() {
		return c.chatCall(ctx, p.Messages, params)
	}
	return c.completionCall(ctx, p.Text, params)
}

func (c *Client) chatCall(ctx context.Context, turns []Message, params SamplingParams) []string {
	log := c.logger.WithField("engine", c.engine)
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}

	return c.chatPolicy.Do(log, func() ([]string, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:            c.engine,
			Messages:         messages,
			Temperature:      params.Temperature,
			TopP:             params.TopP,
			MaxTokens:        params.MaxTokens,
			FrequencyPenalty: params.FrequencyPenalty,
			PresencePenalty:  params.PresencePenalty,
			N:                params.generations(),
			Stop:             params.stop(),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("empty choices in chat completion response")
		}
		if !CertifiedOutputPrefix(resp.Choices[0].Message.Content) {
			return nil, errors.Errorf("undesired output, resending current request: %q", resp.Choices[0].Message.Content)
		}
		outputs := make([]string, 0, len(resp.Choices))
		for _, choice := range resp.Choices {
			outputs = append(outputs, choice.Message.Content)
		}
		return outputs, nil
	})
}

func (c *Client) completionCall(ctx context.Context, prompt string, params SamplingParams) []string {
	log := c.logger.WithField("engine", c.engine)

	return c.completionPolicy.Do(log, func() ([]string, error) {
		resp, err := c.api.CreateCompletion(ctx, openai.CompletionRequest{
			Model:            c.engine,
			Prompt:           prompt,
			Temperature:      params.Temperature,
			TopP:             params.TopP,
			MaxTokens:        params.MaxTokens,
			FrequencyPenalty: params.FrequencyPenalty,
			PresencePenalty:  params.PresencePenalty,
			LogProbs:         params.LogProbs,
			N:                params.generations(),
			Stop:             params.stop(),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("empty choices in completion response")
		}
		if !CertifiedOutputPrefix(resp.Choices[0].Text) {
			return nil, errors.Errorf("undesired output, resending current request: %q", resp.Choices[0].Text)
		}
		outputs := make([]string, 0, len(resp.Choices))
		for _, choice := range resp.Choices {
			outputs = append(outputs, choice.Text)
		}
		return outputs, nil
	})
}

// CertifiedOutputPrefix reports whether the raw output carries the Answer
// marker the prompts require.
func CertifiedOutputPrefix(out string) bool {
	return strings.Contains(out, certifiedPrefix)
}
