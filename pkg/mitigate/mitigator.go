package mitigate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/athapong/conli-go/pkg/hd"
	"github.com/athapong/conli-go/pkg/llm"
	"github.com/athapong/conli-go/pkg/prompt"
)

const defaultRewriteTokens = 4096

// Result is the rewrite outcome for one document. With zero findings the
// refined response equals the raw one and no model call was made.
type Result struct {
	DataID          string `json:"data_id"`
	RawResponse     string `json:"raw_response"`
	RefinedResponse string `json:"refined_response"`
}

// Config wires the mitigation orchestrator.
type Config struct {
	Caller        llm.Caller
	PromptBuilder *prompt.MitigationBuilder
	Logger        *logrus.Logger

	Sampling       llm.SamplingParams
	MaxParallelism int
}

// Mitigator issues one rewrite request per document that has findings.
type Mitigator struct {
	cfg Config
}

func NewMitigator(cfg Config) (*Mitigator, error) {
	if cfg.Caller == nil {
		return nil, errors.New("no model caller configured")
	}
	if cfg.PromptBuilder == nil {
		return nil, errors.New("no mitigation prompt builder configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = 1
	}
	if cfg.Sampling.MaxTokens <= 0 {
		cfg.Sampling.MaxTokens = defaultRewriteTokens
	}
	return &Mitigator{cfg: cfg}, nil
}

var markupRE = regexp.MustCompile(`<.*?>`)

// CleanSpan normalizes a flagged span for deduplication: highlight markup
// removed, whitespace collapsed.
func CleanSpan(span string) string {
	return strings.Join(strings.Fields(markupRE.ReplaceAllString(span, "")), " ")
}

// Instructions builds the combined rewrite instruction block for one
// document. Findings whose normalized span text matches an earlier finding
// are dropped, so the same sentence is never rewritten twice.
func Instructions(findings []hd.Finding) string {
	seen := mapset.NewSet[string]()
	var deduped []hd.Finding
	for _, f := range findings {
		if seen.Add(CleanSpan(f.Sentence)) {
			deduped = append(deduped, f)
		}
	}

	var b strings.Builder
	for i, f := range deduped {
		fmt.Fprintf(&b, "Rewrite instruction %d:\n", i+1)
		fmt.Fprintf(&b, "Rewrite sentence in raw_response: %s\n", f.Sentence)
		fmt.Fprintf(&b, "Reason for rewrite the sentence: %s\n", f.Reason)
	}
	return b.String()
}

// Postprocess strips the boilerplate wrapper markers the rewrite template
// may emit. Best-effort cleanup only: a fixed ordered sequence of literal
// substring operations, no retry when markers are absent.
func Postprocess(rewrite string) string {
	rewrite = strings.ReplaceAll(rewrite, "<|im_end|>", "")
	if _, after, found := strings.Cut(rewrite, "Corrected WHOLE CLAIM:"); found {
		rewrite = after
	}
	if _, after, found := strings.Cut(rewrite, "Corrected CLAIM:"); found {
		rewrite = after
	}
	rewrite = hd.RemoveOutputPrefix(rewrite)
	rewrite = strings.ReplaceAll(rewrite, "End WHOLE CLAIM.", "")
	rewrite = strings.ReplaceAll(rewrite, "End CLAIM", "")
	return strings.TrimSpace(rewrite)
}

// Mitigate rewrites every document that has findings, concurrently up to the
// configured parallelism. Documents without findings pass through untouched.
// Results come back sorted by data id.
func (m *Mitigator) Mitigate(ctx context.Context, docs []hd.Document, findings map[string][]hd.Finding) []Result {
	var results []Result
	var pending []hd.Document
	for _, doc := range docs {
		if len(findings[doc.DataID]) == 0 {
			results = append(results, Result{
				DataID:          doc.DataID,
				RawResponse:     doc.Hypothesis,
				RefinedResponse: doc.Hypothesis,
			})
			continue
		}
		pending = append(pending, doc)
	}

	if len(pending) > 0 {
		workers := m.cfg.MaxParallelism
		if workers > len(pending) {
			workers = len(pending)
		}

		rewritten := make([]Result, len(pending))
		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup
		for i, doc := range pending {
			wg.Add(1)
			go func(i int, doc hd.Document) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				rewritten[i] = m.rewriteDocument(ctx, doc, findings[doc.DataID])
			}(i, doc)
		}
		wg.Wait()
		results = append(results, rewritten...)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].DataID < results[j].DataID })
	return results
}

func (m *Mitigator) rewriteDocument(ctx context.Context, doc hd.Document, findings []hd.Finding) Result {
	log := m.cfg.Logger.WithField("data_id", doc.DataID)
	result := Result{DataID: doc.DataID, RawResponse: doc.Hypothesis}

	p, err := m.cfg.PromptBuilder.BuildPrompt(doc.SourceText, doc.Hypothesis, Instructions(findings), m.cfg.Sampling.MaxTokens)
	if err != nil {
		log.WithError(err).Error("Failed to build rewrite prompt, keeping raw response")
		result.RefinedResponse = doc.Hypothesis
		return result
	}

	log.Info("Calling model to rewrite response")
	outputs := m.cfg.Caller.Call(ctx, p, m.cfg.Sampling)
	if outputs == nil {
		outputs = []string{hd.CallFailedOutput}
	}
	result.RefinedResponse = Postprocess(outputs[0])
	return result
}
