package hd

import (
	"github.com/athapong/conli-go/pkg/prompt"
)

// buildPayloads groups the detection items into batches of at most batchSize
// and renders each batch into one prompt. Item order inside a batch is the
// input order; the parser depends on it.
func buildPayloads(items []DetectionItem, source string, builder *prompt.DetectionBuilder, batchSize, maxTokens int) ([]*Payload, error) {
	if len(items) == 0 {
		return nil, nil
	}

	payloads := make([]*Payload, 0, (len(items)+batchSize-1)/batchSize)
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		hypotheses := make([]string, 0, len(batch))
		for _, item := range batch {
			hypotheses = append(hypotheses, item.Hypothesis)
		}

		p, err := builder.BuildBatchPrompt(source, hypotheses, maxTokens)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, &Payload{Items: batch, Prompt: p})
	}
	return payloads, nil
}
