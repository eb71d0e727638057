package hd

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/athapong/conli-go/pkg/llm"
	"github.com/athapong/conli-go/pkg/prompt"
)

const (
	defaultBatchSize       = 10
	defaultDetectionTokens = 4096
)

var wordRE = regexp.MustCompile(`\w+`)

func countWords(text string) int {
	return len(wordRE.FindAllStringIndex(text, -1))
}

// DetectorConfig wires the detection orchestrator. Selector and
// EntityDetector are each optional but at least one must be set.
type DetectorConfig struct {
	Selector       SentenceSelector
	EntityDetector EntityDetector
	Caller         llm.Caller
	PromptBuilder  *prompt.DetectionBuilder
	Logger         *logrus.Logger

	Sampling  llm.SamplingParams
	BatchSize int

	// MaxParallelism bounds concurrent model calls per document.
	MaxParallelism int
	// EntityDetectionParallelism bounds concurrent entity-detection batches.
	EntityDetectionParallelism int
	// EntityDetectionBatch is the requested entity batch size; the detector
	// backend clamps it to its own cap.
	EntityDetectionBatch int
}

// Detector runs the two-round hallucination detection sequence over one
// document at a time. It is safe for concurrent use across documents: all
// per-document state is owned by the call.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector validates the configuration. Disabling both detection modes is
// a configuration error, not a runtime one.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Selector == nil && cfg.EntityDetector == nil {
		return nil, errors.New("both sentence-level and entity-level detection are disabled, enable at least one")
	}
	if cfg.Caller == nil {
		return nil, errors.New("no model caller configured")
	}
	if cfg.PromptBuilder == nil {
		return nil, errors.New("no detection prompt builder configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = 1
	}
	if cfg.EntityDetectionParallelism <= 0 {
		cfg.EntityDetectionParallelism = 1
	}
	if cfg.EntityDetectionBatch <= 0 {
		cfg.EntityDetectionBatch = generalEntityBatchCap
	}
	if cfg.Sampling.MaxTokens <= 0 {
		cfg.Sampling.MaxTokens = defaultDetectionTokens
	}
	return &Detector{cfg: cfg}, nil
}

// perfCounters are diagnostic only and never part of the returned findings.
type perfCounters struct {
	nRequests      int
	nCalls         int
	nSentences     int
	nEntities      int
	nSourceTokens  int
	nContentTokens int
	round1Time     time.Duration
	edTime         time.Duration
	round2Time     time.Duration
	totalTime      time.Duration
}

func (p *perfCounters) fields() logrus.Fields {
	return logrus.Fields{
		"n_gpt_requests":   p.nRequests,
		"n_gpt_calls":      p.nCalls,
		"n_sentences":      p.nSentences,
		"n_entities":       p.nEntities,
		"n_source_tokens":  p.nSourceTokens,
		"n_content_tokens": p.nContentTokens,
		"hd_time_round_1":  p.round1Time.Seconds(),
		"ed_time":          p.edTime.Seconds(),
		"hd_time_round_2":  p.round2Time.Seconds(),
		"hd_time_total":    p.totalTime.Seconds(),
	}
}

// DetectDocument runs both detection rounds over the segmented hypothesis
// sentences of one document and returns the findings in the canonical order,
// regardless of batch completion order.
func (d *Detector) DetectDocument(ctx context.Context, dataID, source string, sentences []SentenceRecord) ([]Finding, error) {
	log := d.cfg.Logger.WithField("data_id", dataID)
	perf := &perfCounters{nSourceTokens: countWords(source)}
	started := time.Now()

	records := make([]SentenceRecord, len(sentences))
	copy(records, sentences)

	var findings []Finding
	if d.cfg.Selector != nil {
		perf.nSentences = len(records)
		for i := range records {
			selected, span := d.cfg.Selector.SelectSentence(records[i].Text)
			if selected {
				records[i].Entities = []EntitySpan{span}
			} else {
				records[i].Entities = nil
				log.WithFields(logrus.Fields{
					"sentence_id": records[i].SentenceID,
					"sentence":    records[i].Text,
				}).Info("Sentence not selected for further detection")
			}
			perf.nContentTokens += countWords(records[i].Text)
		}

		roundStart := time.Now()
		roundFindings, err := d.runDetectionRound(ctx, log, dataID, source, records, true, perf)
		if err != nil {
			return nil, err
		}
		perf.round1Time = time.Since(roundStart)
		roundDuration.WithLabelValues("sentence").Observe(perf.round1Time.Seconds())
		findings = append(findings, roundFindings...)

		// A sentence flagged in round 1 never reaches the entity round.
		flagged := mapset.NewSet[int]()
		for _, f := range roundFindings {
			flagged.Add(f.SentenceID)
		}
		kept := records[:0]
		for _, rec := range records {
			if !flagged.Contains(rec.SentenceID) {
				kept = append(kept, rec)
			}
		}
		records = kept
	}

	if d.cfg.EntityDetector != nil && len(records) > 0 {
		edStart := time.Now()
		enriched, nEntities, err := d.attachEntities(log, records)
		if err != nil {
			return nil, err
		}
		perf.nEntities = nEntities
		perf.edTime = time.Since(edStart)

		roundStart := time.Now()
		roundFindings, err := d.runDetectionRound(ctx, log, dataID, source, enriched, false, perf)
		if err != nil {
			return nil, err
		}
		perf.round2Time = time.Since(roundStart)
		roundDuration.WithLabelValues("entity").Observe(perf.round2Time.Seconds())
		findings = append(findings, roundFindings...)
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].Less(findings[j]) })

	perf.totalTime = time.Since(started)
	log.WithFields(perf.fields()).Info("Hallucination detection completed")
	return findings, nil
}

// attachEntities invokes the entity detector over sentence batches, bounded
// by its own parallelism setting, and attaches the spans in input order.
func (d *Detector) attachEntities(log *logrus.Entry, records []SentenceRecord) ([]SentenceRecord, int, error) {
	batchLen := d.cfg.EntityDetectionBatch
	if bound := d.cfg.EntityDetector.MaxBatchSize(); batchLen > bound {
		batchLen = bound
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Text
	}

	type batch struct {
		start, end int
	}
	var batches []batch
	for start := 0; start < len(texts); start += batchLen {
		end := start + batchLen
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{start: start, end: end})
	}

	workers := d.cfg.EntityDetectionParallelism
	if workers > len(batches) {
		workers = len(batches)
	}

	spans := make([][]EntitySpan, len(records))
	errCh := make(chan error, len(batches))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, b := range batches {
		wg.Add(1)
		go func(b batch) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			batchSpans, err := d.cfg.EntityDetector.DetectEntities(texts[b.start:b.end])
			if err != nil {
				errCh <- err
				return
			}
			for i, sentenceSpans := range batchSpans {
				spans[b.start+i] = sentenceSpans
			}
		}(b)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, 0, errors.Wrap(err, "entity detection failed")
	}

	nEntities := 0
	enriched := make([]SentenceRecord, len(records))
	for i, rec := range records {
		rec.Entities = spans[i]
		enriched[i] = rec
		nEntities += len(spans[i])
	}
	log.WithField("n_entities", nEntities).Debug("Entity detection completed")
	return enriched, nEntities, nil
}

// runDetectionRound flattens the attached spans into detection items,
// batches them into payloads, dispatches the payloads concurrently and turns
// hallucinated verdicts into findings.
func (d *Detector) runDetectionRound(ctx context.Context, log *logrus.Entry, dataID, source string, records []SentenceRecord, sentenceLevel bool, perf *perfCounters) ([]Finding, error) {
	roundLabel := "entity"
	if sentenceLevel {
		roundLabel = "sentence"
	}

	var items []DetectionItem
	for _, rec := range records {
		for _, span := range rec.Entities {
			entityType := span.EntityType
			if sentenceLevel {
				entityType = ""
			}
			items = append(items, DetectionItem{
				DataID:        dataID,
				Hypothesis:    span.Hypothesis,
				EntityName:    span.EntityName,
				EntityType:    entityType,
				DetectionType: span.DetectionType,
				SentenceID:    rec.SentenceID,
				Sentence:      rec.Text,
			})
		}
	}
	perf.nRequests += len(items)
	detectionItemsTotal.WithLabelValues(roundLabel).Add(float64(len(items)))

	payloads, err := buildPayloads(items, source, d.cfg.PromptBuilder, d.cfg.BatchSize, d.cfg.Sampling.MaxTokens)
	if err != nil {
		return nil, err
	}
	perf.nCalls += len(payloads)
	if len(payloads) == 0 {
		return nil, nil
	}

	workers := d.cfg.MaxParallelism
	if workers > len(payloads) {
		workers = len(payloads)
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, payload := range payloads {
		wg.Add(1)
		go func(payload *Payload) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			log.WithField("n_items", len(payload.Items)).Info("Calling model for detection batch")
			outputs := d.cfg.Caller.Call(ctx, payload.Prompt, d.cfg.Sampling)
			if outputs == nil {
				// Terminal call failure degrades this batch to parse-error
				// verdicts instead of aborting the document.
				modelCallsTotal.WithLabelValues(roundLabel, "failed").Inc()
				payload.RawOutputs = []string{CallFailedOutput}
				return
			}
			modelCallsTotal.WithLabelValues(roundLabel, "success").Inc()
			payload.RawOutputs = make([]string, len(outputs))
			for i, out := range outputs {
				payload.RawOutputs[i] = CleanForTSV(out)
			}
		}(payload)
	}
	wg.Wait()

	// Findings are collected in payload input order; completion order never
	// reaches the caller.
	var findings []Finding
	for _, payload := range payloads {
		findings = append(findings, verdictsToFindings(log, payload)...)
	}
	return findings, nil
}

// verdictsToFindings parses every generation of one completed payload and
// keeps the hallucinated verdicts.
func verdictsToFindings(log *logrus.Entry, payload *Payload) []Finding {
	var findings []Finding
	for _, rawOutput := range payload.RawOutputs {
		verdicts := ParseBatch(log, rawOutput, len(payload.Items))
		for i, item := range payload.Items {
			if !verdicts[i].IsHallucination {
				continue
			}
			findingsTotal.WithLabelValues(item.DetectionType).Inc()
			findings = append(findings, Finding{
				DataID:        item.DataID,
				SentenceID:    item.SentenceID,
				DetectionType: item.DetectionType,
				Sentence:      item.Hypothesis,
				EntityName:    item.EntityName,
				EntityType:    item.EntityType,
				Reason:        verdicts[i].Reason,
			})
		}
	}
	return findings
}
