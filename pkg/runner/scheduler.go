package runner

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/athapong/conli-go/pkg/data"
	"github.com/athapong/conli-go/pkg/hd"
)

// Summary is the per-document record of the JSONL output stream.
type Summary struct {
	DataID                 string       `json:"data_id"`
	Hallucinated           bool         `json:"hallucinated"`
	HallucinationScore     float64      `json:"hallucination_score"`
	Hallucinations         []hd.Finding `json:"hallucinations"`
	NumTotalSentences      int          `json:"num_total_sentences"`
	NumTotalHallucinations int          `json:"num_total_hallucinations"`
}

// Scheduler fans the detection orchestrator out over many documents under
// its own concurrency bound.
type Scheduler struct {
	detector        *hd.Detector
	logger          *logrus.Logger
	maxParallelData int
}

func NewScheduler(detector *hd.Detector, maxParallelData int, logger *logrus.Logger) (*Scheduler, error) {
	if detector == nil {
		return nil, errors.New("no detector configured")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if maxParallelData <= 0 {
		maxParallelData = 1
	}
	return &Scheduler{detector: detector, logger: logger, maxParallelData: maxParallelData}, nil
}

// Run detects hallucinations in every corpus document. A failed document is
// logged with its identity and skipped; it never aborts the batch run. The
// returned findings and summaries are sorted deterministically.
func (s *Scheduler) Run(ctx context.Context, corpus *data.Corpus) ([]hd.Finding, []Summary) {
	workers := s.maxParallelData
	if workers > len(corpus.DataIDs) {
		workers = len(corpus.DataIDs)
	}

	var (
		mu          sync.Mutex
		allFindings []hd.Finding
		summaries   []Summary
	)

	g := &errgroup.Group{}
	g.SetLimit(workers)
	for _, dataID := range corpus.DataIDs {
		dataID := dataID
		g.Go(func() error {
			s.runDocument(ctx, corpus, dataID, &mu, &allFindings, &summaries)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(allFindings, func(i, j int) bool { return allFindings[i].Less(allFindings[j]) })
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].DataID < summaries[j].DataID })
	return allFindings, summaries
}

func (s *Scheduler) runDocument(ctx context.Context, corpus *data.Corpus, dataID string, mu *sync.Mutex, allFindings *[]hd.Finding, summaries *[]Summary) {
	log := s.logger.WithField("data_id", dataID)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Document processing panicked, skipping document")
		}
	}()

	sentences := make([]hd.SentenceRecord, 0, len(corpus.Sentences[dataID]))
	for _, sent := range corpus.Sentences[dataID] {
		sentences = append(sentences, hd.SentenceRecord{
			DataID:     dataID,
			SentenceID: sent.SentenceID,
			Text:       sent.Text,
		})
	}

	findings, err := s.detector.DetectDocument(ctx, dataID, corpus.Sources[dataID], sentences)
	if err != nil {
		log.WithError(err).Error("Document processing failed, skipping document")
		return
	}

	numSentences := len(sentences)
	score := 0.0
	if numSentences > 0 {
		score = float64(len(findings)) / float64(numSentences)
	}
	if findings == nil {
		findings = []hd.Finding{}
	}

	mu.Lock()
	defer mu.Unlock()
	*allFindings = append(*allFindings, findings...)
	*summaries = append(*summaries, Summary{
		DataID:                 dataID,
		Hallucinated:           len(findings) > 0,
		HallucinationScore:     score,
		Hallucinations:         findings,
		NumTotalSentences:      numSentences,
		NumTotalHallucinations: len(findings),
	})
}
