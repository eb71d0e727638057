package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/athapong/conli-go/pkg/data"
	"github.com/athapong/conli-go/pkg/hd"
	"github.com/athapong/conli-go/pkg/llm"
	"github.com/athapong/conli-go/pkg/prompt"
	"github.com/athapong/conli-go/pkg/runner"
)

func main() {
	envFile := flag.String("env", ".env", "Path to environment file")
	outputFolder := flag.String("output-folder", "", "Where to write this run's outputs")
	inputHypothesis := flag.String("input-hypothesis", "", "Folder of raw response .txt files, or a sentence-level .tsv (DataID, SentenceID, Sentence)")
	inputSrc := flag.String("input-src", "", "Folder of source document .txt files")
	sentenceSelectorType := flag.String("sentence-selector-type", "pass_through", "Sentence selector: pass_through, none, or ensembled:a,b")
	entityDetectorType := flag.String("entity-detector-type", "general", "Entity detector: pass_through, general, numerical, none, or ensembled:a,b")
	configFile := flag.String("aoai-config-file", "configs/aoai_config.json", "JSON file holding the endpoint profiles")
	configSetting := flag.String("aoai-config-setting", "gpt-4-32k", "The endpoint profile to run against")
	promptRoot := flag.String("prompt-root", "prompts", "Root folder of the prompt template resources")
	maxParallelData := flag.Int("max-parallel-data", 2, "Documents processed in parallel; 1 runs sequentially")
	maxParallelism := flag.Int("max-parallelism", 2, "Model calls in parallel per document; 1 runs sequentially")
	entityParallelism := flag.Int("entity-detection-parallelism", 2, "Entity detection batches in parallel per document")
	entityBatch := flag.Int("entity-detection-batch", 25, "Requested entity detection batch size, clamped per backend")
	batchSize := flag.Int("gpt-batch-size", 1, "Detection items batched into a single prompt")
	chatMaxRetries := flag.Int("chat-max-retries", llm.DefaultChatMaxRetries, "Transient failure retries on the chat call path")
	completionMaxRetries := flag.Int("completion-max-retries", 0, "Transient failure retries on the completion call path; 0 retries forever")
	testMode := flag.Int("test-mode", 0, "Run end to end on only the first N data ids")
	logLevel := flag.String("log-level", "info", "Log level")
	metricsAddr := flag.String("metrics-addr", "", "Optional address to serve /metrics on")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}
	log := logger.WithField("run_id", uuid.NewString())

	if err := godotenv.Load(*envFile); err != nil {
		log.WithError(err).Warnf("Error loading env file %s", *envFile)
	}
	if *outputFolder == "" || *inputHypothesis == "" || *inputSrc == "" {
		log.Fatal("-output-folder, -input-hypothesis and -input-src are required")
	}

	profile, err := llm.LoadProfile(*configFile, *configSetting, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to load endpoint profile")
	}
	client, err := llm.NewClient(profile, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to build model client")
	}
	client = client.WithRetryPolicies(
		llm.RetryPolicy{MaxAttempts: *chatMaxRetries, Classify: llm.ClassifyChat},
		llm.RetryPolicy{MaxAttempts: *completionMaxRetries, Classify: llm.ClassifyCompletion},
	)

	selector, err := hd.NewSentenceSelector(*sentenceSelectorType)
	if err != nil {
		log.WithError(err).Fatal("Failed to build sentence selector")
	}
	entityDetector, err := hd.NewEntityDetector(*entityDetectorType)
	if err != nil {
		log.WithError(err).Fatal("Failed to build entity detector")
	}

	builder, err := prompt.NewDetectionBuilder(*promptRoot, profile.UseChatCompletions, profile.MaxContextLength)
	if err != nil {
		log.WithError(err).Fatal("Failed to load detection prompt template")
	}

	detector, err := hd.NewDetector(hd.DetectorConfig{
		Selector:       selector,
		EntityDetector: entityDetector,
		Caller:         client,
		PromptBuilder:  builder,
		Logger:         logger,
		Sampling: llm.SamplingParams{
			Temperature: 0,
			TopP:        0.6,
			MaxTokens:   2048,
		},
		BatchSize:                  *batchSize,
		MaxParallelism:             *maxParallelism,
		EntityDetectionParallelism: *entityParallelism,
		EntityDetectionBatch:       *entityBatch,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to build detector")
	}

	scheduler, err := runner.NewScheduler(detector, *maxParallelData, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to build scheduler")
	}

	corpus, err := data.LoadCorpus(*inputHypothesis, *inputSrc, *testMode, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to load corpus")
	}

	hallucinationFolder := filepath.Join(*outputFolder, "hallucinations")
	intermediateFolder := filepath.Join(*outputFolder, "intermediate")
	for _, folder := range []string{hallucinationFolder, intermediateFolder} {
		if err := os.MkdirAll(folder, 0o755); err != nil {
			log.WithError(err).Fatalf("Failed to create output folder %s", folder)
		}
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	log.Info("Starting hallucination detection")
	start := time.Now()

	findings, summaries := scheduler.Run(context.Background(), corpus)

	tsvPath := filepath.Join(intermediateFolder, "HallucinationFinal.tsv")
	if err := runner.SaveFindingsTSV(tsvPath, findings); err != nil {
		log.WithError(err).Fatal("Failed to save findings")
	}
	jsonlPath := filepath.Join(hallucinationFolder, "allhallucinations.jsonl")
	if err := runner.SaveSummariesJSONL(jsonlPath, summaries); err != nil {
		log.WithError(err).Fatal("Failed to save summaries")
	}

	log.WithFields(logrus.Fields{
		"wall_clock": time.Since(start).String(),
		"findings":   len(findings),
		"documents":  len(summaries),
		"output":     jsonlPath,
	}).Info("Hallucination detection finished")
}
