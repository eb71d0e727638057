package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/athapong/conli-go/pkg/data"
	"github.com/athapong/conli-go/pkg/hd"
	"github.com/athapong/conli-go/pkg/llm"
	"github.com/athapong/conli-go/pkg/mitigate"
	"github.com/athapong/conli-go/pkg/prompt"
	"github.com/athapong/conli-go/pkg/runner"
)

func main() {
	envFile := flag.String("env", ".env", "Path to environment file")
	inputHypothesis := flag.String("input-hypothesis", "", "Folder of raw response .txt files")
	inputSrc := flag.String("input-src", "", "Folder of source document .txt files")
	findingsFile := flag.String("findings", "", "HallucinationFinal.tsv written by the detection run")
	outputFolder := flag.String("output-folder", "", "Where to write the refined responses")
	configFile := flag.String("aoai-config-file", "configs/aoai_config.json", "JSON file holding the endpoint profiles")
	configSetting := flag.String("aoai-config-setting", "gpt-4-32k", "The endpoint profile to run against")
	promptRoot := flag.String("prompt-root", "prompts", "Root folder of the prompt template resources")
	maxParallelism := flag.Int("max-parallelism", 2, "Rewrite calls in parallel; 1 runs sequentially")
	logLevel := flag.String("log-level", "info", "Log level")
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
	if *inputHypothesis == "" || *inputSrc == "" || *findingsFile == "" || *outputFolder == "" {
		log.Fatal("-input-hypothesis, -input-src, -findings and -output-folder are required")
	}

	profile, err := llm.LoadProfile(*configFile, *configSetting, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to load endpoint profile")
	}
	client, err := llm.NewClient(profile, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to build model client")
	}

	builder, err := prompt.NewMitigationBuilder(*promptRoot, profile.UseChatCompletions)
	if err != nil {
		log.WithError(err).Fatal("Failed to load mitigation prompt template")
	}

	mitigator, err := mitigate.NewMitigator(mitigate.Config{
		Caller:        client,
		PromptBuilder: builder,
		Logger:        logger,
		Sampling: llm.SamplingParams{
			Temperature: 0,
			TopP:        0.6,
			MaxTokens:   1024,
		},
		MaxParallelism: *maxParallelism,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to build mitigator")
	}

	corpus, err := data.LoadCorpus(*inputHypothesis, *inputSrc, 0, logger)
	if err != nil {
		log.WithError(err).Fatal("Failed to load corpus")
	}
	findings, err := runner.LoadFindingsTSV(*findingsFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to load findings")
	}

	docs := make([]hd.Document, 0, len(corpus.DataIDs))
	for _, dataID := range corpus.DataIDs {
		docs = append(docs, hd.Document{
			DataID:     dataID,
			SourceText: corpus.Sources[dataID],
			Hypothesis: corpus.Hypotheses[dataID],
		})
	}

	refinedFolder := filepath.Join(*outputFolder, "refined")
	if err := os.MkdirAll(refinedFolder, 0o755); err != nil {
		log.WithError(err).Fatalf("Failed to create output folder %s", refinedFolder)
	}

	log.Info("Starting hallucination mitigation")
	start := time.Now()

	results := mitigator.Mitigate(context.Background(), docs, findings)

	jsonlPath := filepath.Join(*outputFolder, "allrefined.jsonl")
	if err := saveResultsJSONL(jsonlPath, results); err != nil {
		log.WithError(err).Fatal("Failed to save refined responses")
	}
	for _, result := range results {
		path := filepath.Join(refinedFolder, result.DataID+".txt")
		if err := os.WriteFile(path, []byte(result.RefinedResponse), 0o644); err != nil {
			log.WithError(err).Fatalf("Failed to write %s", path)
		}
	}

	log.WithFields(logrus.Fields{
		"wall_clock": time.Since(start).String(),
		"documents":  len(results),
		"output":     jsonlPath,
	}).Info("Hallucination mitigation finished")
}

func saveResultsJSONL(path string, results []mitigate.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, result := range results {
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return w.Flush()
}
