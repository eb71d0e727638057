package data

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Corpus is the loaded input set: source transcripts and preprocessed
// hypothesis sentences keyed by data id. DataIDs holds the sorted ids
// present on both sides.
type Corpus struct {
	DataIDs    []string
	Sources    map[string]string
	Hypotheses map[string]string
	Sentences  map[string][]Sentence
}

// LoadCorpus loads the hypothesis input (a folder of .txt responses, or a
// sentence-level .tsv with DataID/SentenceID/Sentence columns) and the
// source .txt folder. testMode > 0 keeps only the first N data ids.
func LoadCorpus(hypothesisPath, srcFolder string, testMode int, logger *logrus.Logger) (*Corpus, error) {
	corpus := &Corpus{
		Sources:    map[string]string{},
		Hypotheses: map[string]string{},
		Sentences:  map[string][]Sentence{},
	}

	info, err := os.Stat(hypothesisPath)
	switch {
	case err != nil:
		return nil, errors.Wrapf(err, "failed to stat hypothesis input %s", hypothesisPath)
	case info.IsDir():
		hypotheses, err := loadTextFolder(hypothesisPath)
		if err != nil {
			return nil, err
		}
		splitter, err := NewSentenceSplitter()
		if err != nil {
			return nil, err
		}
		preprocess := NewResponsePreprocess(splitter, []string{"#"}, nil)
		for dataID, text := range hypotheses {
			corpus.Hypotheses[dataID] = text
			corpus.Sentences[dataID] = preprocess.Preprocess(text)
		}
	case strings.HasSuffix(hypothesisPath, ".tsv"):
		sentences, err := loadSentenceTSV(hypothesisPath)
		if err != nil {
			return nil, err
		}
		corpus.Sentences = sentences
		for dataID, sents := range sentences {
			texts := make([]string, 0, len(sents))
			for _, s := range sents {
				texts = append(texts, s.Text)
			}
			corpus.Hypotheses[dataID] = strings.Join(texts, " ")
		}
	default:
		return nil, errors.Errorf("hypothesis input %s is neither a folder nor a .tsv file", hypothesisPath)
	}

	corpus.Sources, err = loadTextFolder(srcFolder)
	if err != nil {
		return nil, err
	}

	for dataID := range corpus.Sentences {
		if _, ok := corpus.Sources[dataID]; ok {
			corpus.DataIDs = append(corpus.DataIDs, dataID)
		}
	}
	sort.Strings(corpus.DataIDs)

	logger.WithFields(logrus.Fields{
		"hypotheses": len(corpus.Sentences),
		"sources":    len(corpus.Sources),
		"matched":    len(corpus.DataIDs),
	}).Info("Corpus loaded")

	if len(corpus.DataIDs) == 0 {
		return nil, errors.New("no matching data ids between hypothesis and source inputs")
	}
	if len(corpus.DataIDs) != len(corpus.Sentences) || len(corpus.DataIDs) != len(corpus.Sources) {
		logger.Warn("Source and hypothesis inputs hold different data id sets, continuing with the intersection")
	}

	if testMode > 0 && testMode < len(corpus.DataIDs) {
		corpus.DataIDs = corpus.DataIDs[:testMode]
		logger.WithField("data_ids", corpus.DataIDs).Info("Test mode, running reduced dataset")
	}
	return corpus, nil
}

// loadTextFolder reads every .txt file in the folder, keyed by file stem.
func loadTextFolder(folder string) (map[string]string, error) {
	paths, err := filepath.Glob(filepath.Join(folder, "*.txt"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", folder)
	}
	out := make(map[string]string, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		out[stem] = string(raw)
	}
	return out, nil
}

// loadSentenceTSV reads a pre-segmented hypothesis file with header columns
// DataID, SentenceID, Sentence. Duplicate rows are dropped.
func loadSentenceTSV(path string) (map[string][]Sentence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	if len(rows) < 2 {
		return nil, errors.Errorf("%s holds no sentence rows", path)
	}

	col := map[string]int{}
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, required := range []string{"DataID", "SentenceID", "Sentence"} {
		if _, ok := col[required]; !ok {
			return nil, errors.Errorf("%s is missing required column %s", path, required)
		}
	}

	out := map[string][]Sentence{}
	seen := map[string]bool{}
	for _, row := range rows[1:] {
		dataID := row[col["DataID"]]
		sentenceID, err := strconv.Atoi(row[col["SentenceID"]])
		if err != nil {
			return nil, errors.Wrapf(err, "bad SentenceID in %s", path)
		}
		text := row[col["Sentence"]]

		key := dataID + "\x00" + strconv.Itoa(sentenceID) + "\x00" + text
		if seen[key] {
			continue
		}
		seen[key] = true
		out[dataID] = append(out[dataID], Sentence{SentenceID: sentenceID, Text: text})
	}
	return out, nil
}
