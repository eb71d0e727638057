package runner

import (
	"bufio"
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/athapong/conli-go/pkg/hd"
)

var tsvHeader = []string{"data_id", "sentenceid", "detectiontype", "span", "reason", "name", "type"}

// SaveFindingsTSV writes the flat tab-separated finding stream, rows sorted
// by the canonical finding order.
func SaveFindingsTSV(path string, findings []hd.Finding) error {
	sorted := make([]hd.Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(strings.Join(tsvHeader, "\t") + "\n"); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	for _, finding := range sorted {
		row := []string{
			finding.DataID,
			strconv.Itoa(finding.SentenceID),
			finding.DetectionType,
			hd.CleanForTSV(finding.Sentence),
			hd.CleanForTSV(finding.Reason),
			hd.CleanForTSV(finding.EntityName),
			hd.CleanForTSV(finding.EntityType),
		}
		if _, err := w.WriteString(strings.Join(row, "\t") + "\n"); err != nil {
			return errors.Wrapf(err, "failed to write %s", path)
		}
	}
	return errors.Wrapf(w.Flush(), "failed to flush %s", path)
}

// SaveSummariesJSONL writes one summary object per document, newline
// delimited, sorted by data id.
func SaveSummariesJSONL(path string, summaries []Summary) error {
	sorted := make([]Summary, len(summaries))
	copy(sorted, summaries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DataID < sorted[j].DataID })

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range sorted {
		if sorted[i].Hallucinations == nil {
			sorted[i].Hallucinations = []hd.Finding{}
		}
		if err := enc.Encode(sorted[i]); err != nil {
			return errors.Wrapf(err, "failed to write %s", path)
		}
	}
	return errors.Wrapf(w.Flush(), "failed to flush %s", path)
}

// LoadFindingsTSV reads a finding stream previously written by
// SaveFindingsTSV, grouped by data id. The mitigation runner consumes it.
func LoadFindingsTSV(path string) (map[string][]hd.Finding, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) == 0 || strings.Join(tsvHeader, "\t") != lines[0] {
		return nil, errors.Errorf("%s does not carry the expected finding header", path)
	}

	out := map[string][]hd.Finding{}
	for _, line := range lines[1:] {
		cols := strings.Split(line, "\t")
		if len(cols) != len(tsvHeader) {
			return nil, errors.Errorf("%s has a row with %d columns, want %d", path, len(cols), len(tsvHeader))
		}
		sentenceID, err := strconv.Atoi(cols[1])
		if err != nil {
			return nil, errors.Wrapf(err, "bad sentence id in %s", path)
		}
		out[cols[0]] = append(out[cols[0]], hd.Finding{
			DataID:        cols[0],
			SentenceID:    sentenceID,
			DetectionType: cols[2],
			Sentence:      cols[3],
			Reason:        cols[4],
			EntityName:    cols[5],
			EntityType:    cols[6],
		})
	}
	return out, nil
}
