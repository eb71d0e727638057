package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athapong/conli-go/pkg/hd"
)

func TestSaveFindingsTSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HallucinationFinal.tsv")
	findings := []hd.Finding{
		{DataID: "doc2", SentenceID: 1, DetectionType: "sentence-level", Sentence: "second doc claim", Reason: "r2"},
		{DataID: "doc1", SentenceID: 3, DetectionType: "entity-level", Sentence: "with <20mg> span", EntityName: "20mg", EntityType: "Numeric", Reason: "r1"},
		{DataID: "doc1", SentenceID: 1, DetectionType: "sentence-level", Sentence: "a claim\nwith newline", Reason: "multi\tline"},
	}

	require.NoError(t, SaveFindingsTSV(path, findings))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "data_id\tsentenceid\tdetectiontype\tspan\treason\tname\ttype", lines[0])
	// rows come out in canonical order with control characters flattened
	assert.Equal(t, "doc1\t1\tsentence-level\ta claim with newline\tmulti line\t\t", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "doc1\t3\tentity-level"))
	assert.True(t, strings.HasPrefix(lines[3], "doc2\t1\tsentence-level"))

	loaded, err := LoadFindingsTSV(path)
	require.NoError(t, err)
	require.Len(t, loaded["doc1"], 2)
	require.Len(t, loaded["doc2"], 1)
	assert.Equal(t, "with <20mg> span", loaded["doc1"][1].Sentence)
	assert.Equal(t, "20mg", loaded["doc1"][1].EntityName)
}

func TestLoadFindingsTSVRejectsBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tsv")
	require.NoError(t, os.WriteFile(path, []byte("not\ta\theader\n"), 0o644))

	_, err := LoadFindingsTSV(path)
	assert.Error(t, err)
}

func TestSaveSummariesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allhallucinations.jsonl")
	summaries := []Summary{
		{DataID: "doc2", Hallucinated: false, NumTotalSentences: 3},
		{
			DataID:                 "doc1",
			Hallucinated:           true,
			HallucinationScore:     0.5,
			Hallucinations:         []hd.Finding{{DataID: "doc1", SentenceID: 2, Sentence: "bad claim"}},
			NumTotalSentences:      2,
			NumTotalHallucinations: 1,
		},
	}

	require.NoError(t, SaveSummariesJSONL(path, summaries))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)

	var first Summary
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "doc1", first.DataID)
	assert.Equal(t, 0.5, first.HallucinationScore)
	require.Len(t, first.Hallucinations, 1)

	// a document without findings serializes an empty list, not null
	assert.Contains(t, lines[1], `"hallucinations":[]`)
}
