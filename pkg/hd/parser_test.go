package hd

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func TestParseBatchPositional(t *testing.T) {
	raw := "Answer:\n" +
		"(0). The patient is 45 years old. [c] <reason>Stated in the source.</reason>\n" +
		"(1). The patient takes 20mg daily. [i] <reason>The source says 10mg.</reason>\n" +
		"(2). The visit was on Tuesday. [c] <reason>Matches the source.</reason>"

	verdicts := ParseBatch(testLog(), raw, 3)
	require.Len(t, verdicts, 3)

	assert.False(t, verdicts[0].IsHallucination)
	assert.Equal(t, "stated in the source.", verdicts[0].Reason)

	assert.True(t, verdicts[1].IsHallucination)
	assert.Equal(t, "the source says 10mg.", verdicts[1].Reason)

	assert.False(t, verdicts[2].IsHallucination)
}

func TestParseBatchIncorrectTagWins(t *testing.T) {
	raw := "Answer:\n(0). Something. [c] [i] <reason>contradicted</reason>"

	verdicts := ParseBatch(testLog(), raw, 1)
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].IsHallucination)
}

func TestParseBatchNoTagDefaultsToHallucinated(t *testing.T) {
	raw := "Answer:\n(0). Something with no tag at all."

	verdicts := ParseBatch(testLog(), raw, 1)
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].IsHallucination)
	assert.Empty(t, verdicts[0].Reason)
}

func TestParseBatchMissingMarkerIsolated(t *testing.T) {
	// Item (1) is absent; (0) and (2) must still parse normally.
	raw := "Answer:\n" +
		"(0). First claim. [c] <reason>fine</reason>\n" +
		"(2). Third claim. [c] <reason>also fine</reason>"

	verdicts := ParseBatch(testLog(), raw, 3)
	require.Len(t, verdicts, 3)

	assert.False(t, verdicts[0].IsHallucination)
	assert.Equal(t, "fine", verdicts[0].Reason)
	assert.Equal(t, ParseErrorDiagnostic, verdicts[1].Reason)
	assert.False(t, verdicts[1].IsHallucination)
	assert.False(t, verdicts[2].IsHallucination)
}

func TestParseBatchCallFailedOutputDegrades(t *testing.T) {
	verdicts := ParseBatch(testLog(), CallFailedOutput, 2)
	require.Len(t, verdicts, 2)
	for _, v := range verdicts {
		assert.False(t, v.IsHallucination)
		assert.Equal(t, ParseErrorDiagnostic, v.Reason)
	}
}

func TestRemoveOutputPrefix(t *testing.T) {
	assert.Equal(t, "(0). claim", RemoveOutputPrefix("Here you go.\nAnswer:\n(0). claim"))
	assert.Equal(t, "no marker here", RemoveOutputPrefix("no marker here"))
}

func TestCleanForTSV(t *testing.T) {
	assert.Equal(t, "a b c", CleanForTSV("a\nb\tc"))
}
