package hd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keywordSelector struct{ keyword string }

func (k keywordSelector) SelectSentence(text string) (bool, EntitySpan) {
	if !strings.Contains(text, k.keyword) {
		return false, EntitySpan{}
	}
	return true, EntitySpan{Hypothesis: text, EntityName: k.keyword, DetectionType: DetectionSentenceLevel}
}

func TestPassThroughSentenceSelector(t *testing.T) {
	selected, span := PassThroughSentenceSelector{}.SelectSentence("a sentence")
	assert.True(t, selected)
	assert.Equal(t, "a sentence", span.Hypothesis)
	assert.Equal(t, DetectionSentenceLevel, span.DetectionType)
}

func TestEnsembleSentenceSelectorFirstMemberWins(t *testing.T) {
	e := EnsembleSentenceSelector{Members: []SentenceSelector{
		keywordSelector{keyword: "dose"},
		keywordSelector{keyword: "patient"},
	}}

	selected, span := e.SelectSentence("the patient got a dose")
	require.True(t, selected)
	assert.Equal(t, "dose", span.EntityName)

	selected, span = e.SelectSentence("the patient slept")
	require.True(t, selected)
	assert.Equal(t, "patient", span.EntityName)

	selected, _ = e.SelectSentence("nothing relevant")
	assert.False(t, selected)
}

func TestNewSentenceSelector(t *testing.T) {
	s, err := NewSentenceSelector("")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewSentenceSelector("none")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewSentenceSelector("pass_through")
	require.NoError(t, err)
	assert.IsType(t, PassThroughSentenceSelector{}, s)

	s, err = NewSentenceSelector("ensembled:pass_through")
	require.NoError(t, err)
	assert.IsType(t, EnsembleSentenceSelector{}, s)

	_, err = NewSentenceSelector("bogus")
	assert.Error(t, err)
}
