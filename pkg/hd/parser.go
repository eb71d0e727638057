package hd

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/athapong/conli-go/pkg/llm"
)

// Correctness tags the prompt instructs the model to attach to each item.
// The incorrect tag wins when both appear; an item with neither tag is
// flagged hallucinated, a deliberate bias toward recall.
const (
	correctTag   = "[c]"
	incorrectTag = "[i]"
)

const (
	reasonOpenTag  = "<reason>"
	reasonCloseTag = "</reason>"
)

// ParseErrorDiagnostic marks verdicts whose item marker could not be found
// in the model output.
const ParseErrorDiagnostic = "PARSE ERROR SEEN!!!"

// CallFailedOutput is substituted as a batch's raw output after a terminal
// call failure. It carries no Answer marker, so every item of the batch
// degrades into a parse-error verdict.
const CallFailedOutput = "the format of gpt output is wrong"

// CleanForTSV flattens newlines and tabs so raw output can be carried in
// tab-separated records.
func CleanForTSV(text string) string {
	return strings.ReplaceAll(strings.ReplaceAll(text, "\n", " "), "\t", " ")
}

// RemoveOutputPrefix strips everything up to and including the Answer
// marker.
func RemoveOutputPrefix(out string) string {
	if idx := strings.Index(out, llm.AnswerPrefix); idx >= 0 {
		out = out[idx:]
	}
	return strings.TrimSpace(strings.ReplaceAll(out, llm.AnswerPrefix, ""))
}

// ParseBatch extracts one verdict per expected item from a single raw model
// output, positionally aligned to the batch's input order. Items whose
// "(i)." marker is missing yield a parse-error verdict; the sibling items
// are unaffected.
func ParseBatch(log *logrus.Entry, rawOutput string, nItems int) []ItemVerdict {
	out := RemoveOutputPrefix(rawOutput)

	verdicts := make([]ItemVerdict, 0, nItems)
	for i := 0; i < nItems; i++ {
		marker := fmt.Sprintf("(%d).", i)
		nextMarker := fmt.Sprintf("(%d).", i+1)

		verdict := ItemVerdict{}

		parts := strings.SplitN(out, marker, 2)
		if len(parts) < 2 {
			// Malformed output. Never retried here, never dropped: the item
			// is reported as non-hallucinated with a diagnostic reason.
			log.WithFields(logrus.Fields{
				"expected_item_count": nItems,
				"item_index":          i,
				"gpt_output":          rawOutput,
			}).Error("Unexpected parsing error seen, sentence returned as non-hallucination")
			parseErrorsTotal.Inc()
			verdict.Reason = ParseErrorDiagnostic
			verdict.Sentence = ParseErrorDiagnostic + " " + out
			verdicts = append(verdicts, verdict)
			continue
		}

		segment := strings.TrimSpace(parts[1])
		if i != nItems-1 {
			segment = strings.TrimSpace(strings.SplitN(segment, nextMarker, 2)[0])
		}
		verdict.Sentence = segment

		lower := strings.ToLower(segment)
		if strings.Contains(lower, reasonOpenTag) && strings.Contains(lower, reasonCloseTag) {
			afterOpen := strings.SplitN(lower, reasonOpenTag, 2)[1]
			verdict.Reason = strings.TrimSpace(strings.SplitN(strings.TrimSpace(afterOpen), reasonCloseTag, 2)[0])
		}

		// The correct tag defaults the item to not-hallucinated, the
		// incorrect tag overrides it, and no tag at all means hallucinated.
		verdict.IsHallucination = !strings.Contains(lower, correctTag)
		if strings.Contains(lower, incorrectTag) {
			verdict.IsHallucination = true
		}

		verdicts = append(verdicts, verdict)
	}
	return verdicts
}
