package llm

import (
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorClass is the retry classification of one failed call attempt.
type ErrorClass int

const (
	// Transient failures are retried after a sleep.
	Transient ErrorClass = iota
	// Terminal failures abort the call and yield the no-result sentinel.
	Terminal
)

// Classifier decides whether a failure message is worth retrying. The
// message is matched lowercased.
type Classifier func(errText string) ErrorClass

// callState tracks one remote call through the retry loop.
type callState int

const (
	statePending callState = iota
	stateRetrying
	stateSucceeded
	stateFailed
)

const defaultRetryWait = 5 * time.Second

var terminalSubstrings = []string{
	// content filter rejection
	"please modify your prompt and retry",
	// input exceeds the model context
	"please reduce the length of the messages",
	// auth / endpoint misconfiguration
	"invalid subscription key",
	"wrong api endpoint",
	"unauthorized",
}

var transientSubstrings = []string{
	"rate limit",
	"overloaded with other requests",
	"server is currently overloaded",
	"server is overloaded",
	"no healthy upstream",
	"error communicating with openai",
	// missing Answer marker, a symptom of upstream throttling
	"undesired output",
}

// ClassifyChat is the chat-path default: unknown failures are assumed
// transient, the attempt bound caps the loop.
func ClassifyChat(errText string) ErrorClass {
	for _, s := range terminalSubstrings {
		if strings.Contains(errText, s) {
			return Terminal
		}
	}
	return Transient
}

// ClassifyCompletion is the completion-path default: only the known
// transient messages are retried, everything else is terminal. The retry
// count on this path is unbounded.
func ClassifyCompletion(errText string) ErrorClass {
	for _, s := range transientSubstrings {
		if strings.Contains(errText, s) {
			return Transient
		}
	}
	return Terminal
}

// RetryPolicy drives the retry loop of one call path. MaxAttempts <= 0 means
// unbounded. Sleep is injectable so tests run without real delays.
type RetryPolicy struct {
	MaxAttempts int
	Wait        time.Duration
	Classify    Classifier
	Sleep       func(time.Duration)
}

func (p RetryPolicy) wait() time.Duration {
	if p.Wait > 0 {
		return p.Wait
	}
	return defaultRetryWait
}

func (p RetryPolicy) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Do runs attempt until it succeeds, fails terminally, or the attempt bound
// is exhausted. Terminal outcomes return nil: the no-result sentinel, never
// an error, so callers keep processing their remaining batches.
func (p RetryPolicy) Do(log *logrus.Entry, attempt func() ([]string, error)) []string {
	var outputs []string
	state := statePending
	retries := 0
	for state == statePending || state == stateRetrying {
		if p.MaxAttempts > 0 && retries > p.MaxAttempts {
			log.WithField("retries", retries).Error("Max retry count exceeded, aborting call")
			state = stateFailed
			break
		}
		out, err := attempt()
		if err == nil {
			outputs = out
			state = stateSucceeded
			break
		}
		errText := strings.ToLower(err.Error())
		if p.Classify(errText) == Terminal {
			log.WithField("error", errText).Error("Unrecoverable error from model endpoint")
			state = stateFailed
			break
		}
		retries++
		retriesTotal.Inc()
		wait := p.wait()
		if hint, ok := waitHint(errText); ok {
			wait = hint
		}
		log.WithFields(logrus.Fields{
			"error":   errText,
			"retries": retries,
			"wait":    wait.String(),
		}).Warn("Transient error from model endpoint, retrying")
		p.sleep(wait)
		state = stateRetrying
	}
	if state != stateSucceeded {
		return nil
	}
	return outputs
}

// waitHintSubstrings are the throttling messages that may carry a genuine
// "retry after N seconds" hint. Other transient messages can embed unrelated
// numbers (the undesired-output error quotes raw model text), so the digit
// scan is confined to this class.
var waitHintSubstrings = []string{
	"rate limit",
	"overloaded",
}

// waitHint extracts a numeric wait, in seconds, embedded in a rate-limit or
// overload message ("retry after 17 seconds").
func waitHint(errText string) (time.Duration, bool) {
	throttled := false
	for _, s := range waitHintSubstrings {
		if strings.Contains(errText, s) {
			throttled = true
			break
		}
	}
	if !throttled {
		return 0, false
	}
	for _, w := range strings.Fields(errText) {
		if n, err := strconv.Atoi(w); err == nil && n > 0 {
			return time.Duration(n) * time.Second, true
		}
	}
	return 0, false
}
