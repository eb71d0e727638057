package llm

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := RetryPolicy{Classify: ClassifyChat, Sleep: func(time.Duration) {}}
	out := p.Do(testLog(), func() ([]string, error) {
		return []string{"Answer:\nok"}, nil
	})
	assert.Equal(t, []string{"Answer:\nok"}, out)
}

func TestDoTerminalNoRetry(t *testing.T) {
	attempts := 0
	var slept []time.Duration
	p := RetryPolicy{
		MaxAttempts: DefaultChatMaxRetries,
		Classify:    ClassifyChat,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	}
	out := p.Do(testLog(), func() ([]string, error) {
		attempts++
		return nil, errors.New("The response was filtered. Please modify your prompt and retry.")
	})
	assert.Nil(t, out)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, slept)
}

func TestDoTransientThenSuccess(t *testing.T) {
	attempts := 0
	var slept []time.Duration
	p := RetryPolicy{
		MaxAttempts: DefaultChatMaxRetries,
		Classify:    ClassifyChat,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	}
	out := p.Do(testLog(), func() ([]string, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("rate limit exceeded, retry after 17 seconds")
		}
		return []string{"Answer:\nok"}, nil
	})
	require.NotNil(t, out)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{17 * time.Second, 17 * time.Second}, slept)
}

func TestDoDefaultWaitWithoutHint(t *testing.T) {
	attempts := 0
	var slept []time.Duration
	p := RetryPolicy{
		MaxAttempts: DefaultChatMaxRetries,
		Classify:    ClassifyChat,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	}
	p.Do(testLog(), func() ([]string, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("no healthy upstream")
		}
		return []string{"ok"}, nil
	})
	assert.Equal(t, []time.Duration{defaultRetryWait}, slept)
}

func TestDoExhaustsAttemptBound(t *testing.T) {
	attempts := 0
	p := RetryPolicy{
		MaxAttempts: 3,
		Classify:    ClassifyChat,
		Sleep:       func(time.Duration) {},
	}
	out := p.Do(testLog(), func() ([]string, error) {
		attempts++
		return nil, errors.New("server is overloaded")
	})
	assert.Nil(t, out)
	assert.Equal(t, 4, attempts)
}

func TestClassifyChat(t *testing.T) {
	assert.Equal(t, Terminal, ClassifyChat("please reduce the length of the messages"))
	assert.Equal(t, Terminal, ClassifyChat("401 unauthorized"))
	assert.Equal(t, Terminal, ClassifyChat("invalid subscription key"))
	assert.Equal(t, Transient, ClassifyChat("rate limit exceeded"))
	// unknown errors stay retryable on the chat path
	assert.Equal(t, Transient, ClassifyChat("something never seen before"))
}

func TestClassifyCompletion(t *testing.T) {
	assert.Equal(t, Transient, ClassifyCompletion("error communicating with openai"))
	assert.Equal(t, Transient, ClassifyCompletion("undesired output, resending current request"))
	// unknown errors are terminal on the completion path
	assert.Equal(t, Terminal, ClassifyCompletion("something never seen before"))
}

func TestWaitHint(t *testing.T) {
	d, ok := waitHint("rate limit exceeded, retry after 42 seconds")
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, d)

	d, ok = waitHint("server is overloaded, retry in 30 seconds")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	_, ok = waitHint("rate limit exceeded")
	assert.False(t, ok)

	// numbers outside the throttling message class are not wait hints
	_, ok = waitHint(`undesired output, resending current request: "(0). the patient walked 3600 steps."`)
	assert.False(t, ok)
}

func TestDoIgnoresNumbersInQuotedModelOutput(t *testing.T) {
	attempts := 0
	var slept []time.Duration
	p := RetryPolicy{
		MaxAttempts: DefaultChatMaxRetries,
		Classify:    ClassifyChat,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	}
	out := p.Do(testLog(), func() ([]string, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New(`undesired output, resending current request: "(0). The patient walked 3600 steps."`)
		}
		return []string{"Answer:\nok"}, nil
	})
	require.NotNil(t, out)
	assert.Equal(t, []time.Duration{defaultRetryWait}, slept)
}

func TestCertifiedOutputPrefix(t *testing.T) {
	assert.True(t, CertifiedOutputPrefix("Answer:\n(0). claim [c]"))
	assert.False(t, CertifiedOutputPrefix("(0). claim [c]"))
	assert.False(t, CertifiedOutputPrefix("Answer: inline without newline"))
}
