package llm

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaultPolicies(t *testing.T) {
	client, err := NewClient(&Profile{
		Name:          "p",
		DefaultEngine: "gpt-4-32k",
		APIType:       "azure",
		APIBase:       "https://example.openai.azure.com/",
		APIKey:        "k",
	}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, DefaultChatMaxRetries, client.chatPolicy.MaxAttempts)
	// completion path retries without bound unless overridden
	assert.Equal(t, 0, client.completionPolicy.MaxAttempts)
}

func TestWithRetryPoliciesOverrides(t *testing.T) {
	client, err := NewClient(&Profile{
		Name:          "p",
		DefaultEngine: "gpt-4-32k",
		APIKey:        "k",
	}, logrus.New())
	require.NoError(t, err)

	client = client.WithRetryPolicies(
		RetryPolicy{MaxAttempts: 3, Wait: time.Second, Classify: ClassifyChat},
		RetryPolicy{MaxAttempts: 7, Classify: ClassifyCompletion},
	)

	assert.Equal(t, 3, client.chatPolicy.MaxAttempts)
	assert.Equal(t, time.Second, client.chatPolicy.Wait)
	assert.Equal(t, 7, client.completionPolicy.MaxAttempts)
}

func TestNewClientRequiresEngine(t *testing.T) {
	_, err := NewClient(&Profile{Name: "p", APIKey: "k"}, logrus.New())
	assert.Error(t, err)
}

func TestNewClientAzureRequiresBase(t *testing.T) {
	_, err := NewClient(&Profile{Name: "p", DefaultEngine: "e", APIType: "azure", APIKey: "k"}, logrus.New())
	assert.Error(t, err)
}
