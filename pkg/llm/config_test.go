package llm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aoai_config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeConfig(t, `{
		"gpt-4-32k": {
			"DEFAULT_ENGINE": "gpt-4-32k",
			"API_TYPE": "azure",
			"OPENAI_API_BASE": "https://example.openai.azure.com/",
			"OPENAI_API_VERSION": "2024-02-01",
			"OPENAI_API_KEY": "file-key",
			"MAX_CONTEXT_LENGTH": 32768,
			"USE_CHAT_COMPLETIONS": true
		}
	}`)
	t.Setenv("OPENAI_API_KEY", "")

	profile, err := LoadProfile(path, "gpt-4-32k", logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-32k", profile.Name)
	assert.Equal(t, "gpt-4-32k", profile.DefaultEngine)
	assert.Equal(t, "file-key", profile.APIKey)
	assert.Equal(t, 32768, profile.MaxContextLength)
	assert.True(t, profile.UseChatCompletions)
}

func TestLoadProfileEnvKeyOverride(t *testing.T) {
	path := writeConfig(t, `{"p": {"DEFAULT_ENGINE": "e", "OPENAI_API_KEY": "file-key"}}`)
	t.Setenv("OPENAI_API_KEY", "env-key")

	profile, err := LoadProfile(path, "p", logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "env-key", profile.APIKey)
}

func TestLoadProfileDefaultContextLength(t *testing.T) {
	path := writeConfig(t, `{"p": {"DEFAULT_ENGINE": "e", "OPENAI_API_KEY": "k"}}`)

	profile, err := LoadProfile(path, "p", logrus.New())
	require.NoError(t, err)
	assert.Equal(t, defaultContextLength, profile.MaxContextLength)
}

func TestLoadProfileEmptySettingSingleProfile(t *testing.T) {
	path := writeConfig(t, `{"only": {"DEFAULT_ENGINE": "e", "OPENAI_API_KEY": "k"}}`)

	profile, err := LoadProfile(path, "", logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "only", profile.Name)
}

func TestLoadProfileErrors(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, `{"a": {"DEFAULT_ENGINE": "e", "OPENAI_API_KEY": "k"}, "b": {"DEFAULT_ENGINE": "e", "OPENAI_API_KEY": "k"}}`)

	_, err := LoadProfile(path, "", logrus.New())
	assert.Error(t, err)

	_, err = LoadProfile(path, "missing", logrus.New())
	assert.Error(t, err)

	noKey := writeConfig(t, `{"p": {"DEFAULT_ENGINE": "e"}}`)
	_, err = LoadProfile(noKey, "p", logrus.New())
	assert.Error(t, err)
}
