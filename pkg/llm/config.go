package llm

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// defaultContextLength is assumed when a profile omits MAX_CONTEXT_LENGTH.
const defaultContextLength = 8192

// Profile is one named endpoint configuration from the config file. The key
// names match the JSON config shipped alongside the pipeline.
type Profile struct {
	Name               string `json:"-"`
	DefaultEngine      string `json:"DEFAULT_ENGINE"`
	APIType            string `json:"API_TYPE"`
	APIBase            string `json:"OPENAI_API_BASE"`
	APIVersion         string `json:"OPENAI_API_VERSION"`
	APIKey             string `json:"OPENAI_API_KEY"`
	MaxContextLength   int    `json:"MAX_CONTEXT_LENGTH"`
	UseChatCompletions bool   `json:"USE_CHAT_COMPLETIONS"`
}

// LoadProfile reads the endpoint config file and returns the named profile.
// An empty setting is allowed only when the file holds exactly one profile.
// The OPENAI_API_KEY environment variable overrides the file value.
func LoadProfile(configFile, setting string, logger *logrus.Logger) (*Profile, error) {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read endpoint config %s", configFile)
	}

	var profiles map[string]Profile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, errors.Wrapf(err, "failed to parse endpoint config %s", configFile)
	}

	if setting == "" {
		if len(profiles) != 1 {
			return nil, errors.Errorf("config setting not given and %s holds %d profiles", configFile, len(profiles))
		}
		for name := range profiles {
			setting = name
		}
		logger.WithField("config_setting", setting).Warn("No config setting given, using the only profile in the file")
	}

	profile, ok := profiles[setting]
	if !ok {
		return nil, errors.Errorf("config setting %q not found in %s", setting, configFile)
	}
	profile.Name = setting

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		profile.APIKey = key
	}
	if profile.APIKey == "" {
		return nil, errors.Errorf("no OPENAI_API_KEY configured for profile %q", setting)
	}

	if profile.MaxContextLength <= 0 {
		logger.WithFields(logrus.Fields{
			"config_setting": setting,
			"default":        defaultContextLength,
		}).Warn("MAX_CONTEXT_LENGTH missing from profile, using default")
		profile.MaxContextLength = defaultContextLength
	}

	return &profile, nil
}
