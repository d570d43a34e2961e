package openai

import (
	"fmt"
	"os"
	"time"
)

const apiKeyEnv = "OPENAI_API_KEY"

// Config holds the configuration for the OpenAI provider module.
type Config struct {
	// APIKey defaults to $OPENAI_API_KEY.
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	Timeout     string   `yaml:"timeout"`

	// JSONMode asks the API for a JSON object response, which is what the
	// insight refresh expects.
	JSONMode bool `yaml:"json_mode"`
}

// defaults fills zero-valued fields with sensible defaults.
func (c *Config) defaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv(apiKeyEnv)
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Timeout == "" {
		c.Timeout = "60s"
	}
}

// parsedTimeout returns the timeout as a time.Duration.
// Assumes the value has been validated by validateTimeout.
func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// validateTimeout checks that the timeout string is a valid Go duration.
func (c *Config) validateTimeout() error {
	_, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("provider.openai: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}
