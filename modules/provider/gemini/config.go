package gemini

import (
	"fmt"
	"os"
	"time"
)

const (
	defaultModel   = "gemini-2.5-flash-preview-09-2025"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	apiKeyEnv      = "GEMINI_API_KEY"
)

// Config holds the configuration for the Gemini provider module.
type Config struct {
	// APIKey defaults to $GEMINI_API_KEY.
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`

	// Generation settings; zero values leave the API defaults.
	MaxOutputTokens  int      `yaml:"max_output_tokens"`
	Temperature      *float64 `yaml:"temperature"`
	ResponseMIMEType string   `yaml:"response_mime_type"`
}

// defaults fills zero-valued fields with sensible defaults.
func (c *Config) defaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv(apiKeyEnv)
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
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
		return fmt.Errorf("provider.gemini: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}
