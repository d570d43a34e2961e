// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for insightd.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "provider.gemini").
	Modules map[string]yaml.Node `yaml:"modules"`

	// Log controls the process logger.
	Log LogConfig `yaml:"log"`

	// Telemetry configures trace export. Metrics are always collected.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the host:port of an OTLP/HTTP collector.
	// Tracing is disabled when empty.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the reported service name. Defaults to "insightd".
	ServiceName string `yaml:"service_name"`
}
