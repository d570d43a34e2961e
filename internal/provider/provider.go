// Package provider defines the Provider interface for communicating with
// LLMs, the request and response types shared by backends, and a retrying
// wrapper with exponential backoff.
package provider

import "context"

// Provider is the interface for communicating with an LLM.
// Concrete implementations live in separate packages (e.g., provider.gemini)
// and typically also implement core.Module for lifecycle management.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}

// HealthChecker is an optional interface that providers may implement
// so "insightd config check" can verify the key and model.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
