// Package providertest provides test helpers for the provider package.
package providertest

import (
	"context"
	"sync"

	"github.com/flemzord/insightd/internal/provider"
)

// MockProvider is a configurable test double for provider.Provider.
// Set the Func fields to control behavior. Unset funcs panic on call,
// except ModelNameFunc which defaults to "mock-model".
// All methods are safe for concurrent use.
type MockProvider struct {
	CompleteFunc  func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
	ModelNameFunc func() string

	mu            sync.Mutex
	CompleteCalls int
	Requests      []provider.CompletionRequest
}

// Complete delegates to CompleteFunc and records the request.
func (m *MockProvider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls++
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

// ModelName delegates to ModelNameFunc.
func (m *MockProvider) ModelName() string {
	if m.ModelNameFunc == nil {
		return "mock-model"
	}
	return m.ModelNameFunc()
}

// Calls returns the number of Complete calls so far.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CompleteCalls
}

// Text returns a CompleteFunc that always answers with text.
func Text(text string) func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
	return func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
		return provider.CompletionResponse{Content: text, FinishReason: provider.FinishReasonStop}, nil
	}
}

// Interface guard.
var _ provider.Provider = (*MockProvider)(nil)
