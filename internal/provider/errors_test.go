package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	dnsErr := &net.DNSError{Err: "no such host", Name: "generativelanguage.googleapis.com", IsTimeout: true}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"gemini quota exhausted", StatusError("gemini", 429, "RESOURCE_EXHAUSTED"), true},
		{"gemini overloaded", StatusError("gemini", 503, "The model is overloaded"), true},
		{"openai bad gateway", StatusError("openai", 502, "bad gateway"), true},
		{"dns failure", ConnectionError("gemini", dnsErr), true},
		{"invalid key", StatusError("gemini", 400, "API key not valid"), false},
		{"revoked key", StatusError("openai", 401, "invalid_api_key"), false},
		{"unknown model", StatusError("gemini", 404, "models/gemini-9 is not found"), false},
		{"prompt too long", fmt.Errorf("gemini: %w", ErrContextLength), false},
		{"provider not loaded", fmt.Errorf("cron: insights provider %q: %w", "provider.openai", ErrNoProvider), false},
		{"shutdown", ConnectionError("gemini", context.Canceled), false},
		{"deadline", ConnectionError("openai", context.DeadlineExceeded), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSentinels_AreDistinct(t *testing.T) {
	t.Parallel()

	all := []error{ErrRateLimit, ErrProviderDown, ErrAuth, ErrContextLength, ErrNoProvider}
	for i, a := range all {
		for j, b := range all {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v matches %v", a, b)
			}
		}
	}
}
