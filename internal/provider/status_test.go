package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status  int
		want    error
		wantMsg string
	}{
		{200, nil, ""},
		{204, nil, ""},
		{429, ErrRateLimit, "slow down"},
		{401, ErrAuth, "slow down"},
		{403, ErrAuth, "slow down"},
		{500, ErrProviderDown, "slow down"},
		{503, ErrProviderDown, "slow down"},
		{404, nil, "acme: HTTP 404: slow down"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			t.Parallel()
			err := StatusError("acme", tt.status, "slow down")
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("StatusError(%d) = %v, want nil", tt.status, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("StatusError(%d) = nil", tt.status)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("StatusError(%d) = %v, want %v", tt.status, err, tt.want)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("message %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestConnectionError(t *testing.T) {
	t.Parallel()

	if ConnectionError("acme", nil) != nil {
		t.Error("nil error should map to nil")
	}
	if err := ConnectionError("acme", context.Canceled); err != context.Canceled {
		t.Errorf("context.Canceled = %v, want unchanged", err)
	}

	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	err := ConnectionError("acme", netErr)
	if !errors.Is(err, ErrProviderDown) || !IsRetryable(err) {
		t.Errorf("net error = %v, want retryable ErrProviderDown", err)
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Error("original net error should stay reachable")
	}

	err = ConnectionError("acme", errors.New("bad url"))
	if IsRetryable(err) || !strings.HasPrefix(err.Error(), "acme: ") {
		t.Errorf("other error = %v, want non-retryable acme-prefixed error", err)
	}
}
