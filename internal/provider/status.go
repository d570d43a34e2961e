package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// StatusError maps a non-2xx HTTP status to a sentinel error, wrapping msg.
// Statuses without a sentinel are reported as "<backend>: HTTP <code>".
// Returns nil for 2xx.
func StatusError(backend string, status int, msg string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimit, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, msg)
	case status >= 500:
		return fmt.Errorf("%w: %s", ErrProviderDown, msg)
	default:
		return fmt.Errorf("%s: HTTP %d: %s", backend, status, msg)
	}
}

// ConnectionError maps a transport failure. Network errors become
// ErrProviderDown; context errors pass through unchanged.
func ConnectionError(backend string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrProviderDown, err)
	}
	return fmt.Errorf("%s: %w", backend, err)
}
