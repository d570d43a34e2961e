package gemini

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/flemzord/insightd/internal/provider"
	"github.com/tidwall/gjson"
)

// mapHTTPError maps a Gemini error response to a provider sentinel error.
// Gemini reports a bad key and an oversized prompt as plain 400s, so the
// message is inspected for those.
func mapHTTPError(statusCode int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = string(body)
	}

	if statusCode == http.StatusBadRequest {
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "api key"):
			return fmt.Errorf("%w: %s", provider.ErrAuth, msg)
		case strings.Contains(lower, "token"):
			return fmt.Errorf("%w: %s", provider.ErrContextLength, msg)
		}
	}
	return provider.StatusError("gemini", statusCode, msg)
}

func mapConnectionError(err error) error {
	return provider.ConnectionError("gemini", err)
}
