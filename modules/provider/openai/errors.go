package openai

import (
	"fmt"
	"net/http"

	"github.com/flemzord/insightd/internal/provider"
	"github.com/tidwall/gjson"
)

// mapHTTPError maps an OpenAI error response to a provider sentinel error.
// The error code distinguishes an oversized prompt from other 400s.
func mapHTTPError(statusCode int, body []byte) error {
	fields := gjson.GetManyBytes(body, "error.message", "error.code")
	msg := fields[0].String()
	if msg == "" {
		msg = string(body)
	}

	if statusCode == http.StatusBadRequest && fields[1].String() == "context_length_exceeded" {
		return fmt.Errorf("%w: %s", provider.ErrContextLength, msg)
	}
	return provider.StatusError("openai", statusCode, msg)
}

func mapConnectionError(err error) error {
	return provider.ConnectionError("openai", err)
}
