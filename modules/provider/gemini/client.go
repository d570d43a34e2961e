package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/flemzord/insightd/internal/provider"
	"github.com/tidwall/gjson"
)

// maxResponseSize is the maximum response body size (10 MB).
// Protects against OOM from malformed or huge responses.
const maxResponseSize = 10 * 1024 * 1024

// --- generateContent request types (unexported, serialization only) ---

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

// buildRequest converts a provider request. System messages become the
// system instruction and assistant turns use the "model" role.
func (p *Provider) buildRequest(req provider.CompletionRequest) generateRequest {
	var gr generateRequest
	for _, m := range req.Messages {
		switch m.Role {
		case provider.MessageRoleSystem:
			if gr.SystemInstruction == nil {
				gr.SystemInstruction = &content{}
			}
			gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, part{Text: m.Content})
		case provider.MessageRoleAssistant:
			gr.Contents = append(gr.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			gr.Contents = append(gr.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}

	gc := generationConfig{
		MaxOutputTokens:  p.config.MaxOutputTokens,
		Temperature:      p.config.Temperature,
		ResponseMIMEType: p.config.ResponseMIMEType,
	}
	// Request-level overrides take precedence over config defaults.
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		gc.Temperature = req.Temperature
	}
	if gc != (generationConfig{}) {
		gr.GenerationConfig = &gc
	}
	return gr
}

// modelURL returns the endpoint for the configured model with an optional
// method suffix such as ":generateContent".
func (p *Provider) modelURL(method string) string {
	return p.config.BaseURL + "/models/" + url.PathEscape(p.config.Model) + method
}

// do sends an authenticated request and returns the body and status code.
// The key travels in a header so it never appears in URL-bearing errors.
func (p *Provider) do(ctx context.Context, method, target string, payload any) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("gemini: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, fmt.Errorf("gemini: create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("x-goog-api-key", p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, 0, mapConnectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("gemini: read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

// Complete sends a generateContent request. The response content is the
// text of the first candidate's first part, or "" when the path is absent.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	body, status, err := p.do(ctx, http.MethodPost, p.modelURL(":generateContent"), p.buildRequest(req))
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	if httpErr := mapHTTPError(status, body); httpErr != nil {
		return provider.CompletionResponse{}, httpErr
	}
	if !gjson.ValidBytes(body) {
		return provider.CompletionResponse{}, fmt.Errorf("gemini: response is not JSON")
	}
	return parseResponse(body), nil
}

// parseResponse extracts content, finish reason, and usage.
func parseResponse(body []byte) provider.CompletionResponse {
	res := gjson.GetManyBytes(body,
		"candidates.0.content.parts.0.text",
		"candidates.0.finishReason",
		"usageMetadata.promptTokenCount",
		"usageMetadata.candidatesTokenCount",
		"usageMetadata.totalTokenCount",
		"promptFeedback.blockReason",
	)

	reason := mapFinishReason(res[1].String())
	if res[5].Exists() {
		reason = provider.FinishReasonFiltering
	}
	return provider.CompletionResponse{
		Content:      res[0].String(),
		FinishReason: reason,
		Usage: provider.TokenUsage{
			PromptTokens:     int(res[2].Int()),
			CompletionTokens: int(res[3].Int()),
			TotalTokens:      int(res[4].Int()),
		},
	}
}

func mapFinishReason(r string) provider.FinishReason {
	switch r {
	case "MAX_TOKENS":
		return provider.FinishReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReasonStop
	}
}

// HealthCheck fetches the model metadata, which validates the key and
// the model name without spending tokens.
func (p *Provider) HealthCheck(ctx context.Context) error {
	body, status, err := p.do(ctx, http.MethodGet, p.modelURL(""), nil)
	if err != nil {
		return err
	}
	return mapHTTPError(status, body)
}

// ModelName returns the configured model identifier.
func (p *Provider) ModelName() string {
	return p.config.Model
}
