package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/flemzord/insightd/internal/provider"
)

// maxResponseSize is the maximum response body size (10 MB).
// Protects against OOM from malformed or huge responses.
const maxResponseSize = 10 * 1024 * 1024

// buildChatRequest creates an OpenAI API chat request from a provider
// CompletionRequest, merging request-level overrides with config defaults.
func (p *Provider) buildChatRequest(req provider.CompletionRequest) chatRequest {
	cr := chatRequest{
		Model:       p.config.Model,
		Messages:    toMessages(req.Messages),
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
		TopP:        p.config.TopP,
	}
	if req.MaxTokens > 0 {
		cr.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		cr.Temperature = req.Temperature
	}
	if p.config.JSONMode {
		cr.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return cr
}

// do sends an authenticated request and returns the body and status code.
// The response body is limited to maxResponseSize bytes.
func (p *Provider) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("openai: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.config.BaseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("openai: create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, 0, mapConnectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("openai: read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

// Complete sends a completion request and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	body, statusCode, err := p.do(ctx, http.MethodPost, "/chat/completions", p.buildChatRequest(req))
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	if httpErr := mapHTTPError(statusCode, body); httpErr != nil {
		return provider.CompletionResponse{}, httpErr
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("openai: unmarshal response: %w", err)
	}
	return fromResponse(&resp), nil
}

// HealthCheck retrieves the configured model, which checks the key and
// model access without spending tokens.
func (p *Provider) HealthCheck(ctx context.Context) error {
	body, statusCode, err := p.do(ctx, http.MethodGet, "/models/"+url.PathEscape(p.config.Model), nil)
	if err != nil {
		return err
	}
	return mapHTTPError(statusCode, body)
}

// ModelName returns the configured model identifier.
func (p *Provider) ModelName() string {
	return p.config.Model
}
