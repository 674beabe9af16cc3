// Package generation ships the text-generation drivers behind
// contracts.GenerationDriver. Every analysis stage and the chat answerer
// call through this boundary; the pipeline never sees provider details.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dealdesk/dealdesk/pkg/contracts"
)

// OpenAIDriver implements contracts.GenerationDriver against OpenAI's chat
// completions API. When a schema hint is present the request asks for a
// JSON object response; callers still validate the decoded shape.
type OpenAIDriver struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// OpenAIOption configures the OpenAI generation driver.
type OpenAIOption func(*OpenAIDriver)

// WithOpenAIEndpoint sets a custom API base URL (e.g. for proxies or
// Azure-compatible gateways).
func WithOpenAIEndpoint(endpoint string) OpenAIOption {
	return func(d *OpenAIDriver) { d.endpoint = endpoint }
}

// NewOpenAIDriver creates an OpenAI generation driver.
func NewOpenAIDriver(apiKey, model string, opts ...OpenAIOption) *OpenAIDriver {
	d := &OpenAIDriver{
		apiKey:   apiKey,
		model:    model,
		endpoint: "https://api.openai.com/v1",
		client:   &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *OpenAIDriver) Kind() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate returns the raw model output for the request.
func (d *OpenAIDriver) Generate(ctx context.Context, req contracts.GenerateRequest) (string, error) {
	system := req.System
	if req.Language != "" {
		system += "\n\nAnswer in " + req.Language + "."
	}
	prompt := req.Prompt
	if req.SchemaHint != "" {
		prompt += "\n\nRespond with a single JSON object matching this shape:\n" + req.SchemaHint
	}

	body := chatRequest{
		Model: d.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}
	if req.SchemaHint != "" {
		body.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai chat API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("openai error: %s (%s)", result.Error.Message, result.Error.Type)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// HealthCheck verifies the API key with a minimal completion.
func (d *OpenAIDriver) HealthCheck(ctx context.Context) error {
	_, err := d.Generate(ctx, contracts.GenerateRequest{Prompt: "ping"})
	return err
}
