package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	// DefaultOpenRouterURL is the chat completions endpoint.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"
	// DefaultOpenRouterModel is used when no model is configured.
	DefaultOpenRouterModel = "openai/gpt-4o-mini"

	maxErrorBody = 64 << 10
)

// OpenRouterCompleter calls an OpenAI-compatible chat completions endpoint.
type OpenRouterCompleter struct {
	APIKey string
	Model  string
	URL    string
	Client *http.Client
}

// NewOpenRouterCompleter creates a completer with default endpoint and model.
func NewOpenRouterCompleter(apiKey, model string) *OpenRouterCompleter {
	if model == "" {
		model = DefaultOpenRouterModel
	}
	return &OpenRouterCompleter{
		APIKey: apiKey,
		Model:  model,
		URL:    DefaultOpenRouterURL,
		Client: http.DefaultClient,
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete posts messages and returns the content of the top choice.
func (o *OpenRouterCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	if o.APIKey == "" {
		return "", &ConfigurationError{Setting: "OPENROUTER_API_KEY"}
	}

	body, err := json.Marshal(chatRequest{
		Model:          o.Model,
		Messages:       messages,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("Complete: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("Complete: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://financinha.app")
	req.Header.Set("X-Title", "Financinha")

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &UpstreamError{Provider: "openrouter", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &UpstreamError{Provider: "openrouter", StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &UpstreamError{Provider: "openrouter", StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &UpstreamError{Provider: "openrouter", StatusCode: resp.StatusCode, Err: errors.New("no choices in response")}
	}
	return parsed.Choices[0].Message.Content, nil
}

var _ Completer = (*OpenRouterCompleter)(nil)
