package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiCompleter calls Gemini through the genai SDK in JSON mode.
type GeminiCompleter struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiCompleter creates a completer. The client is built on first use so
// a missing key surfaces as a ConfigurationError per request.
func NewGeminiCompleter(apiKey, model string) *GeminiCompleter {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiCompleter{apiKey: apiKey, model: model}
}

func (g *GeminiCompleter) getClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g.client = client
	return client, nil
}

// Complete sends messages and returns the text of the first candidate.
func (g *GeminiCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	if g.apiKey == "" {
		return "", &ConfigurationError{Setting: "GEMINI_API_KEY"}
	}

	client, err := g.getClient(ctx)
	if err != nil {
		return "", &UpstreamError{Provider: "gemini", Err: err}
	}

	config := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	var contents []*genai.Content
	for _, m := range messages {
		part := []*genai.Part{{Text: m.Content}}
		switch m.Role {
		case RoleSystem:
			config.SystemInstruction = &genai.Content{Parts: part}
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: part})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: part})
		}
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &UpstreamError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message, Err: err}
		}
		return "", &UpstreamError{Provider: "gemini", Err: err}
	}

	text := resp.Text()
	if text == "" {
		return "", &UpstreamError{Provider: "gemini", Err: errors.New("empty response from model")}
	}
	return text, nil
}

var _ Completer = (*GeminiCompleter)(nil)
