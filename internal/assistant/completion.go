package assistant

import (
	"context"
	"errors"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn sent to the completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer calls a completion service that answers with a single JSON object.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// CompleteFunc adapts a function to Completer.
type CompleteFunc func(ctx context.Context, messages []Message) (string, error)

// Complete calls f.
func (f CompleteFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// ValidateHistory checks the roles of client-supplied context turns.
func ValidateHistory(history []Message) error {
	for i, m := range history {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("context turn %d: unsupported role %q", i, m.Role)
		}
	}
	return nil
}

// asUpstream maps a deadline or transport failure to *UpstreamError unless it
// already carries one of the taxonomy errors.
func asUpstream(provider string, err error) error {
	var cfg *ConfigurationError
	var up *UpstreamError
	if errors.As(err, &cfg) || errors.As(err, &up) {
		return err
	}
	return &UpstreamError{Provider: provider, Err: err}
}
