package assistant

import (
	"errors"
	"fmt"
)

// ConfigurationError means the completion service cannot be called because a
// required setting, usually the API key, is missing. No request was sent.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("completion service not configured: %s is missing", e.Setting)
}

// UpstreamError means the completion call failed: transport error, non-2xx
// status, deadline, or an unusable response envelope. Body holds the provider's
// error payload for logs and is never shown to users.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s completion failed", e.Provider)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ErrInvalidResponseShape is matched by every *InvalidResponseShapeError.
var ErrInvalidResponseShape = errors.New("invalid response shape")

// InvalidResponseShapeError means the model's output did not parse into one
// of the known action variants.
type InvalidResponseShapeError struct {
	Reason string
	Raw    string
}

func (e *InvalidResponseShapeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidResponseShape, e.Reason)
}

func (e *InvalidResponseShapeError) Is(target error) bool {
	return target == ErrInvalidResponseShape
}

func shapeError(raw, format string, args ...any) error {
	return &InvalidResponseShapeError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}
