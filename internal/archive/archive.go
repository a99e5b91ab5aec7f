// Package archive keeps the raw output of every completion call so a
// misparsed answer can be inspected later.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one archived model output.
type Entry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	Message    string    `json:"message"`
	RawOutput  string    `json:"raw_output"`
	ParseError string    `json:"parse_error,omitempty"`
}

// Archive stores and fetches entries by URI.
type Archive interface {
	Save(ctx context.Context, e *Entry) (string, error)
	Fetch(ctx context.Context, uri string) (*Entry, error)
}

// Prepare fills in a missing ID and timestamp.
func Prepare(e *Entry, now time.Time) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
}

// ObjectName is where e is stored inside a bucket:
// model-outputs/<user>/<yyyy>/<mm>/<dd>/<id>.json
func ObjectName(e *Entry) string {
	t := e.CreatedAt.UTC()
	return path.Join("model-outputs", e.UserID,
		fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())), fmt.Sprintf("%02d", t.Day()),
		e.ID+".json")
}

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// Memory keeps entries in process, addressed as mem://<object>.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewMemory creates an empty in-process archive.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Save(ctx context.Context, e *Entry) (string, error) {
	Prepare(e, time.Now())
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("Save: %w", err)
	}
	uri := "mem://" + ObjectName(e)
	m.mu.Lock()
	m.entries[uri] = data
	m.mu.Unlock()
	return uri, nil
}

func (m *Memory) Fetch(ctx context.Context, uri string) (*Entry, error) {
	m.mu.Lock()
	data, ok := m.entries[uri]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("Fetch: %s not found", uri)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}
	return &e, nil
}

// Len reports how many entries are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Archive = (*Memory)(nil)
