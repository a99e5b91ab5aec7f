package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{uri: "gs://bucket/model-outputs/u/a.json", wantBucket: "bucket", wantObject: "model-outputs/u/a.json"},
		{uri: "gs://bucket", wantErr: true},
		{uri: "gs:///obj", wantErr: true},
		{uri: "s3://bucket/obj", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantObject, object)
		})
	}
}

func TestObjectName(t *testing.T) {
	e := &Entry{ID: "abc", UserID: "user-1", CreatedAt: time.Date(2025, 3, 5, 23, 0, 0, 0, time.UTC)}
	assert.Equal(t, "model-outputs/user-1/2025/03/05/abc.json", ObjectName(e))
}

func TestMemory_SaveFetch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	e := &Entry{UserID: "user-1", Message: "gastei 25 em pizza", RawOutput: `{"tipo":"conversa"}`}
	uri, err := m.Save(ctx, e)
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	got, err := m.Fetch(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, e.RawOutput, got.RawOutput)
	assert.Equal(t, e.Message, got.Message)
	assert.Equal(t, 1, m.Len())

	_, err = m.Fetch(ctx, "mem://missing")
	assert.Error(t, err)
}
