package main

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackfillOptions(t *testing.T) {
	opts, err := backfillOptions("", "", true)
	require.NoError(t, err)
	assert.Nil(t, opts.From)
	assert.Nil(t, opts.To)
	assert.True(t, opts.DryRun)

	opts, err = backfillOptions("2025-01-01", "2025-01-31", false)
	require.NoError(t, err)
	assert.Equal(t, civil.Date{Year: 2025, Month: 1, Day: 1}, *opts.From)
	assert.Equal(t, civil.Date{Year: 2025, Month: 1, Day: 31}, *opts.To)

	opts, err = backfillOptions("2025-02-01", "", false)
	require.NoError(t, err)
	assert.NotNil(t, opts.From)
	assert.Nil(t, opts.To)

	tests := []struct {
		name, start, end string
	}{
		{"bad start", "01/02/2025", ""},
		{"bad end", "", "2025-13-01"},
		{"reversed", "2025-02-01", "2025-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := backfillOptions(tt.start, tt.end, false)
			assert.Error(t, err)
		})
	}
}
