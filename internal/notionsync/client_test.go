package notionsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotionClient_WaitSpacesRequests(t *testing.T) {
	n := &NotionClient{interval: 20 * time.Millisecond}
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, n.wait(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestNotionClient_WaitHonoursContext(t *testing.T) {
	n := &NotionClient{interval: time.Hour}
	require.NoError(t, n.wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.wait(ctx), context.Canceled)
}
