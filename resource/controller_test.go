package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Background(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 1})

	require.NoError(t, c.AcquireBackground(context.Background()))
	assert.False(t, c.TryAcquireBackground())

	c.ReleaseBackground()
	assert.True(t, c.TryAcquireBackground())
	c.ReleaseBackground()
}

func TestController_AcquireIOUnlimited(t *testing.T) {
	c := NewController(Config{})

	// No limit configured: any request passes immediately.
	require.NoError(t, c.AcquireIO(context.Background(), 1<<30))

	// A nil controller is a no-op too.
	var nilC *Controller
	require.NoError(t, nilC.AcquireIO(context.Background(), 1024))
}

func TestController_AcquireIOSplitsOversizedRequests(t *testing.T) {
	// Burst equals the per-second limit; a request above it must be
	// split instead of failing.
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	done := make(chan error, 1)
	go func() {
		done <- c.AcquireIO(context.Background(), 3<<20)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("oversized I/O acquisition did not finish")
	}
}

func TestController_AcquireIOCancel(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, c.AcquireIO(ctx, 100))
}
