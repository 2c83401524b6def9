package queryengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_GrowsTowardTheCap(t *testing.T) {
	t.Parallel()

	b := newBackoff(time.Millisecond, 4*time.Millisecond)
	for i := 0; i < 10; i++ {
		require.NoError(t, b.wait(context.Background(), 0))
		assert.LessOrEqual(t, b.duration, 4*time.Millisecond)
		assert.GreaterOrEqual(t, b.duration, time.Millisecond)
	}
	assert.Equal(t, 10, b.attempts)
}

func TestBackoff_CapBelowMinimum_DoesNotPanic(t *testing.T) {
	t.Parallel()

	// A cap under a third of the minimum makes the jitter span non-positive
	// once the delay is clamped; the span must floor at one.
	b := newBackoff(9*time.Millisecond, 2*time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.wait(context.Background(), 0))
	}
}

func TestConfig_WithDefaults_RaisesMaxBackoffToMin(t *testing.T) {
	t.Parallel()

	cfg := Config{MinBackoff: time.Second, MaxBackoff: time.Millisecond}.withDefaults()
	assert.Equal(t, time.Second, cfg.MaxBackoff)
}
