package tick

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepMeasuresElapsed(t *testing.T) {
	var got []time.Duration
	l := NewLoop(time.Second, func(dt time.Duration) { got = append(got, dt) })

	start := time.Now()
	l.step(start)
	l.step(start.Add(15 * time.Millisecond))
	l.step(start.Add(40 * time.Millisecond))

	assert.Equal(t, []time.Duration{0, 15 * time.Millisecond, 25 * time.Millisecond}, got)
}

func TestRunUntilCanceled(t *testing.T) {
	var ticks atomic.Int32
	l := NewLoop(time.Millisecond, func(time.Duration) { ticks.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	assert.True(t, l.Running())
	assert.ErrorIs(t, l.Run(ctx), ErrRunning)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, l.Running())
}
