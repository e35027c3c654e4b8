// Package tick runs fixed-rate loops.
package tick

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var ErrRunning = errors.New("tick loop is already running")

// Loop calls onTick at a fixed rate with the time elapsed since the previous
// call. The first call sees a zero dt. onTick runs on the goroutine that
// called Run, so a slow step delays the next one instead of overlapping it.
type Loop struct {
	interval time.Duration
	lastTick time.Time
	onTick   func(dt time.Duration)
	running  atomic.Bool
}

func NewLoop(interval time.Duration, onTick func(dt time.Duration)) *Loop {
	if onTick == nil {
		onTick = func(time.Duration) {}
	}
	return &Loop{interval: interval, onTick: onTick}
}

// Run blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)

	t := time.NewTicker(l.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			l.step(now)
		}
	}
}

func (l *Loop) Running() bool {
	return l.running.Load()
}

func (l *Loop) step(now time.Time) {
	var dt time.Duration
	if !l.lastTick.IsZero() {
		dt = now.Sub(l.lastTick)
	}
	l.lastTick = now

	l.onTick(dt)
}
