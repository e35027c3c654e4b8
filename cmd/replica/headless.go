package main

import (
	"time"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/render"
	"github.com/QYUbit/Replica/pkg/wire"
)

// wanderInput walks forward while slowly turning, so a headless client
// exercises prediction without a keyboard.
type wanderInput struct {
	frame int32
}

func (w *wanderInput) Poll() wire.InputSnapshot {
	w.frame++
	var in wire.InputSnapshot
	in.Keys[wire.KeyForward] = true
	in.MouseX = w.frame % 628
	return in
}

type logRenderer struct {
	log    netlog.Logger
	last   time.Time
	frames int
}

func newLogRenderer(logger netlog.Logger) *logRenderer {
	return &logRenderer{log: logger.With("component", "render")}
}

// Render reports the frame rate and draw count about once a second.
func (r *logRenderer) Render(f render.Frame) {
	r.frames++
	if time.Since(r.last) < time.Second {
		return
	}
	r.log.Info("frame",
		"fps", r.frames,
		"draws", len(f.Draws),
		"eye", f.Camera.View.Eye.String())
	r.frames = 0
	r.last = time.Now()
}
