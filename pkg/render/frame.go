// Package render carries finished frames from the update goroutine to the
// render goroutine.
package render

import (
	"slices"
	"sync"

	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/resources"
	"github.com/QYUbit/Replica/pkg/wire"
)

type DrawCommand struct {
	Object   wire.ObjectID
	Mesh     resources.ID
	Texture  resources.ID
	Position mathx.Vec3
	Rotation mathx.Quat
}

type Camera struct {
	View        mathx.View
	FOV         float32
	AspectRatio float32
}

type Frame struct {
	Camera Camera
	Draws  []DrawCommand
}

func (f *Frame) Add(cmd DrawCommand) {
	f.Draws = append(f.Draws, cmd)
}

func (f Frame) clone() Frame {
	f.Draws = slices.Clone(f.Draws)
	return f
}

// Renderer consumes frames on the render goroutine.
type Renderer interface {
	Render(f Frame)
}

// DoubleBuffer hands the newest published frame to the reader. The writer
// fills a back frame and swaps it in; readers get a private copy.
type DoubleBuffer struct {
	mu    sync.Mutex
	front Frame
	back  Frame
	seq   uint64
	ready chan struct{}
}

func NewDoubleBuffer() *DoubleBuffer {
	return &DoubleBuffer{ready: make(chan struct{}, 1)}
}

// Back returns the frame to fill for the next Publish, emptied.
func (b *DoubleBuffer) Back() *Frame {
	b.back.Draws = b.back.Draws[:0]
	b.back.Camera = Camera{}
	return &b.back
}

// Publish swaps the back frame to the front. Only the writer calls Back and Publish.
func (b *DoubleBuffer) Publish() {
	b.mu.Lock()
	b.front, b.back = b.back, b.front
	b.seq++
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Read copies the front frame. The sequence number is zero until the first Publish.
func (b *DoubleBuffer) Read() (Frame, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.front.clone(), b.seq
}

// Ready is signaled after each Publish.
func (b *DoubleBuffer) Ready() <-chan struct{} {
	return b.ready
}
