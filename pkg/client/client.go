// Package client runs the predicting side of a replicated world: a network
// goroutine fills the inbound queues, the update loop owns the object cache
// and a render goroutine draws the published frames.
package client

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/queue"
	"github.com/QYUbit/Replica/pkg/render"
	"github.com/QYUbit/Replica/pkg/replication"
	"github.com/QYUbit/Replica/pkg/resources"
	"github.com/QYUbit/Replica/pkg/tick"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/QYUbit/Replica/pkg/wire"
	"github.com/kamstrup/intmap"
)

// InputSource samples the local controls once per frame.
type InputSource interface {
	Poll() wire.InputSnapshot
}

type Options struct {
	Transport transport.Client
	Registry  *replication.Registry
	Resources *resources.Manager
	Renderer  render.Renderer
	Input     InputSource
	Logger    netlog.Logger

	ProtocolVersion uint16
	MaxVisible      int
	PollTimeout     time.Duration
	PollIterations  int
	QueueCapacity   int
	FrameInterval   time.Duration
	FOV             float32
	AspectRatio     float32
}

func (o Options) withDefaults() Options {
	o.Logger = netlog.OrNop(o.Logger)
	if o.Resources == nil {
		o.Resources = resources.NewManager(nil)
	}
	if o.MaxVisible <= 0 {
		o.MaxVisible = 15
	}
	o.MaxVisible = min(o.MaxVisible, 256)
	if o.PollTimeout <= 0 {
		o.PollTimeout = 15 * time.Millisecond
	}
	if o.PollIterations <= 0 {
		o.PollIterations = 50
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 1024
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = 16 * time.Millisecond
	}
	if o.FOV <= 0 {
		o.FOV = 90
	}
	if o.AspectRatio <= 0 {
		o.AspectRatio = 16.0 / 9.0
	}
	return o
}

type objectEvent struct {
	remove bool
	msg    wire.NewObjectMsg
	params []byte
}

type stateEvent struct {
	hdr   wire.StateHeader
	state []byte
}

type Client struct {
	opts Options
	log  netlog.Logger

	// update loop
	env        *replication.Env
	cache      *intmap.Map[wire.ObjectID, *replication.Predictor]
	visibility *Visibility
	fov        float32
	aspect     float32

	frames *render.DoubleBuffer

	objects  *queue.SPSC[objectEvent]
	states   *queue.SPSC[stateEvent]
	inputs   *queue.SPSC[wire.InputMsg]
	outgoing *queue.SPSC[[]byte]

	// network goroutine
	counter wire.Counter

	running atomic.Bool
	gone    atomic.Bool
	wg      sync.WaitGroup
}

// New announces the client to the server with a handshake and its camera.
func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("client: transport is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("client: registry is required")
	}
	opts = opts.withDefaults()

	c := &Client{
		opts:       opts,
		log:        opts.Logger.With("component", "client"),
		env:        replication.NewEnv(opts.Resources),
		cache:      intmap.New[wire.ObjectID, *replication.Predictor](opts.MaxVisible),
		visibility: NewVisibility(opts.MaxVisible),
		fov:        opts.FOV,
		aspect:     opts.AspectRatio,
		frames:     render.NewDoubleBuffer(),
		objects:    queue.NewSPSC[objectEvent](opts.QueueCapacity),
		states:     queue.NewSPSC[stateEvent](opts.QueueCapacity),
		inputs:     queue.NewSPSC[wire.InputMsg](opts.QueueCapacity),
		outgoing:   queue.NewSPSC[[]byte](opts.QueueCapacity),
	}

	if !opts.Transport.WriteReliable(wire.EncodeHandshake(opts.ProtocolVersion)) {
		return nil, transport.ErrPeerGone
	}
	if !opts.Transport.WriteReliable(wire.EncodeCameraChange(c.fov, c.aspect)) {
		return nil, transport.ErrPeerGone
	}
	return c, nil
}

func (c *Client) Visibility() *Visibility {
	return c.visibility
}

func (c *Client) Frames() *render.DoubleBuffer {
	return c.frames
}

// Cached reports whether the object has been instantiated locally.
func (c *Client) Cached(id wire.ObjectID) (*replication.Predictor, bool) {
	return c.cache.Get(id)
}

func (c *Client) CacheLen() int {
	return c.cache.Len()
}

// SetCamera changes the projection and tells the server, which culls with it.
// It belongs to the update loop.
func (c *Client) SetCamera(fov, aspect float32) {
	c.fov, c.aspect = fov, aspect
	if !c.outgoing.TryPush(wire.EncodeCameraChange(fov, aspect)) {
		c.log.Warn("outgoing queue full, camera change dropped")
	}
}

// Run drives the network and render goroutines and runs the update loop on the
// calling goroutine. It returns ErrServerGone when the server went away.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.networkLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.renderLoop(ctx)
	}()

	c.updateLoop(ctx)

	c.running.Store(false)
	cancel()
	c.wg.Wait()

	if err := c.opts.Transport.Close(); err != nil {
		c.log.Debug("closing transport", "error", err)
	}
	if c.gone.Load() {
		return ErrServerGone
	}
	return nil
}

// ============================================================
// Update loop
// ============================================================

func (c *Client) updateLoop(ctx context.Context) {
	loop := tick.NewLoop(c.opts.FrameInterval, func(dt time.Duration) {
		var input wire.InputSnapshot
		if c.opts.Input != nil {
			input = c.opts.Input.Poll()
		}
		c.Frame(dt, input)
	})
	if err := loop.Run(ctx); err != nil {
		c.log.Error("update loop", "error", err)
	}
}

// Frame is one pass of the update loop: it forwards input, applies everything
// the network goroutine received, predicts the visible objects and publishes
// a frame for the renderer.
func (c *Client) Frame(dt time.Duration, input wire.InputSnapshot) {
	ms := min(dt.Milliseconds(), math.MaxUint16)
	if !c.inputs.TryPush(wire.InputMsg{FrameMillis: uint16(ms), Input: input}) {
		c.log.Debug("input queue full")
	}

	c.objects.Drain(c.applyObject)
	c.states.Drain(c.applyState)

	visible := c.visibility.IDs()
	for _, id := range visible {
		p, ok := c.cache.Get(id)
		if !ok {
			continue
		}
		if su, ok := p.Entity().(replication.ServiceUser); ok {
			su.UpdateServices(id, c.env.Services)
		}
	}
	for _, id := range visible {
		p, ok := c.cache.Get(id)
		if !ok {
			continue
		}
		if err := p.Step(dt, input, c.env); err != nil {
			c.log.Warn("prediction failed", "object", id, "error", err)
		}
	}

	c.publish(visible)
}

func (c *Client) applyObject(ev objectEvent) {
	if ev.remove {
		c.removeObject(ev.msg.ObjectID)
		return
	}

	id := ev.msg.ObjectID
	if _, ok := c.cache.Get(id); ok {
		c.log.Warn("object announced twice, replacing", "object", id)
		c.removeObject(id)
	}

	e, err := c.opts.Registry.Instantiate(ev.msg.TypeID, ev.params)
	if err != nil {
		c.log.Warn("cannot instantiate object", "object", id, "type", ev.msg.TypeID, "error", err)
		return
	}
	if ru, ok := e.(replication.ResourceUser); ok {
		if err := ru.LoadResources(c.env.Resources, ev.msg.Associated); err != nil {
			c.log.Error("loading resources", "object", id, "error", err)
		}
	}
	if su, ok := e.(replication.ServiceUser); ok {
		su.RegisterServices(id, c.env.Services)
	}
	c.cache.Put(id, replication.NewPredictor(id, e, ev.msg.Associated))
	c.log.Debug("object created", "object", id, "type", ev.msg.TypeID, "associated", ev.msg.Associated)
}

func (c *Client) removeObject(id wire.ObjectID) {
	p, ok := c.cache.Get(id)
	if !ok {
		c.log.Debug("removal of unknown object", "object", id)
		return
	}
	p.Remove(c.env)
	c.cache.Del(id)
	c.visibility.Clear(id)
}

func (c *Client) applyState(ev stateEvent) {
	p, ok := c.cache.Get(ev.hdr.ObjectID)
	if !ok {
		// NEW_OBJECT may still be in flight.
		return
	}
	if err := c.visibility.Set(ev.hdr.BufferSlot, ev.hdr.ObjectID); err != nil {
		c.log.Error("state dropped", "object", ev.hdr.ObjectID, "error", err)
		return
	}
	if err := p.Apply(ev.state); err != nil {
		c.log.Warn("cannot apply state", "object", ev.hdr.ObjectID, "error", err)
	}
}

func (c *Client) publish(visible []wire.ObjectID) {
	f := c.frames.Back()
	f.Camera = render.Camera{FOV: c.fov, AspectRatio: c.aspect}

	var hasView bool
	for _, id := range visible {
		p, ok := c.cache.Get(id)
		if !ok {
			continue
		}
		if v, ok := p.Entity().(replication.Viewer); ok && p.Associated() && !hasView {
			f.Camera.View = v.View()
			hasView = true
		}
		if d, ok := p.Entity().(replication.Drawable); ok {
			d.Draw(id, f)
		}
	}
	c.frames.Publish()
}

// ============================================================
// Network goroutine
// ============================================================

func (c *Client) networkLoop(ctx context.Context) {
	for c.running.Load() && ctx.Err() == nil {
		alive := c.opts.Transport.ProcessIncoming(
			func(ch transport.Channel, packet []byte) {
				c.handlePacket(ctx, ch, packet)
			},
			c.opts.PollTimeout,
			c.opts.PollIterations,
		)
		if !alive {
			c.gone.Store(true)
			c.log.Info("server went away")
			return
		}
		c.flush()
	}
}

func (c *Client) flush() {
	c.outgoing.Drain(func(packet []byte) {
		c.opts.Transport.WriteReliable(packet)
	})
	c.inputs.Drain(func(msg wire.InputMsg) {
		msg.Counter = c.counter.Next()
		c.opts.Transport.WriteUnreliable(wire.EncodeInput(msg))
	})
}

func (c *Client) handlePacket(ctx context.Context, ch transport.Channel, packet []byte) {
	if ch == transport.Unreliable {
		hdr, state, err := wire.ParseState(packet)
		if err != nil {
			c.log.Debug("malformed state", "error", err)
			return
		}
		if !c.states.TryPush(stateEvent{hdr: hdr, state: slices.Clone(state)}) {
			c.log.Debug("state queue full", "object", hdr.ObjectID)
		}
		return
	}

	msg, err := wire.ParseReliable(packet)
	if err != nil {
		c.log.Warn("malformed reliable message", "error", err)
		return
	}
	switch msg.Type {
	case wire.NewObject:
		c.objects.Push(ctx, objectEvent{msg: msg.NewObject, params: slices.Clone(msg.Params)})
	case wire.RemoveObject:
		c.objects.Push(ctx, objectEvent{remove: true, msg: wire.NewObjectMsg{ObjectID: msg.Remove.ObjectID}})
	default:
		c.log.Warn("unexpected message from server", "type", msg.Type)
	}
}

// ============================================================
// Render goroutine
// ============================================================

func (c *Client) renderLoop(ctx context.Context) {
	var drawn uint64
	for c.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-c.frames.Ready():
			f, seq := c.frames.Read()
			if seq == drawn || c.opts.Renderer == nil {
				continue
			}
			drawn = seq
			c.opts.Renderer.Render(f)
		}
	}
}
