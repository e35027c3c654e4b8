package client

import (
	"net"
	"sync"
	"time"

	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/render"
	"github.com/QYUbit/Replica/pkg/replication"
	"github.com/QYUbit/Replica/pkg/resources"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/QYUbit/Replica/pkg/wire"
)

type inbound struct {
	ch     transport.Channel
	packet []byte
}

type fakeTransport struct {
	mu         sync.Mutex
	queue      []inbound
	reliable   [][]byte
	unreliable [][]byte
	gone       bool
	closed     bool
}

func (f *fakeTransport) deliver(ch transport.Channel, packet []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, inbound{ch, packet})
}

func (f *fakeTransport) hangUp() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gone = true
}

func (f *fakeTransport) ProcessIncoming(onReceive transport.ClientReceiveFunc, timeout time.Duration, maxIterations int) bool {
	f.mu.Lock()
	batch, gone := f.queue, f.gone
	f.queue = nil
	f.mu.Unlock()

	if gone {
		return false
	}
	if len(batch) == 0 {
		time.Sleep(timeout)
	}
	for _, in := range batch {
		onReceive(in.ch, in.packet)
	}
	return true
}

func (f *fakeTransport) WriteReliable(packet []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reliable = append(f.reliable, packet)
	return true
}

func (f *fakeTransport) WriteUnreliable(packet []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreliable = append(f.unreliable, packet)
	return true
}

func (f *fakeTransport) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sentReliable() []wire.Reliable {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.Reliable
	for _, p := range f.reliable {
		if msg, err := wire.ParseReliable(p); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeTransport) sentInputs() []wire.InputMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.InputMsg
	for _, p := range f.unreliable {
		if msg, err := wire.ParseInput(p); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

type dotParams struct {
	Color uint32
}

type dotState struct {
	Position mathx.Vec3
}

// dot is a point that walks forward while the forward key is held.
type dot struct {
	replication.Replica[dotParams, dotState]
	associated  bool
	registered  int
	deregisters int
}

func newDot(pos mathx.Vec3) *dot {
	return &dot{Replica: replication.NewReplica(dotParams{Color: 0xff0000}, dotState{Position: pos})}
}

func (d *dot) New(params []byte) (replication.Entity, error) {
	p, err := replication.DecodeParams[dotParams](params)
	if err != nil {
		return nil, err
	}
	return &dot{Replica: replication.NewReplica(p, dotState{})}, nil
}

func (d *dot) LoadResources(_ *resources.Manager, associated bool) error {
	d.associated = associated
	return nil
}

func (d *dot) RegisterServices(wire.ObjectID, *replication.Services)   { d.registered++ }
func (d *dot) DeregisterServices(wire.ObjectID, *replication.Services) { d.deregisters++ }
func (d *dot) UpdateServices(wire.ObjectID, *replication.Services)     {}

func (d *dot) Update(dt time.Duration, input wire.InputSnapshot, env *replication.Env) {
	d.Predict(dt, input, env)
}

func (d *dot) Predict(_ time.Duration, input wire.InputSnapshot, _ *replication.Env) {
	if input.Pressed(wire.KeyForward) {
		d.State.Position.Y++
	}
}

func (d *dot) Reconcile() bool { return d.ReconcileWith(nil) }

func (d *dot) Bounds() mathx.Sphere {
	return mathx.Sphere{Center: d.State.Position, Radius: 1}
}

func (d *dot) View() mathx.View {
	return mathx.View{Eye: d.State.Position, Forward: mathx.Forward}
}

func (d *dot) Draw(id wire.ObjectID, f *render.Frame) {
	f.Add(render.DrawCommand{Object: id, Position: d.State.Position, Rotation: mathx.Identity()})
}

func (d *dot) Copy() replication.Entity {
	c := *d
	return &c
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []render.Frame
}

func (r *frameRecorder) Render(f render.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *frameRecorder) last() (render.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return render.Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}
