package server

import (
	"net"
	"sync"
	"time"

	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/replication"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/QYUbit/Replica/pkg/wire"
)

// ============================================================
// Fake transport
// ============================================================

type fakeEvent struct {
	conn       bool
	connecting bool
	ch         transport.Channel
	from       transport.ClientID
	packet     []byte
}

type fakeTransport struct {
	mu           sync.Mutex
	queue        []fakeEvent
	reliable     map[transport.ClientID][][]byte
	unreliable   map[transport.ClientID][][]byte
	disconnected []transport.ClientID
	closed       bool

	// failing clients get false from WriteReliable.
	failing map[transport.ClientID]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reliable:   make(map[transport.ClientID][][]byte),
		unreliable: make(map[transport.ClientID][][]byte),
		failing:    make(map[transport.ClientID]bool),
	}
}

func (f *fakeTransport) fail(id transport.ClientID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[id] = true
}

func (f *fakeTransport) connect(id transport.ClientID) {
	f.push(fakeEvent{conn: true, connecting: true, from: id})
}

func (f *fakeTransport) leave(id transport.ClientID) {
	f.push(fakeEvent{conn: true, from: id})
}

func (f *fakeTransport) send(ch transport.Channel, from transport.ClientID, packet []byte) {
	f.push(fakeEvent{ch: ch, from: from, packet: packet})
}

func (f *fakeTransport) push(ev fakeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, ev)
}

func (f *fakeTransport) ProcessIncoming(onReceive transport.ReceiveFunc, onConn transport.ConnectionFunc, timeout time.Duration, maxIterations int) {
	f.mu.Lock()
	events := f.queue
	f.queue = nil
	f.mu.Unlock()

	if len(events) == 0 {
		time.Sleep(timeout)
		return
	}
	for _, ev := range events {
		if ev.conn {
			onConn(ev.from, ev.connecting)
		} else {
			onReceive(ev.ch, ev.from, ev.packet)
		}
	}
}

func (f *fakeTransport) WriteReliable(id transport.ClientID, packet []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[id] {
		return false
	}
	f.reliable[id] = append(f.reliable[id], packet)
	return true
}

func (f *fakeTransport) WriteUnreliable(id transport.ClientID, packet []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreliable[id] = append(f.unreliable[id], packet)
	return true
}

// Disconnect is reported back through ProcessIncoming like the real backends do.
func (f *fakeTransport) Disconnect(id transport.ClientID) {
	f.mu.Lock()
	f.disconnected = append(f.disconnected, id)
	f.mu.Unlock()
	f.leave(id)
}

func (f *fakeTransport) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7777}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) reliableTo(id transport.ClientID) []wire.Reliable {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.Reliable
	for _, p := range f.reliable[id] {
		msg, err := wire.ParseReliable(p)
		if err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeTransport) statesTo(id transport.ClientID) []wire.StateHeader {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.StateHeader
	for _, p := range f.unreliable[id] {
		hdr, _, err := wire.ParseState(p)
		if err == nil {
			out = append(out, hdr)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.reliable)
	clear(f.unreliable)
}

// ============================================================
// Marker entity
// ============================================================

type markerParams struct {
	Tag uint8
}

type markerState struct {
	Position mathx.Vec3
	Ticks    uint32
	Forward  bool
}

type marker struct {
	replication.Replica[markerParams, markerState]
	onDeregister func(id wire.ObjectID)
}

func newMarker(pos mathx.Vec3) *marker {
	return &marker{Replica: replication.NewReplica(markerParams{}, markerState{Position: pos})}
}

func (m *marker) New(params []byte) (replication.Entity, error) {
	p, err := replication.DecodeParams[markerParams](params)
	if err != nil {
		return nil, err
	}
	return &marker{Replica: replication.NewReplica(p, markerState{})}, nil
}

func (m *marker) Update(dt time.Duration, input wire.InputSnapshot, env *replication.Env) {
	m.State.Ticks++
	m.State.Forward = input.Pressed(wire.KeyForward)
}

func (m *marker) Predict(time.Duration, wire.InputSnapshot, *replication.Env) {}

func (m *marker) Reconcile() bool { return m.ReconcileWith(nil) }

func (m *marker) Bounds() mathx.Sphere {
	return mathx.Sphere{Center: m.State.Position, Radius: 0.5}
}

func (m *marker) Copy() replication.Entity {
	c := *m
	return &c
}

func (m *marker) RegisterServices(wire.ObjectID, *replication.Services) {}
func (m *marker) UpdateServices(wire.ObjectID, *replication.Services)   {}

func (m *marker) DeregisterServices(id wire.ObjectID, _ *replication.Services) {
	if m.onDeregister != nil {
		m.onDeregister(id)
	}
}

// viewMarker looks down +Y from its position.
type viewMarker struct{ marker }

func newViewMarker(pos mathx.Vec3) *viewMarker {
	return &viewMarker{marker: *newMarker(pos)}
}

func (v *viewMarker) New(params []byte) (replication.Entity, error) {
	return &viewMarker{}, nil
}

func (v *viewMarker) Copy() replication.Entity {
	c := *v
	return &c
}

func (v *viewMarker) View() mathx.View {
	return mathx.View{Eye: v.State.Position, Forward: mathx.Forward}
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
