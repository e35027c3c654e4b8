// Package server runs the authoritative simulation and replicates it to
// clients. One goroutine owns the network and one owns the simulation; they
// share nothing but the World snapshots and the hand-off queues.
package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/queue"
	"github.com/QYUbit/Replica/pkg/replication"
	"github.com/QYUbit/Replica/pkg/resources"
	"github.com/QYUbit/Replica/pkg/tick"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/QYUbit/Replica/pkg/wire"
)

type Options struct {
	Transport transport.Server
	Registry  *replication.Registry
	Resources *resources.Manager
	Logger    netlog.Logger

	ProtocolVersion             uint16
	DisconnectOnVersionMismatch bool

	TickInterval   time.Duration
	PollTimeout    time.Duration
	PollIterations int
	MaxVisible     int
	QueueCapacity  int
	DefaultCamera  Camera

	// World lists the entities present before anyone joins.
	World func() []replication.Entity
	// OnJoin builds the entities a new client controls.
	OnJoin func(id transport.ClientID) []replication.Entity
}

func (o Options) withDefaults() Options {
	o.Logger = netlog.OrNop(o.Logger)
	if o.Resources == nil {
		o.Resources = resources.NewManager(nil)
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 15 * time.Millisecond
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 15 * time.Millisecond
	}
	if o.PollIterations <= 0 {
		o.PollIterations = 50
	}
	if o.MaxVisible <= 0 {
		o.MaxVisible = 15
	}
	o.MaxVisible = min(o.MaxVisible, 256)
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 1024
	}
	if o.DefaultCamera == (Camera{}) {
		o.DefaultCamera = Camera{FOV: 90, AspectRatio: 1}
	}
	return o
}

type inputEvent struct {
	id    wire.ObjectID
	input wire.InputSnapshot
}

type spawnRequest struct {
	id     wire.ObjectID
	entity replication.Entity
}

type Server struct {
	opts Options
	log  netlog.Logger

	world *World
	env   *replication.Env

	// network goroutine
	sessions *sessionManager
	ids      *IDPool

	// simulation goroutine
	lastInputs map[wire.ObjectID]wire.InputSnapshot

	inputs   *queue.SPSC[inputEvent]
	spawns   *queue.SPSC[spawnRequest]
	removals *queue.SPSC[wire.ObjectID]
	released *queue.SPSC[wire.ObjectID]

	running atomic.Bool
	ticks   atomic.Uint64
	wg      sync.WaitGroup
}

func New(opts Options) (*Server, error) {
	if opts.Transport == nil {
		return nil, errors.New("server: transport is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	opts = opts.withDefaults()

	s := &Server{
		opts:       opts,
		log:        opts.Logger.With("component", "server"),
		world:      NewWorld(),
		env:        replication.NewEnv(opts.Resources),
		sessions:   newSessionManager(),
		ids:        NewIDPool(),
		lastInputs: make(map[wire.ObjectID]wire.InputSnapshot),
		inputs:     queue.NewSPSC[inputEvent](opts.QueueCapacity),
		spawns:     queue.NewSPSC[spawnRequest](opts.QueueCapacity),
		removals:   queue.NewSPSC[wire.ObjectID](opts.QueueCapacity),
		released:   queue.NewSPSC[wire.ObjectID](opts.QueueCapacity),
	}

	if opts.World != nil {
		for _, e := range opts.World() {
			id, err := s.ids.Acquire()
			if err != nil {
				return nil, err
			}
			if err := s.spawn(id, e); err != nil {
				return nil, err
			}
		}
		s.world.SwapAndSync()
	}
	return s, nil
}

func (s *Server) World() *World {
	return s.world
}

// Ticks counts completed simulation steps.
func (s *Server) Ticks() uint64 {
	return s.ticks.Load()
}

func (s *Server) Sessions() int {
	return s.sessions.len()
}

// Run drives the network and simulation goroutines until ctx is done. Work
// still queued at shutdown is discarded.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.log.Info("server running", "tick", s.opts.TickInterval, "addr", s.opts.Transport.Addr())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.networkLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.simulationLoop(ctx)
	}()

	<-ctx.Done()
	s.running.Store(false)
	s.wg.Wait()

	s.log.Info("server stopped", "ticks", s.Ticks())
	return s.opts.Transport.Close()
}

// ============================================================
// Simulation goroutine
// ============================================================

func (s *Server) simulationLoop(ctx context.Context) {
	loop := tick.NewLoop(s.opts.TickInterval, func(dt time.Duration) {
		s.step(ctx, dt)
	})
	if err := loop.Run(ctx); err != nil {
		s.log.Error("simulation loop", "error", err)
	}
}

func (s *Server) spawn(id wire.ObjectID, e replication.Entity) error {
	if ru, ok := e.(replication.ResourceUser); ok {
		if err := ru.LoadResources(s.env.Resources, false); err != nil {
			return err
		}
	}
	if su, ok := e.(replication.ServiceUser); ok {
		su.RegisterServices(id, s.env.Services)
	}
	s.world.Model().Put(id, e)
	return nil
}

// step is one simulation tick. Spawns are applied before removals so that a
// client joining and leaving between two ticks leaves nothing behind.
func (s *Server) step(ctx context.Context, dt time.Duration) {
	model := s.world.Model()

	s.spawns.Drain(func(req spawnRequest) {
		if err := s.spawn(req.id, req.entity); err != nil {
			s.log.Error("spawn failed", "object", req.id, "error", err)
			s.released.Push(ctx, req.id)
		}
	})

	var released []wire.ObjectID
	s.removals.Drain(func(id wire.ObjectID) {
		e, ok := model.Get(id)
		if !ok {
			s.log.Debug("removal of unknown object", "object", id)
			return
		}
		if su, ok := e.(replication.ServiceUser); ok {
			su.DeregisterServices(id, s.env.Services)
		}
		model.Delete(id)
		delete(s.lastInputs, id)
		released = append(released, id)
	})

	s.inputs.Drain(func(ev inputEvent) {
		// The owner may have left in the same network pass.
		if _, ok := model.Get(ev.id); !ok {
			return
		}
		s.lastInputs[ev.id] = ev.input
	})

	model.Each(func(id wire.ObjectID, e replication.Entity) {
		if su, ok := e.(replication.ServiceUser); ok {
			su.UpdateServices(id, s.env.Services)
		}
	})
	model.Each(func(id wire.ObjectID, e replication.Entity) {
		e.Update(dt, s.lastInputs[id], s.env)
	})

	s.world.SwapAndSync()
	s.ticks.Add(1)

	for _, id := range released {
		s.released.Push(ctx, id)
	}
}

// ============================================================
// Network goroutine
// ============================================================

func (s *Server) networkLoop(ctx context.Context) {
	for s.running.Load() && ctx.Err() == nil {
		s.pollNetwork(ctx)
		s.releaseRemoved()
		s.broadcast()
	}
}

func (s *Server) pollNetwork(ctx context.Context) {
	s.opts.Transport.ProcessIncoming(
		func(ch transport.Channel, from transport.ClientID, packet []byte) {
			s.handlePacket(ch, from, packet)
		},
		func(id transport.ClientID, connecting bool) {
			if connecting {
				s.handleConnect(ctx, id)
			} else {
				s.handleDisconnect(ctx, id)
			}
		},
		s.opts.PollTimeout,
		s.opts.PollIterations,
	)
}

func (s *Server) handleConnect(ctx context.Context, id transport.ClientID) {
	sess := newSession(id, s.opts.DefaultCamera)
	sess.bindLogger(s.log)
	s.sessions.add(sess)

	if s.opts.OnJoin != nil {
		for _, e := range s.opts.OnJoin(id) {
			objID, err := s.ids.Acquire()
			if err != nil {
				sess.log.Error("cannot spawn for client", "error", err)
				break
			}
			sess.Associate(objID)
			s.spawns.Push(ctx, spawnRequest{id: objID, entity: e})
		}
	}
	sess.log.Info("client joined")
}

func (s *Server) handleDisconnect(ctx context.Context, id transport.ClientID) {
	sess, ok := s.sessions.remove(id)
	if !ok {
		return
	}
	for _, objID := range sess.Associated() {
		s.removals.Push(ctx, objID)
	}
	sess.log.Info("client left", "objects", len(sess.associated))
}

func (s *Server) handlePacket(ch transport.Channel, from transport.ClientID, packet []byte) {
	sess, ok := s.sessions.get(from)
	if !ok {
		s.log.Debug("packet without session", "error", ErrSessionNotFound{ClientID: string(from)})
		return
	}
	if sess.dropped {
		return
	}
	if ch == transport.Reliable {
		s.handleReliable(sess, packet)
	} else {
		s.handleInput(sess, packet)
	}
}

func (s *Server) handleReliable(sess *Session, packet []byte) {
	msg, err := wire.ParseReliable(packet)
	if err != nil {
		sess.log.Warn("malformed reliable message", "error", err)
		return
	}

	switch msg.Type {
	case wire.Handshake:
		if msg.Handshake.ProtocolVersion != s.opts.ProtocolVersion {
			sess.log.Warn("protocol version mismatch",
				"client_version", msg.Handshake.ProtocolVersion,
				"server_version", s.opts.ProtocolVersion)
			if s.opts.DisconnectOnVersionMismatch {
				s.opts.Transport.Disconnect(sess.ID)
			}
			return
		}
		sess.Handshaken = true
		sess.log.Debug("handshake complete")

	case wire.CameraChange:
		sess.Camera = Camera{FOV: msg.Camera.FOV, AspectRatio: msg.Camera.AspectRatio}

	default:
		sess.log.Warn("unexpected message from client", "type", msg.Type)
	}
}

func (s *Server) handleInput(sess *Session, packet []byte) {
	if !sess.Handshaken {
		return
	}
	msg, err := wire.ParseInput(packet)
	if err != nil {
		sess.log.Debug("malformed input", "error", err)
		return
	}
	if !sess.AcceptInput(msg.Counter) {
		sess.log.Debug("stale input dropped", "counter", msg.Counter)
		return
	}
	for _, id := range sess.Associated() {
		if !s.inputs.TryPush(inputEvent{id: id, input: msg.Input}) {
			sess.log.Warn("input queue full")
			return
		}
	}
}

// releaseRemoved tells clients about objects the simulation deleted and
// frees their ids.
func (s *Server) releaseRemoved() {
	s.released.Drain(func(id wire.ObjectID) {
		for _, sess := range s.sessions.all() {
			if sess.forget(id) && !sess.dropped {
				if !s.opts.Transport.WriteReliable(sess.ID, wire.EncodeRemoveObject(id)) {
					s.drop(sess)
				}
			}
		}
		s.ids.Release(id)
	})
}

func (s *Server) broadcast() {
	snap := s.world.Snapshot()

	for _, sess := range s.sessions.all() {
		if !sess.Handshaken || sess.dropped {
			continue
		}

		slot := 0
		for _, id := range visibleSet(sess, snap, s.opts.MaxVisible) {
			e, _ := snap.Get(id)

			if !sess.IsCached(id) {
				typeID, ok := s.opts.Registry.TypeOf(e)
				if !ok {
					s.log.Error("entity type not registered", "object", id)
					continue
				}
				msg := wire.NewObjectMsg{TypeID: typeID, ObjectID: id, Associated: sess.IsAssociated(id)}
				if !s.opts.Transport.WriteReliable(sess.ID, wire.EncodeNewObject(msg, e.ConstructionParams())) {
					s.drop(sess)
					break
				}
				sess.markCached(id)
				continue
			}

			packet, err := wire.EncodeState(wire.StateHeader{BufferSlot: uint8(slot), ObjectID: id}, e.Serialize())
			if err != nil {
				s.log.Error("state too large", "object", id, "error", err)
				continue
			}
			if !s.opts.Transport.WriteUnreliable(sess.ID, packet) {
				sess.log.Debug("state datagram not sent", "object", id, "size", len(packet))
			}
			slot++
		}
	}
}

// drop disconnects a client whose reliable stream failed. The session is
// cleaned up when the transport reports the disconnect.
func (s *Server) drop(sess *Session) {
	if sess.dropped {
		return
	}
	sess.dropped = true
	sess.log.Warn("reliable write failed, disconnecting client")
	s.opts.Transport.Disconnect(sess.ID)
}
