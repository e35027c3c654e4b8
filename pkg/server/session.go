package server

import (
	"maps"
	"slices"
	"sync"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/QYUbit/Replica/pkg/wire"
	"github.com/google/uuid"
)

type Camera struct {
	FOV         float32
	AspectRatio float32
}

// Session is the server side record of one connected client. It is owned by
// the network goroutine.
type Session struct {
	ID    transport.ClientID
	Token uuid.UUID

	Handshaken bool
	// dropped is set once a write to the client failed; the session only
	// waits for its disconnect event.
	dropped    bool
	Camera     Camera

	associated map[wire.ObjectID]struct{}
	cached     map[wire.ObjectID]struct{}

	lastInput uint8
	hasInput  bool

	log netlog.Logger
}

func newSession(id transport.ClientID, cam Camera) *Session {
	return &Session{
		ID:         id,
		Token:      uuid.New(),
		Camera:     cam,
		associated: make(map[wire.ObjectID]struct{}),
		cached:     make(map[wire.ObjectID]struct{}),
		log:        netlog.Nop(),
	}
}

// bindLogger tags every record about this session with its client id and token.
func (s *Session) bindLogger(l netlog.Logger) {
	s.log = netlog.OrNop(l).With("client", s.ID, "session", s.Token.String())
}

// AcceptInput reports whether an input with this counter is newer than the
// last accepted one. The first input is always accepted.
func (s *Session) AcceptInput(counter uint8) bool {
	if s.hasInput && !wire.IsNewer(s.lastInput, counter) {
		return false
	}
	s.lastInput = counter
	s.hasInput = true
	return true
}

func (s *Session) Associate(id wire.ObjectID) {
	s.associated[id] = struct{}{}
}

func (s *Session) IsAssociated(id wire.ObjectID) bool {
	_, ok := s.associated[id]
	return ok
}

// Associated lists the client's own objects in ascending order.
func (s *Session) Associated() []wire.ObjectID {
	return slices.Sorted(maps.Keys(s.associated))
}

func (s *Session) IsCached(id wire.ObjectID) bool {
	_, ok := s.cached[id]
	return ok
}

func (s *Session) markCached(id wire.ObjectID) {
	s.cached[id] = struct{}{}
}

// forget drops every trace of a removed object and reports whether the client
// had been told about it.
func (s *Session) forget(id wire.ObjectID) bool {
	_, cached := s.cached[id]
	delete(s.cached, id)
	delete(s.associated, id)
	return cached
}

// sessionManager indexes sessions by client id. Writes come from the network
// goroutine; reads may come from anywhere.
type sessionManager struct {
	sessions map[transport.ClientID]*Session
	mu       sync.RWMutex
}

func newSessionManager() *sessionManager {
	return &sessionManager{sessions: make(map[transport.ClientID]*Session)}
}

func (m *sessionManager) add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *sessionManager) get(id transport.ClientID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *sessionManager) remove(id transport.ClientID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return s, ok
}

// all returns the sessions ordered by client id.
func (m *sessionManager) all() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, id := range slices.Sorted(maps.Keys(m.sessions)) {
		out = append(out, m.sessions[id])
	}
	return out
}

func (m *sessionManager) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
