package server

import (
	"slices"
	"sync"

	"github.com/QYUbit/Replica/pkg/replication"
	"github.com/QYUbit/Replica/pkg/wire"
	"github.com/kamstrup/intmap"
)

type entityMap = intmap.Map[wire.ObjectID, replication.Entity]

// World double-buffers the entity set. The simulation goroutine owns the
// writable model; the network goroutine reads published snapshots. A published
// map is never written again.
type World struct {
	mu    sync.Mutex
	read  *entityMap
	write *entityMap
}

func NewWorld() *World {
	return &World{
		read:  intmap.New[wire.ObjectID, replication.Entity](0),
		write: intmap.New[wire.ObjectID, replication.Entity](0),
	}
}

// Snapshot returns the latest published state.
func (w *World) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{m: w.read}
}

// Model returns the writable model. Only the simulation goroutine may use it.
func (w *World) Model() Model {
	return Model{m: w.write}
}

// SwapAndSync publishes the writable model and continues from a deep copy of it.
func (w *World) SwapAndSync() {
	w.mu.Lock()
	w.read, w.write = w.write, nil
	published := w.read
	w.mu.Unlock()

	next := intmap.New[wire.ObjectID, replication.Entity](published.Len())
	published.ForEach(func(id wire.ObjectID, e replication.Entity) bool {
		next.Put(id, e.Copy())
		return true
	})
	w.write = next
}

// Snapshot is a read-only view of a published entity set.
type Snapshot struct {
	m *entityMap
}

func (s Snapshot) Get(id wire.ObjectID) (replication.Entity, bool) {
	return s.m.Get(id)
}

func (s Snapshot) Len() int {
	return s.m.Len()
}

// ForEach visits entities until fn returns false. Entities must not be modified.
func (s Snapshot) ForEach(fn func(wire.ObjectID, replication.Entity) bool) {
	s.m.ForEach(fn)
}

// IDs lists the object ids in ascending order.
func (s Snapshot) IDs() []wire.ObjectID {
	return sortedIDs(s.m)
}

type Model struct {
	m *entityMap
}

func (m Model) Get(id wire.ObjectID) (replication.Entity, bool) {
	return m.m.Get(id)
}

func (m Model) Put(id wire.ObjectID, e replication.Entity) {
	m.m.Put(id, e)
}

func (m Model) Delete(id wire.ObjectID) bool {
	return m.m.Del(id)
}

func (m Model) Len() int {
	return m.m.Len()
}

// Each visits entities in ascending id order so ticks are deterministic.
func (m Model) Each(fn func(wire.ObjectID, replication.Entity)) {
	for _, id := range sortedIDs(m.m) {
		e, _ := m.m.Get(id)
		fn(id, e)
	}
}

func sortedIDs(m *entityMap) []wire.ObjectID {
	ids := make([]wire.ObjectID, 0, m.Len())
	m.ForEach(func(id wire.ObjectID, _ replication.Entity) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}
