package replication

import (
	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/resources"
	"github.com/QYUbit/Replica/pkg/wire"
)

// Services are shared facilities owned by the update goroutine.
type Services struct {
	Map MapService
}

// MapService exposes the registered map collider and the point AI players chase.
type MapService struct {
	owner    wire.ObjectID
	collider resources.ID
	ok       bool

	chaser    mathx.Vec3
	hasChaser bool
}

func (m *MapService) RegisterMap(owner wire.ObjectID, collider resources.ID) {
	m.owner = owner
	m.collider = collider
	m.ok = true
}

// Deregister drops the map if owner registered it.
func (m *MapService) Deregister(owner wire.ObjectID) {
	if m.ok && m.owner == owner {
		m.ok = false
	}
}

// Collider returns the map collider. Without a registered map callers skip
// collision for this tick.
func (m *MapService) Collider() (resources.ID, bool) {
	return m.collider, m.ok
}

// QueryCollider resolves the registered collider through res.
func (m *MapService) QueryCollider(res *resources.Manager) (resources.Collider, bool) {
	if !m.ok || res == nil {
		return nil, false
	}
	return res.ReadCollider(m.collider)
}

func (m *MapService) SetChaser(p mathx.Vec3) {
	m.chaser = p
	m.hasChaser = true
}

func (m *MapService) Chaser() (mathx.Vec3, bool) {
	return m.chaser, m.hasChaser
}
