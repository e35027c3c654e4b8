// Package replication defines the entity capabilities shared by the server
// simulation and the client prediction pipeline.
package replication

import (
	"errors"
	"time"

	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/render"
	"github.com/QYUbit/Replica/pkg/resources"
	"github.com/QYUbit/Replica/pkg/wire"
)

type TypeID = wire.TypeID

var (
	ErrUnknownType = errors.New("replication: unknown entity type")
	ErrRemoved     = errors.New("replication: entity removed")
)

// Entity is the capability set every replicated kind provides.
type Entity interface {
	// ConstructionParams is the fixed payload a client needs to instantiate the entity.
	ConstructionParams() []byte
	Serialize() []byte
	// ApplyDeserialized stores an authoritative state for the next Reconcile.
	ApplyDeserialized(state []byte) error

	// Update advances the authoritative state by one server tick.
	Update(dt time.Duration, input wire.InputSnapshot, env *Env)
	// Predict advances the local state between server updates.
	Predict(dt time.Duration, input wire.InputSnapshot, env *Env)
	// Pending reports whether an authoritative state awaits reconciliation.
	Pending() bool
	// Reconcile folds the pending authoritative state into the local one.
	Reconcile() bool

	Bounds() mathx.Sphere
	// Copy returns an independent deep copy.
	Copy() Entity
}

// Prototype is the registered exemplar of a kind. New builds an instance from
// construction params received on the wire.
type Prototype interface {
	Entity
	New(params []byte) (Entity, error)
}

type ServiceUser interface {
	RegisterServices(id wire.ObjectID, s *Services)
	DeregisterServices(id wire.ObjectID, s *Services)
	UpdateServices(id wire.ObjectID, s *Services)
}

type ResourceUser interface {
	LoadResources(res *resources.Manager, associated bool) error
}

// Viewer entities can drive the camera of the client that controls them.
type Viewer interface {
	View() mathx.View
}

type Drawable interface {
	Draw(id wire.ObjectID, f *render.Frame)
}

// Env is handed to Update and Predict.
type Env struct {
	Services  *Services
	Resources *resources.Manager
}

func NewEnv(res *resources.Manager) *Env {
	return &Env{Services: &Services{}, Resources: res}
}
