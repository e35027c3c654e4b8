package replication

import (
	"time"

	"github.com/QYUbit/Replica/pkg/wire"
)

type Phase uint8

const (
	Idle Phase = iota
	Predicting
	Reconciling
	Removed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Predicting:
		return "predicting"
	case Reconciling:
		return "reconciling"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Predictor drives one cached entity on the client.
type Predictor struct {
	id         wire.ObjectID
	entity     Entity
	associated bool
	phase      Phase
}

func NewPredictor(id wire.ObjectID, e Entity, associated bool) *Predictor {
	return &Predictor{id: id, entity: e, associated: associated}
}

func (p *Predictor) ID() wire.ObjectID { return p.id }
func (p *Predictor) Entity() Entity    { return p.entity }
func (p *Predictor) Associated() bool  { return p.associated }
func (p *Predictor) Phase() Phase      { return p.phase }

// Apply stores an authoritative state received from the server.
func (p *Predictor) Apply(state []byte) error {
	if p.phase == Removed {
		return ErrRemoved
	}
	return p.entity.ApplyDeserialized(state)
}

// Step predicts one frame and reconciles a pending authoritative state.
// Entities the local process does not control predict with an empty input.
func (p *Predictor) Step(dt time.Duration, input wire.InputSnapshot, env *Env) error {
	if p.phase == Removed {
		return ErrRemoved
	}
	if !p.associated {
		input = wire.InputSnapshot{}
	}

	p.phase = Predicting
	p.entity.Predict(dt, input, env)

	if p.entity.Pending() {
		p.phase = Reconciling
		p.entity.Reconcile()
		p.phase = Predicting
	}
	return nil
}

// Remove deregisters the entity's services. Later calls to Step fail.
func (p *Predictor) Remove(env *Env) {
	if p.phase == Removed {
		return
	}
	if su, ok := p.entity.(ServiceUser); ok && env != nil {
		su.DeregisterServices(p.id, env.Services)
	}
	p.phase = Removed
}
