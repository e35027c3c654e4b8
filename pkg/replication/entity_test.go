package replication

import (
	"time"

	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/wire"
)

type probeParams struct {
	Size uint8
}

type probeState struct {
	Position mathx.Vec3
	Heading  mathx.Vec3
}

type probe struct {
	Replica[probeParams, probeState]
	ownsHeading bool
	predicted   int
	deregisters []wire.ObjectID
}

func (p *probe) New(params []byte) (Entity, error) {
	pp, err := DecodeParams[probeParams](params)
	if err != nil {
		return nil, err
	}
	return &probe{Replica: NewReplica(pp, probeState{})}, nil
}

func (p *probe) Update(dt time.Duration, input wire.InputSnapshot, env *Env) {
	p.State.Position.X++
}

func (p *probe) Predict(dt time.Duration, input wire.InputSnapshot, env *Env) {
	p.predicted++
	if input.Pressed(wire.KeyForward) {
		p.State.Heading = mathx.Forward
	}
}

func (p *probe) Reconcile() bool {
	return p.ReconcileWith(func(predicted, auth *probeState) {
		if p.ownsHeading {
			auth.Heading = predicted.Heading
		}
	})
}

func (p *probe) Bounds() mathx.Sphere {
	return mathx.Sphere{Center: p.State.Position, Radius: 1}
}

func (p *probe) Copy() Entity {
	c := *p
	return &c
}

func (p *probe) RegisterServices(id wire.ObjectID, s *Services) {}

func (p *probe) DeregisterServices(id wire.ObjectID, s *Services) {
	p.deregisters = append(p.deregisters, id)
}

func (p *probe) UpdateServices(id wire.ObjectID, s *Services) {}

type oversized struct{ probe }

func (o *oversized) Serialize() []byte { return make([]byte, wire.MaxPacketSize) }

func (o *oversized) New([]byte) (Entity, error) { return &oversized{}, nil }
