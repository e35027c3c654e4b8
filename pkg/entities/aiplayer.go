package entities

import (
	"time"

	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/render"
	"github.com/QYUbit/Replica/pkg/replication"
	"github.com/QYUbit/Replica/pkg/resources"
	"github.com/QYUbit/Replica/pkg/wire"
)

const (
	aiSpeed     = 0.005
	aiStopRange = 5
)

// AIPlayer walks toward the map service chaser and stops when close.
type AIPlayer struct {
	replication.Replica[struct{}, PlayerState]

	mesh    resources.ID
	texture resources.ID
}

func NewAIPlayer() *AIPlayer {
	return &AIPlayer{Replica: replication.NewReplica(struct{}{}, PlayerState{
		Position:  mathx.Vec3{X: 2, Y: 2, Z: 2},
		Direction: mathx.Vec3{X: 1},
	})}
}

func (a *AIPlayer) New([]byte) (replication.Entity, error) {
	return NewAIPlayer(), nil
}

func (a *AIPlayer) LoadResources(res *resources.Manager, associated bool) error {
	var err error
	if a.mesh, err = res.Mesh("shark.fbx"); err != nil {
		return err
	}
	a.texture, err = res.Texture("shark.png")
	return err
}

func (a *AIPlayer) Update(dt time.Duration, _ wire.InputSnapshot, env *replication.Env) {
	target, ok := env.Services.Map.Chaser()
	if !ok {
		return
	}

	s := &a.State
	s.Direction = s.Direction.Normalize()
	if target.Dist(s.Position) <= aiStopRange {
		s.Velocity = mathx.Vec3{}
		return
	}
	s.Velocity = s.Direction.Scale(aiSpeed)
	s.Position = s.Position.Add(s.Velocity.Scale(millis(dt)))
	if dir := target.Sub(s.Position).Normalize(); !dir.IsZero() {
		s.Direction = dir
	}
}

func (a *AIPlayer) Predict(dt time.Duration, _ wire.InputSnapshot, _ *replication.Env) {
	a.State.Position = a.State.Position.Add(a.State.Velocity.Scale(millis(dt)))
}

func (a *AIPlayer) Reconcile() bool {
	return a.ReconcileWith(nil)
}

func (a *AIPlayer) Bounds() mathx.Sphere {
	return mathx.Sphere{Center: a.State.Position, Radius: 0.1}
}

func (a *AIPlayer) Draw(id wire.ObjectID, f *render.Frame) {
	f.Add(render.DrawCommand{
		Object:   id,
		Mesh:     a.mesh,
		Texture:  a.texture,
		Position: a.State.Position,
		Rotation: heading(a.State.Direction),
	})
}

func (a *AIPlayer) Copy() replication.Entity {
	c := *a
	return &c
}
