package entities

import (
	"math"
	"time"

	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/render"
	"github.com/QYUbit/Replica/pkg/replication"
	"github.com/QYUbit/Replica/pkg/resources"
	"github.com/QYUbit/Replica/pkg/wire"
)

const (
	playerSpeed      = 0.005
	playerHeight     = 1.8
	playerRadius     = 0.5
	mouseSensitivity = 100
	verticalClamp    = 1.5
	playerMesh       = "player.obj"
	playerTexture    = "player.png"
)

type PlayerParams struct {
	Spawn mathx.Vec3
}

type PlayerState struct {
	Position  mathx.Vec3
	Direction mathx.Vec3
	Velocity  mathx.Vec3
}

// Player is the walking avatar spawned for every client.
type Player struct {
	replication.Replica[PlayerParams, PlayerState]

	associated bool
	mesh       resources.ID
	texture    resources.ID
}

func NewPlayer(params PlayerParams) *Player {
	return &Player{Replica: replication.NewReplica(params, PlayerState{
		Position:  params.Spawn,
		Direction: mathx.Forward,
	})}
}

func (p *Player) New(params []byte) (replication.Entity, error) {
	pp, err := replication.DecodeParams[PlayerParams](params)
	if err != nil {
		return nil, err
	}
	return NewPlayer(pp), nil
}

func (p *Player) LoadResources(res *resources.Manager, associated bool) error {
	p.associated = associated
	var err error
	if p.mesh, err = res.Mesh(playerMesh); err != nil {
		return err
	}
	p.texture, err = res.Texture(playerTexture)
	return err
}

func (p *Player) RegisterServices(wire.ObjectID, *replication.Services)   {}
func (p *Player) DeregisterServices(wire.ObjectID, *replication.Services) {}

func (p *Player) UpdateServices(_ wire.ObjectID, s *replication.Services) {
	s.Map.SetChaser(p.State.Position)
}

func (p *Player) Update(dt time.Duration, input wire.InputSnapshot, env *replication.Env) {
	p.State.Direction = look(input)
	p.State = walk(p.State, millis(dt), input, env)
}

func (p *Player) Predict(dt time.Duration, input wire.InputSnapshot, env *replication.Env) {
	if !p.associated {
		p.State.Position = p.State.Position.Add(p.State.Velocity.Scale(millis(dt)))
		return
	}
	p.State.Direction = look(input)
	p.State = walk(p.State, millis(dt), input, env)
}

// Reconcile takes the server state but keeps the locally steered direction
// of the controlled player.
func (p *Player) Reconcile() bool {
	return p.ReconcileWith(func(predicted, auth *PlayerState) {
		if p.associated {
			auth.Direction = predicted.Direction
		}
	})
}

func (p *Player) Bounds() mathx.Sphere {
	return mathx.Sphere{Center: p.State.Position, Radius: playerRadius}
}

func (p *Player) View() mathx.View {
	return mathx.View{Eye: p.State.Position, Forward: p.State.Direction}
}

func (p *Player) Draw(id wire.ObjectID, f *render.Frame) {
	if p.associated {
		return
	}
	f.Add(render.DrawCommand{
		Object:   id,
		Mesh:     p.mesh,
		Texture:  p.texture,
		Position: p.State.Position.Sub(mathx.Vec3{Z: playerHeight}),
		Rotation: heading(p.State.Direction),
	})
}

func (p *Player) Copy() replication.Entity {
	c := *p
	return &c
}

// look turns the absolute mouse position into a view direction.
func look(input wire.InputSnapshot) mathx.Vec3 {
	rx := float64(input.MouseX) / -mouseSensitivity
	ry := math.Max(-verticalClamp, math.Min(verticalClamp, float64(input.MouseY)/mouseSensitivity))
	return mathx.Vec3{
		X: float32(math.Sin(rx)),
		Y: float32(math.Cos(rx)),
		Z: float32(math.Sin(ry)),
	}.Normalize()
}

func heading(dir mathx.Vec3) mathx.Quat {
	return mathx.AxisAngle(mathx.Up, float32(math.Atan2(float64(-dir.X), float64(dir.Y))))
}

func walk(s PlayerState, ms float32, input wire.InputSnapshot, env *replication.Env) PlayerState {
	fwd := mathx.Vec3{X: s.Direction.X, Y: s.Direction.Y}.Normalize()
	right := mathx.Vec3{X: fwd.Y, Y: -fwd.X}

	var move mathx.Vec3
	if input.Pressed(wire.KeyForward) {
		move = move.Add(fwd)
	}
	if input.Pressed(wire.KeyBack) {
		move = move.Sub(fwd)
	}
	if input.Pressed(wire.KeyLeft) {
		move = move.Sub(right)
	}
	if input.Pressed(wire.KeyRight) {
		move = move.Add(right)
	}

	speed := float32(playerSpeed)
	if input.Pressed(wire.KeySprint) {
		speed *= 2
	}
	s.Velocity = move.Normalize().Scale(speed)
	s.Position = s.Position.Add(s.Velocity.Scale(ms))

	if env == nil {
		return s
	}
	if c, ok := env.Services.Map.QueryCollider(env.Resources); ok {
		if d, hit := c.RayCast(s.Position, mathx.Vec3{Z: -1}); hit && d < playerHeight {
			s.Position.Z += playerHeight - d
		}
	}
	return s
}
