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
	carMass            = 1000
	carGravity         = -0.004
	restDistance       = 0.1
	wheelRadius        = 0.376 / 2
	suspensionStrength = 0.04
	suspensionDamping  = 0.4
	steeringAngle      = 25 * math.Pi / 180
	topSpeed           = 1
	brakeForce         = 0.1
	driftResistance    = 0.4
	carAcceleration    = 0.0003
	cameraDistance     = 1.5
	scrollSensitivity  = 10
)

var carDimensions = mathx.Vec3{X: 1, Y: 2, Z: 0.7}

// Diagonal inertia tensor of the body box.
var carInertia = mathx.Vec3{
	X: carMass / 12.0 * (carDimensions.Y*carDimensions.Y + carDimensions.Z*carDimensions.Z),
	Y: carMass / 12.0 * (carDimensions.X*carDimensions.X + carDimensions.Z*carDimensions.Z),
	Z: carMass / 12.0 * (carDimensions.X*carDimensions.X + carDimensions.Y*carDimensions.Y),
}

type CarParams struct{}

type CarState struct {
	Position        mathx.Vec3
	Rotation        mathx.Quat
	Velocity        mathx.Vec3
	AngularVelocity mathx.Vec3
}

func carStart() CarState {
	return CarState{Position: mathx.Vec3{Z: 1.5}, Rotation: mathx.Identity()}
}

type wheel struct {
	anchor mathx.Vec3
	local  mathx.Vec3
	angle  float32
	spin   float32
}

func defaultWheels() [4]wheel {
	anchors := [4]mathx.Vec3{
		{X: 0.45, Y: 0.78, Z: -0.37},
		{X: 0.45, Y: -0.65, Z: -0.37},
		{X: -0.45, Y: 0.78, Z: -0.37},
		{X: -0.45, Y: -0.65, Z: -0.37},
	}
	var w [4]wheel
	for i, a := range anchors {
		w[i] = wheel{anchor: a, local: a}
	}
	return w
}

// Car is a rigid body on four raycast suspension wheels.
type Car struct {
	replication.Replica[CarParams, CarState]

	wheels    [4]wheel
	netForce  mathx.Vec3
	netTorque mathx.Vec3
	view      mathx.View

	associated bool
	body       resources.ID
	wheelMesh  resources.ID
	texture    resources.ID
}

func NewCar() *Car {
	c := &Car{
		Replica: replication.NewReplica(CarParams{}, carStart()),
		wheels:  defaultWheels(),
	}
	c.view = c.orbit(wire.InputSnapshot{})
	return c
}

func (c *Car) New([]byte) (replication.Entity, error) {
	return NewCar(), nil
}

func (c *Car) LoadResources(res *resources.Manager, associated bool) error {
	c.associated = associated
	var err error
	if c.body, err = res.Mesh("car.obj"); err != nil {
		return err
	}
	if c.wheelMesh, err = res.Mesh("wheel.obj"); err != nil {
		return err
	}
	c.texture, err = res.Texture("car.png")
	return err
}

func (c *Car) Update(dt time.Duration, input wire.InputSnapshot, env *replication.Env) {
	c.simulate(millis(dt), input, env)
}

// Predict runs the same simulation as the server. Foreign cars get an empty input.
func (c *Car) Predict(dt time.Duration, input wire.InputSnapshot, env *replication.Env) {
	c.simulate(millis(dt), input, env)
	if c.associated {
		c.view = c.orbit(input)
	}
}

func (c *Car) Reconcile() bool {
	return c.ReconcileWith(nil)
}

func (c *Car) Bounds() mathx.Sphere {
	return mathx.Sphere{Center: c.State.Position, Radius: 2}
}

func (c *Car) View() mathx.View {
	return c.view
}

func (c *Car) Draw(id wire.ObjectID, f *render.Frame) {
	for _, w := range c.wheels {
		f.Add(render.DrawCommand{
			Object:   id,
			Mesh:     c.wheelMesh,
			Texture:  c.texture,
			Position: c.toGlobal(w.local),
			Rotation: c.State.Rotation.Mul(mathx.AxisAngle(mathx.Up, w.angle)).Mul(mathx.AxisAngle(mathx.Vec3{X: 1}, w.spin)),
		})
	}
	f.Add(render.DrawCommand{
		Object:   id,
		Mesh:     c.body,
		Texture:  c.texture,
		Position: c.State.Position,
		Rotation: c.State.Rotation,
	})
}

func (c *Car) Copy() replication.Entity {
	cp := *c
	return &cp
}

func (c *Car) toGlobal(local mathx.Vec3) mathx.Vec3 {
	return c.State.Position.Add(c.State.Rotation.Rotate(local))
}

func (c *Car) toGlobalDir(local mathx.Vec3) mathx.Vec3 {
	return c.State.Rotation.Rotate(local)
}

func (c *Car) velocityAt(local mathx.Vec3) mathx.Vec3 {
	inv := c.State.Rotation.Conjugate()
	w := inv.Rotate(c.State.AngularVelocity)
	v := inv.Rotate(c.State.Velocity)
	return v.Add(w.Cross(local))
}

func (c *Car) applyForce(at, force mathx.Vec3) {
	c.netForce = c.netForce.Add(force)
	c.netTorque = c.netTorque.Add(at.Sub(c.State.Position).Cross(force))
}

func (c *Car) applyForceLocal(at, force mathx.Vec3) {
	c.applyForce(c.toGlobal(at), c.toGlobalDir(force))
}

// groundDistance casts straight down from a local point. Without a map
// collider it falls back to the plane z = 0.
func (c *Car) groundDistance(local mathx.Vec3, collider resources.Collider) (float32, bool) {
	origin := c.toGlobal(local)
	dir := c.toGlobalDir(mathx.Vec3{Z: -1})
	if collider != nil {
		return collider.RayCast(origin, dir)
	}
	if dir.Dot(mathx.Vec3{Z: -1}) > 1e-8 && origin.Z > 0 {
		return -origin.Z / dir.Z, true
	}
	return 0, false
}

func (c *Car) simulate(ms float32, input wire.InputSnapshot, env *replication.Env) {
	if input.Pressed(wire.KeyReset) {
		c.State = carStart()
	}
	if input.Pressed(wire.KeyResetInPlace) {
		last := c.State.Position
		c.State = carStart()
		c.State.Position.X, c.State.Position.Y = last.X, last.Y
	}

	var collider resources.Collider
	if env != nil {
		collider, _ = env.Services.Map.QueryCollider(env.Resources)
	}

	c.netForce = mathx.Vec3{Z: carGravity}
	c.netTorque = mathx.Vec3{}

	for i := range c.wheels {
		w := &c.wheels[i]
		d, hit := c.groundDistance(w.anchor, collider)
		if !hit || d <= 0 || d >= restDistance+wheelRadius {
			continue
		}

		offset := restDistance - (d - wheelRadius)
		vel := c.velocityAt(w.anchor)
		c.applyForceLocal(w.anchor, mathx.Up.Scale(offset*suspensionStrength-vel.Z*suspensionDamping))
		w.local = w.anchor.Sub(mathx.Vec3{Z: d - wheelRadius})

		thrust := mathx.Forward
		w.angle = 0
		front := i == 0 || i == 2
		if front && input.Pressed(wire.KeyLeft) {
			thrust = mathx.AxisAngle(mathx.Up, -steeringAngle).Rotate(thrust)
			w.angle = -steeringAngle
		}
		if front && input.Pressed(wire.KeyRight) {
			thrust = mathx.AxisAngle(mathx.Up, steeringAngle).Rotate(thrust)
			w.angle = steeringAngle
		}

		circumference := float32(2 * math.Pi * wheelRadius)
		w.spin -= vel.Dot(thrust) * ms / circumference * 2 * math.Pi

		speed := float32(carAcceleration)
		if vel.Y > topSpeed {
			speed = 0
		}
		if input.Pressed(wire.KeyForward) {
			c.applyForceLocal(w.local, thrust.Scale(speed))
		}
		if input.Pressed(wire.KeyBack) {
			if vel.Y > carAcceleration {
				c.applyForceLocal(w.local, thrust.Scale(-vel.Dot(thrust)*brakeForce))
			} else {
				c.applyForceLocal(w.local, thrust.Scale(-speed))
			}
		}

		side := mathx.Vec3{X: -thrust.Y, Y: thrust.X, Z: thrust.Z}
		c.applyForceLocal(w.local, side.Scale(-vel.Dot(side)*driftResistance))
	}

	c.integrate(ms)
}

func (c *Car) integrate(dt float32) {
	s := &c.State
	s.Velocity = s.Velocity.Add(c.netForce.Scale(dt / carMass))
	s.Position = s.Position.Add(s.Velocity.Scale(dt))

	w := s.AngularVelocity
	iw := mathx.Vec3{X: carInertia.X * w.X, Y: carInertia.Y * w.Y, Z: carInertia.Z * w.Z}
	t := c.netTorque.Sub(w.Cross(iw))
	s.AngularVelocity = w.Add(mathx.Vec3{
		X: t.X / carInertia.X,
		Y: t.Y / carInertia.Y,
		Z: t.Z / carInertia.Z,
	}.Scale(dt))
	s.Rotation = s.Rotation.Integrate(s.AngularVelocity, dt)

	c.netForce = mathx.Vec3{}
	c.netTorque = mathx.Vec3{}
}

// orbit places the chase camera from the mouse position and scroll wheel.
func (c *Car) orbit(input wire.InputSnapshot) mathx.View {
	dist := max(float32(input.Scroll)/-scrollSensitivity+cameraDistance, cameraDistance)
	rx := float64(input.MouseX) / -mouseSensitivity
	ry := float64(input.MouseY) / mouseSensitivity
	offset := mathx.Vec3{
		X: float32(math.Sin(rx)),
		Y: float32(math.Cos(rx)),
		Z: float32(math.Cos(ry)) * 2,
	}
	eye := c.toGlobal(offset.Scale(dist))
	return mathx.View{Eye: eye, Forward: c.State.Position.Sub(eye)}
}
