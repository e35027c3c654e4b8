package mathx

import "math"

type Quat struct {
	W float32
	X float32
	Y float32
	Z float32
}

func Identity() Quat {
	return Quat{W: 1}
}

func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

func (q Quat) Conjugate() Quat {
	return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

func (q Quat) Normalize() Quat {
	l := float32(math.Sqrt(float64(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)))
	if l == 0 {
		return Identity()
	}
	return Quat{q.W / l, q.X / l, q.Y / l, q.Z / l}
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	p := Quat{X: v.X, Y: v.Y, Z: v.Z}
	r := q.Mul(p).Mul(q.Conjugate())
	return Vec3{r.X, r.Y, r.Z}
}

// Integrate advances q by angular velocity w over dt.
func (q Quat) Integrate(w Vec3, dt float32) Quat {
	spin := Quat{X: w.X, Y: w.Y, Z: w.Z}.Mul(q)
	return Quat{
		W: q.W + 0.5*dt*spin.W,
		X: q.X + 0.5*dt*spin.X,
		Y: q.Y + 0.5*dt*spin.Y,
		Z: q.Z + 0.5*dt*spin.Z,
	}.Normalize()
}

func AxisAngle(axis Vec3, radians float32) Quat {
	axis = axis.Normalize()
	s := float32(math.Sin(float64(radians) / 2))
	return Quat{
		W: float32(math.Cos(float64(radians) / 2)),
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
	}
}
