// Package mathx holds the small float32 geometry used by replicated entities.
package mathx

import (
	"fmt"
	"math"
)

type Vec3 struct {
	X float32
	Y float32
	Z float32
}

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) String() string {
	return fmt.Sprintf("{%.2f, %.2f, %.2f}", v.X, v.Y, v.Z)
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3) Dot(o Vec3) float32 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Len() float32 {
	return float32(math.Sqrt(float64(v.Dot(v))))
}

func (v Vec3) Dist(o Vec3) float32 {
	return v.Sub(o).Len()
}

// Normalize returns the unit vector along v, or the zero vector.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

func (v Vec3) IsZero() bool {
	return v == Vec3{}
}

var (
	Up      = Vec3{Z: 1}
	Forward = Vec3{Y: 1}
)

// Sphere is a bounding volume for visibility tests.
type Sphere struct {
	Center Vec3
	Radius float32
}

// Infinite spheres are visible from everywhere.
func (s Sphere) Infinite() bool {
	return math.IsInf(float64(s.Radius), 1)
}

func InfiniteSphere() Sphere {
	return Sphere{Radius: float32(math.Inf(1))}
}
