package mathx

import "math"

// View is an eye position and viewing direction.
type View struct {
	Eye     Vec3
	Forward Vec3
}

// Frustum approximates a perspective frustum by the cone around the view
// direction covering its widest half angle.
type Frustum struct {
	View      View
	HalfAngle float64
}

// NewFrustum builds a cone from a vertical field of view in degrees and an
// aspect ratio.
func NewFrustum(v View, fovDegrees, aspect float32) Frustum {
	half := float64(fovDegrees) * math.Pi / 360
	horizontal := math.Atan(math.Tan(half) * float64(max(aspect, 1)))
	return Frustum{View: v, HalfAngle: math.Max(half, horizontal)}
}

func (f Frustum) Contains(s Sphere) bool {
	if s.Infinite() {
		return true
	}
	to := s.Center.Sub(f.View.Eye)
	dist := float64(to.Len())
	if dist <= float64(s.Radius) {
		return true
	}
	fwd := f.View.Forward.Normalize()
	if fwd.IsZero() {
		return true
	}

	cos := float64(to.Dot(fwd)) / dist
	angle := math.Acos(math.Max(-1, math.Min(1, cos)))
	return angle-math.Asin(float64(s.Radius)/dist) <= f.HalfAngle
}
