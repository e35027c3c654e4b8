package resources

import "github.com/QYUbit/Replica/pkg/mathx"

// NopLoader produces empty meshes and textures, and a flat ground plane for
// every collider. Headless servers and tests use it.
type NopLoader struct{}

func (NopLoader) LoadMesh(name string) (Mesh, error) {
	return Mesh{Name: name}, nil
}

func (NopLoader) LoadTexture(name string) (Texture, error) {
	return Texture{Name: name}, nil
}

func (NopLoader) LoadCollider(Mesh) (Collider, error) {
	return GroundPlane{}, nil
}

// GroundPlane is the horizontal plane z = Height.
type GroundPlane struct {
	Height float32
}

func (g GroundPlane) RayCast(origin, dir mathx.Vec3) (float32, bool) {
	if dir.Z == 0 {
		return 0, false
	}
	t := (g.Height - origin.Z) / dir.Z
	if t < 0 {
		return 0, false
	}
	return t * dir.Len(), true
}
