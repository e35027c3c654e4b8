// Package resources caches meshes, textures and physics colliders by name.
//
// Reads go through an immutable table published with an atomic pointer. Only
// loading a resource that is not yet known takes the mutex.
package resources

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/QYUbit/Replica/pkg/mathx"
)

type ID uint16

type Kind uint8

const (
	KindMesh Kind = iota
	KindTexture
	KindCollider
)

func (k Kind) String() string {
	switch k {
	case KindMesh:
		return "mesh"
	case KindTexture:
		return "texture"
	case KindCollider:
		return "collider"
	}
	return "unknown"
}

var ErrTableFull = errors.New("resources: id space exhausted")

type LoadError struct {
	Kind Kind
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("resources: loading %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type Mesh struct {
	Name     string
	Vertices []mathx.Vec3
}

type Texture struct {
	Name string
	Data []byte
}

// Collider answers ray queries against static geometry.
type Collider interface {
	// RayCast returns the distance along dir to the first hit.
	RayCast(origin, dir mathx.Vec3) (float32, bool)
}

// Loader reads resource data. Implementations decide where names point.
type Loader interface {
	LoadMesh(name string) (Mesh, error)
	LoadTexture(name string) (Texture, error)
	LoadCollider(mesh Mesh) (Collider, error)
}

type key struct {
	kind Kind
	name string
}

type table struct {
	ids       map[key]ID
	meshes    map[ID]Mesh
	textures  map[ID]Texture
	colliders map[ID]Collider
	next      ID
	full      bool
}

type Manager struct {
	loader Loader
	mu     sync.Mutex
	tab    atomic.Pointer[table]
}

func NewManager(loader Loader) *Manager {
	if loader == nil {
		loader = NopLoader{}
	}
	m := &Manager{loader: loader}
	m.tab.Store(&table{
		ids:       map[key]ID{},
		meshes:    map[ID]Mesh{},
		textures:  map[ID]Texture{},
		colliders: map[ID]Collider{},
	})
	return m
}

// Mesh returns the id of the named mesh, loading it on first use.
func (m *Manager) Mesh(name string) (ID, error) {
	if id, ok := m.lookup(KindMesh, name); ok {
		return id, nil
	}
	return m.load(KindMesh, name, func(t *table, id ID) error {
		mesh, err := m.loader.LoadMesh(name)
		if err != nil {
			return err
		}
		t.meshes[id] = mesh
		return nil
	})
}

func (m *Manager) Texture(name string) (ID, error) {
	if id, ok := m.lookup(KindTexture, name); ok {
		return id, nil
	}
	return m.load(KindTexture, name, func(t *table, id ID) error {
		tex, err := m.loader.LoadTexture(name)
		if err != nil {
			return err
		}
		t.textures[id] = tex
		return nil
	})
}

// Collider returns the id of the physics collider built from the named mesh.
func (m *Manager) Collider(meshName string) (ID, error) {
	if id, ok := m.lookup(KindCollider, meshName); ok {
		return id, nil
	}
	meshID, err := m.Mesh(meshName)
	if err != nil {
		return 0, err
	}
	mesh, _ := m.ReadMesh(meshID)

	return m.load(KindCollider, meshName, func(t *table, id ID) error {
		c, err := m.loader.LoadCollider(mesh)
		if err != nil {
			return err
		}
		t.colliders[id] = c
		return nil
	})
}

func (m *Manager) ReadMesh(id ID) (Mesh, bool) {
	mesh, ok := m.tab.Load().meshes[id]
	return mesh, ok
}

func (m *Manager) ReadTexture(id ID) (Texture, bool) {
	tex, ok := m.tab.Load().textures[id]
	return tex, ok
}

func (m *Manager) ReadCollider(id ID) (Collider, bool) {
	c, ok := m.tab.Load().colliders[id]
	return c, ok
}

func (m *Manager) Len() int {
	return len(m.tab.Load().ids)
}

func (m *Manager) lookup(kind Kind, name string) (ID, bool) {
	id, ok := m.tab.Load().ids[key{kind, name}]
	return id, ok
}

func (m *Manager) load(kind Kind, name string, fill func(*table, ID) error) (ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.tab.Load()
	if id, ok := old.ids[key{kind, name}]; ok {
		return id, nil
	}
	if old.full {
		return 0, &LoadError{Kind: kind, Name: name, Err: ErrTableFull}
	}

	next := &table{
		ids:       maps.Clone(old.ids),
		meshes:    maps.Clone(old.meshes),
		textures:  maps.Clone(old.textures),
		colliders: maps.Clone(old.colliders),
		next:      old.next + 1,
		full:      old.next == ^ID(0),
	}
	id := old.next
	if err := fill(next, id); err != nil {
		return 0, &LoadError{Kind: kind, Name: name, Err: err}
	}
	next.ids[key{kind, name}] = id
	m.tab.Store(next)
	return id, nil
}
