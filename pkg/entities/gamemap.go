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
	mapMesh    = "map.obj"
	mapTexture = "map.png"
)

type MapParams struct {
	Scale float32
}

// GameMap is the static level. It carries no state and publishes its collider
// through the map service.
type GameMap struct {
	replication.Replica[MapParams, struct{}]

	collider resources.ID
	loaded   bool
	mesh     resources.ID
	texture  resources.ID
}

func NewGameMap(scale float32) *GameMap {
	return &GameMap{Replica: replication.NewReplica(MapParams{Scale: scale}, struct{}{})}
}

func (m *GameMap) New(params []byte) (replication.Entity, error) {
	p, err := replication.DecodeParams[MapParams](params)
	if err != nil {
		return nil, err
	}
	return NewGameMap(p.Scale), nil
}

func (m *GameMap) LoadResources(res *resources.Manager, associated bool) error {
	id, err := res.Collider(mapMesh)
	if err != nil {
		return err
	}
	if m.mesh, err = res.Mesh(mapMesh); err != nil {
		return err
	}
	if m.texture, err = res.Texture(mapTexture); err != nil {
		return err
	}
	m.collider = id
	m.loaded = true
	return nil
}

func (m *GameMap) RegisterServices(id wire.ObjectID, s *replication.Services) {
	if m.loaded {
		s.Map.RegisterMap(id, m.collider)
	}
}

func (m *GameMap) DeregisterServices(id wire.ObjectID, s *replication.Services) {
	s.Map.Deregister(id)
}

func (m *GameMap) UpdateServices(wire.ObjectID, *replication.Services) {}

func (m *GameMap) Update(time.Duration, wire.InputSnapshot, *replication.Env) {}

func (m *GameMap) Predict(time.Duration, wire.InputSnapshot, *replication.Env) {}

func (m *GameMap) Reconcile() bool {
	return m.ReconcileWith(nil)
}

func (m *GameMap) Bounds() mathx.Sphere {
	return mathx.InfiniteSphere()
}

func (m *GameMap) Draw(id wire.ObjectID, f *render.Frame) {
	f.Add(render.DrawCommand{Object: id, Mesh: m.mesh, Texture: m.texture, Rotation: mathx.Identity()})
}

func (m *GameMap) Copy() replication.Entity {
	c := *m
	return &c
}
