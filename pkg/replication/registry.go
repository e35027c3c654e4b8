package replication

import (
	"fmt"
	"math"
	"reflect"

	"github.com/QYUbit/Replica/pkg/wire"
)

// Registry assigns type ids to entity kinds in registration order. Server and
// client must register the same kinds in the same order.
type Registry struct {
	protos []Prototype
	ids    map[reflect.Type]TypeID
}

func NewRegistry(protos ...Prototype) *Registry {
	r := &Registry{ids: make(map[reflect.Type]TypeID)}
	for _, p := range protos {
		r.Register(p)
	}
	return r
}

// Register panics when the kind is already known or its state cannot fit in a datagram.
func (r *Registry) Register(p Prototype) TypeID {
	typ := reflect.TypeOf(p)
	if _, ok := r.ids[typ]; ok {
		panic(fmt.Sprintf("replication: entity type %v registered twice", typ))
	}
	if err := wire.CheckStateSize(len(p.Serialize())); err != nil {
		panic(fmt.Sprintf("replication: entity type %v: %v", typ, err))
	}
	if len(r.protos) > math.MaxUint16 {
		panic("replication: too many entity types")
	}

	id := TypeID(len(r.protos))
	r.protos = append(r.protos, p)
	r.ids[typ] = id
	return id
}

func (r *Registry) TypeOf(e Entity) (TypeID, bool) {
	id, ok := r.ids[reflect.TypeOf(e)]
	return id, ok
}

func (r *Registry) Instantiate(id TypeID, params []byte) (Entity, error) {
	if int(id) >= len(r.protos) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, id)
	}
	return r.protos[id].New(params)
}

// MaxStateSize is the largest serialized state among the registered kinds.
func (r *Registry) MaxStateSize() int {
	n := 0
	for _, p := range r.protos {
		n = max(n, len(p.Serialize()))
	}
	return n
}

func (r *Registry) Len() int {
	return len(r.protos)
}

// Types lists the registered kinds in id order.
func (r *Registry) Types() []reflect.Type {
	types := make([]reflect.Type, len(r.protos))
	for i, p := range r.protos {
		types[i] = reflect.TypeOf(p)
	}
	return types
}
