package server

import (
	"math"

	"github.com/QYUbit/Replica/pkg/wire"
)

// IDPool hands out object ids. Released ids are reused oldest first, only
// once nothing is left that was never used.
type IDPool struct {
	next  int
	free  []wire.ObjectID
	inUse map[wire.ObjectID]struct{}
}

func NewIDPool() *IDPool {
	return &IDPool{inUse: make(map[wire.ObjectID]struct{})}
}

func (p *IDPool) Acquire() (wire.ObjectID, error) {
	var id wire.ObjectID
	switch {
	case p.next <= math.MaxUint16:
		id = wire.ObjectID(p.next)
		p.next++
	case len(p.free) > 0:
		id = p.free[0]
		p.free = p.free[1:]
	default:
		return 0, ErrIDsExhausted
	}
	p.inUse[id] = struct{}{}
	return id, nil
}

func (p *IDPool) Release(id wire.ObjectID) {
	if _, ok := p.inUse[id]; !ok {
		return
	}
	delete(p.inUse, id)
	p.free = append(p.free, id)
}

func (p *IDPool) InUse() int {
	return len(p.inUse)
}
