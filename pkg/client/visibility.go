package client

import (
	"fmt"

	"github.com/QYUbit/Replica/pkg/wire"
)

// Visibility maps server assigned slots to the objects drawn this frame.
// A slot the server did not refresh keeps its previous occupant until that
// object is removed.
type Visibility struct {
	slots    []wire.ObjectID
	occupied []bool
}

func NewVisibility(capacity int) *Visibility {
	return &Visibility{
		slots:    make([]wire.ObjectID, capacity),
		occupied: make([]bool, capacity),
	}
}

func (v *Visibility) Set(slot uint8, id wire.ObjectID) error {
	if int(slot) >= len(v.slots) {
		return fmt.Errorf("%w: slot %d, capacity %d", ErrSlotOutOfRange, slot, len(v.slots))
	}
	v.slots[slot] = id
	v.occupied[slot] = true
	return nil
}

func (v *Visibility) Get(slot uint8) (wire.ObjectID, bool) {
	if int(slot) >= len(v.slots) || !v.occupied[slot] {
		return 0, false
	}
	return v.slots[slot], true
}

// Clear empties every slot holding id.
func (v *Visibility) Clear(id wire.ObjectID) {
	for i := range v.slots {
		if v.occupied[i] && v.slots[i] == id {
			v.occupied[i] = false
		}
	}
}

// IDs lists the visible objects in slot order, each once.
func (v *Visibility) IDs() []wire.ObjectID {
	out := make([]wire.ObjectID, 0, len(v.slots))
	seen := make(map[wire.ObjectID]struct{}, len(v.slots))
	for i, id := range v.slots {
		if !v.occupied[i] {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (v *Visibility) Len() int {
	n := 0
	for _, ok := range v.occupied {
		if ok {
			n++
		}
	}
	return n
}

func (v *Visibility) Cap() int {
	return len(v.slots)
}
