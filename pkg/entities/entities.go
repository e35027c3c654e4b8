// Package entities holds the concrete replicated kinds.
package entities

import (
	"time"

	"github.com/QYUbit/Replica/pkg/replication"
)

// Prototypes is the kind list both sides register, in type id order.
func Prototypes() []replication.Prototype {
	return []replication.Prototype{
		&GameMap{},
		NewPlayer(PlayerParams{}),
		NewAIPlayer(),
		NewCar(),
	}
}

func NewRegistry() *replication.Registry {
	return replication.NewRegistry(Prototypes()...)
}

// Motion constants are tuned in units per millisecond.
func millis(dt time.Duration) float32 {
	return float32(dt) / float32(time.Millisecond)
}
