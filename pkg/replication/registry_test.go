package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type otherProbe struct{ probe }

func (o *otherProbe) New([]byte) (Entity, error) { return &otherProbe{}, nil }

func TestRegistryAssignsIDsInOrder(t *testing.T) {
	r := NewRegistry(&probe{}, &otherProbe{})
	assert.Equal(t, 2, r.Len())

	id, ok := r.TypeOf(&otherProbe{})
	require.True(t, ok)
	assert.Equal(t, TypeID(1), id)

	again := NewRegistry(&probe{}, &otherProbe{})
	assert.Equal(t, r.Types(), again.Types())

	for i, typ := range r.Types() {
		for j, other := range r.Types() {
			if i != j {
				assert.NotEqual(t, typ, other)
			}
		}
	}
}

func TestRegistryPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry(&probe{})
	assert.Panics(t, func() { r.Register(&probe{}) })
}

func TestRegistryPanicsOnOversizedState(t *testing.T) {
	assert.Panics(t, func() { NewRegistry(&oversized{}) })
}

func TestRegistryMaxStateSize(t *testing.T) {
	assert.Zero(t, NewRegistry().MaxStateSize())

	r := NewRegistry(&probe{})
	assert.Equal(t, len((&probe{}).Serialize()), r.MaxStateSize())
	assert.Positive(t, r.MaxStateSize())
}

func TestRegistryInstantiate(t *testing.T) {
	r := NewRegistry(&probe{})

	src := &probe{Replica: NewReplica(probeParams{Size: 7}, probeState{})}
	e, err := r.Instantiate(0, src.ConstructionParams())
	require.NoError(t, err)
	assert.Equal(t, uint8(7), e.(*probe).Params.Size)

	_, err = r.Instantiate(3, nil)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, ok := r.TypeOf(&otherProbe{})
	assert.False(t, ok)
}
