package server

import (
	"testing"

	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/QYUbit/Replica/pkg/wire"
	"github.com/stretchr/testify/assert"
)

func TestSessionAcceptInput(t *testing.T) {
	s := newSession("a", Camera{})

	assert.True(t, s.AcceptInput(200), "first input is always accepted")
	assert.False(t, s.AcceptInput(200))
	assert.False(t, s.AcceptInput(150))
	assert.True(t, s.AcceptInput(250))
	assert.True(t, s.AcceptInput(3), "counter wraps")
	assert.False(t, s.AcceptInput(251))
}

func TestSessionForget(t *testing.T) {
	s := newSession("a", Camera{})
	s.Associate(4)
	s.Associate(2)
	s.markCached(4)

	assert.Equal(t, []wire.ObjectID{2, 4}, s.Associated())
	assert.True(t, s.forget(4))
	assert.False(t, s.forget(2))
	assert.Empty(t, s.Associated())
	assert.False(t, s.IsCached(4))
}

func TestSessionManager(t *testing.T) {
	m := newSessionManager()
	for _, id := range []transport.ClientID{"c", "a", "b"} {
		m.add(newSession(id, Camera{}))
	}
	assert.Equal(t, 3, m.len())

	var ids []transport.ClientID
	for _, s := range m.all() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []transport.ClientID{"a", "b", "c"}, ids)

	s, ok := m.remove("b")
	assert.True(t, ok)
	assert.Equal(t, transport.ClientID("b"), s.ID)
	_, ok = m.get("b")
	assert.False(t, ok)
	_, ok = m.remove("b")
	assert.False(t, ok)
}
