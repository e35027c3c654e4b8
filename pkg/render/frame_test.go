package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDoubleBufferPublish(t *testing.T) {
	b := NewDoubleBuffer()

	_, seq := b.Read()
	assert.Zero(t, seq)

	b.Back().Add(DrawCommand{Object: 1})
	b.Publish()
	<-b.Ready()

	f, seq := b.Read()
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, []DrawCommand{{Object: 1}}, f.Draws)

	back := b.Back()
	back.Add(DrawCommand{Object: 2})
	back.Add(DrawCommand{Object: 3})

	f2, _ := b.Read()
	assert.Equal(t, []DrawCommand{{Object: 1}}, f2.Draws)

	b.Publish()
	f3, seq := b.Read()
	assert.Equal(t, uint64(2), seq)
	assert.Len(t, f3.Draws, 2)
	assert.Equal(t, []DrawCommand{{Object: 1}}, f.Draws)
}
