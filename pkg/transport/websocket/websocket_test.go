package websockets

import (
	"context"
	"testing"
	"time"

	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	ch     transport.Channel
	from   transport.ClientID
	packet []byte
}

type serverProbe struct {
	packets     []received
	connects    []transport.ClientID
	disconnects []transport.ClientID
}

func (p *serverProbe) poll(s *Server) {
	s.ProcessIncoming(
		func(ch transport.Channel, from transport.ClientID, packet []byte) {
			p.packets = append(p.packets, received{ch, from, packet})
		},
		func(id transport.ClientID, connecting bool) {
			if connecting {
				p.connects = append(p.connects, id)
			} else {
				p.disconnects = append(p.disconnects, id)
			}
		},
		5*time.Millisecond, 50,
	)
}

func listenAndDial(t *testing.T) (*Server, *Client, *serverProbe) {
	t.Helper()
	s, err := Listen("127.0.0.1:0", transport.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c, err := Dial(context.Background(), URL(s.Addr().String()), transport.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	probe := &serverProbe{}
	require.Eventually(t, func() bool {
		probe.poll(s)
		return len(probe.connects) == 1
	}, 2*time.Second, time.Millisecond)
	return s, c, probe
}

func TestLoopback(t *testing.T) {
	s, c, probe := listenAndDial(t)
	id := probe.connects[0]

	require.True(t, c.WriteReliable([]byte("hello")))
	require.True(t, c.WriteUnreliable([]byte("state")))

	require.Eventually(t, func() bool {
		probe.poll(s)
		return len(probe.packets) == 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, received{transport.Reliable, id, []byte("hello")}, probe.packets[0])
	assert.Equal(t, received{transport.Unreliable, id, []byte("state")}, probe.packets[1])

	require.True(t, s.WriteReliable(id, []byte("new object")))
	require.True(t, s.WriteUnreliable(id, []byte{1, 2, 3}))

	var got []received
	require.Eventually(t, func() bool {
		c.ProcessIncoming(func(ch transport.Channel, packet []byte) {
			got = append(got, received{ch: ch, packet: packet})
		}, 5*time.Millisecond, 10)
		return len(got) == 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, received{ch: transport.Reliable, packet: []byte("new object")}, got[0])
	assert.Equal(t, received{ch: transport.Unreliable, packet: []byte{1, 2, 3}}, got[1])
}

func TestServerDisconnectEndsClient(t *testing.T) {
	s, c, probe := listenAndDial(t)

	s.Disconnect(probe.connects[0])
	assert.False(t, s.WriteReliable(probe.connects[0], []byte("late")))

	require.Eventually(t, func() bool {
		return !c.ProcessIncoming(func(transport.Channel, []byte) {}, 5*time.Millisecond, 10)
	}, 2*time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		probe.poll(s)
		return len(probe.disconnects) == 1
	}, 2*time.Second, time.Millisecond)
	assert.False(t, c.WriteReliable([]byte("after")))
}

func TestClientCloseReportsDisconnect(t *testing.T) {
	s, c, probe := listenAndDial(t)
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		probe.poll(s)
		return len(probe.disconnects) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, probe.connects, probe.disconnects)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), URL("127.0.0.1:1"), transport.Options{})
	var setup *transport.SetupError
	assert.ErrorAs(t, err, &setup)
}

func TestOversizedPacketRejected(t *testing.T) {
	s, c, probe := listenAndDial(t)
	big := make([]byte, 4096)
	assert.False(t, c.WriteUnreliable(big))
	assert.False(t, s.WriteReliable(probe.connects[0], big))
}
