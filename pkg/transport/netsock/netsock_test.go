package netsock

import (
	"fmt"
	"net"
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

func listen(t *testing.T) (*Server, string) {
	t.Helper()
	s, err := Listen(0, transport.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, fmt.Sprintf("127.0.0.1:%d", s.Addr().(*net.TCPAddr).Port)
}

func TestLoopback(t *testing.T) {
	s, addr := listen(t)
	probe := &serverProbe{}

	c, err := Dial(addr, 0, transport.Options{})
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool {
		probe.poll(s)
		return len(probe.connects) == 1
	}, 2*time.Second, time.Millisecond)

	id := probe.connects[0]
	assert.Equal(t, transport.ClientID(c.LocalAddr().String()), id)

	require.True(t, c.WriteReliable([]byte("hello")))
	require.Eventually(t, func() bool {
		probe.poll(s)
		return len(probe.packets) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, received{transport.Reliable, id, []byte("hello")}, probe.packets[0])

	require.Eventually(t, func() bool {
		c.WriteUnreliable([]byte{42})
		probe.poll(s)
		for _, p := range probe.packets {
			if p.ch == transport.Unreliable {
				return assert.Equal(t, id, p.from) && assert.Equal(t, []byte{42}, p.packet)
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, s.WriteReliable(id, []byte("state?")))
	var gotReliable, gotDatagram bool
	require.Eventually(t, func() bool {
		s.WriteUnreliable(id, []byte{1, 2})
		ok := c.ProcessIncoming(func(ch transport.Channel, packet []byte) {
			switch ch {
			case transport.Reliable:
				gotReliable = assert.Equal(t, []byte("state?"), packet)
			case transport.Unreliable:
				gotDatagram = assert.Equal(t, []byte{1, 2}, packet)
			}
		}, 5*time.Millisecond, 10)
		return ok && gotReliable && gotDatagram
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool {
		probe.poll(s)
		return len(probe.disconnects) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, id, probe.disconnects[0])
	assert.False(t, s.WriteReliable(id, []byte("late")))
}

func TestServerDisconnectEndsClient(t *testing.T) {
	s, addr := listen(t)
	probe := &serverProbe{}

	c, err := Dial(addr, 0, transport.Options{})
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool {
		probe.poll(s)
		return len(probe.connects) == 1
	}, 2*time.Second, time.Millisecond)

	s.Disconnect(probe.connects[0])

	require.Eventually(t, func() bool {
		return !c.ProcessIncoming(func(transport.Channel, []byte) {}, 5*time.Millisecond, 10)
	}, 2*time.Second, time.Millisecond)
	assert.False(t, c.WriteReliable([]byte("x")))

	require.Eventually(t, func() bool {
		probe.poll(s)
		return len(probe.disconnects) == 1
	}, 2*time.Second, time.Millisecond)
}

func TestUnknownDatagramDropped(t *testing.T) {
	s, addr := listen(t)
	probe := &serverProbe{}

	stray, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer stray.Close()

	for i := 0; i < 10; i++ {
		_, err := stray.Write([]byte{9})
		require.NoError(t, err)
		probe.poll(s)
	}
	assert.Empty(t, probe.packets)
	assert.Empty(t, probe.connects)
}

func TestListenPortInUse(t *testing.T) {
	s, _ := listen(t)
	_, err := Listen(s.Addr().(*net.TCPAddr).Port, transport.Options{})

	var setup *transport.SetupError
	require.ErrorAs(t, err, &setup)
}

func TestProcessIncomingTimesOut(t *testing.T) {
	s, _ := listen(t)
	start := time.Now()
	(&serverProbe{}).poll(s)
	assert.Less(t, time.Since(start), time.Second)
}
