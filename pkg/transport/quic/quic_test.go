package quic

import (
	"context"
	"testing"
	"time"

	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopback(t *testing.T) {
	tlsConf, err := SelfSignedTLS()
	require.NoError(t, err)

	s, err := Listen("127.0.0.1:0", tlsConf, transport.Options{})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.Addr().String(), ClientTLS(), transport.Options{})
	require.NoError(t, err)
	defer c.Close()

	var (
		connected    []transport.ClientID
		disconnected []transport.ClientID
		reliable     [][]byte
		datagrams    [][]byte
	)
	poll := func() {
		s.ProcessIncoming(
			func(ch transport.Channel, from transport.ClientID, packet []byte) {
				if ch == transport.Reliable {
					reliable = append(reliable, packet)
				} else {
					datagrams = append(datagrams, packet)
				}
			},
			func(id transport.ClientID, connecting bool) {
				if connecting {
					connected = append(connected, id)
				} else {
					disconnected = append(disconnected, id)
				}
			},
			5*time.Millisecond, 20,
		)
	}

	require.Eventually(t, func() bool {
		poll()
		return len(connected) == 1
	}, 5*time.Second, time.Millisecond)
	id := connected[0]
	assert.NotEmpty(t, id)

	require.True(t, c.WriteReliable([]byte("hi")))
	require.Eventually(t, func() bool {
		c.WriteUnreliable([]byte{3})
		poll()
		return len(reliable) == 1 && len(datagrams) > 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("hi"), reliable[0])
	assert.Equal(t, []byte{3}, datagrams[0])

	require.True(t, s.WriteReliable(id, []byte("welcome")))
	var got []byte
	require.Eventually(t, func() bool {
		ok := c.ProcessIncoming(func(ch transport.Channel, packet []byte) {
			if ch == transport.Reliable {
				got = packet
			}
		}, 5*time.Millisecond, 10)
		return ok && got != nil
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, []byte("welcome"), got)

	s.Disconnect(id)
	require.Eventually(t, func() bool {
		return !c.ProcessIncoming(func(transport.Channel, []byte) {}, 5*time.Millisecond, 10)
	}, 5*time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		poll()
		return len(disconnected) == 1
	}, 5*time.Second, time.Millisecond)
	assert.False(t, s.WriteUnreliable(id, []byte{1}))
}

func TestListenBadAddress(t *testing.T) {
	tlsConf, err := SelfSignedTLS()
	require.NoError(t, err)

	_, err = Listen("not-an-address", tlsConf, transport.Options{})
	var setup *transport.SetupError
	assert.ErrorAs(t, err, &setup)
}
