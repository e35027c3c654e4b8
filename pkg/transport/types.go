// Package transport multiplexes a reliable ordered channel and an unreliable
// datagram channel per peer. The server and client roles are served by the
// netsock (TCP and UDP) and quic backends.
package transport

import (
	"net"
	"time"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/wire"
)

// ClientID names a connected client. It is derived from the peer address.
type ClientID string

type Channel uint8

const (
	Reliable Channel = iota
	Unreliable
)

func (c Channel) String() string {
	if c == Reliable {
		return "reliable"
	}
	return "unreliable"
}

type ReceiveFunc func(ch Channel, from ClientID, packet []byte)

type ConnectionFunc func(id ClientID, connecting bool)

type ClientReceiveFunc func(ch Channel, packet []byte)

// Server accepts clients and exchanges packets with them. Callbacks passed to
// ProcessIncoming run on the calling goroutine, which is also the only one
// allowed to write.
type Server interface {
	ProcessIncoming(onReceive ReceiveFunc, onConn ConnectionFunc, timeout time.Duration, maxIterations int)
	WriteReliable(id ClientID, packet []byte) bool
	WriteUnreliable(id ClientID, packet []byte) bool
	Disconnect(id ClientID)
	Addr() net.Addr
	Close() error
}

// Client is connected to exactly one server. ProcessIncoming returns false
// once the server has gone away.
type Client interface {
	ProcessIncoming(onReceive ClientReceiveFunc, timeout time.Duration, maxIterations int) bool
	WriteReliable(packet []byte) bool
	WriteUnreliable(packet []byte) bool
	LocalAddr() net.Addr
	Close() error
}

type Options struct {
	Logger        netlog.Logger
	MaxPacketSize int
	// EventBuffer sizes the queue between socket readers and ProcessIncoming.
	EventBuffer  int
	WriteTimeout time.Duration
}

func (o Options) WithDefaults() Options {
	o.Logger = netlog.OrNop(o.Logger)
	if o.MaxPacketSize <= 0 {
		o.MaxPacketSize = wire.MaxPacketSize
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = time.Second
	}
	return o
}
