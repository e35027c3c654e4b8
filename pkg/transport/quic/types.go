// Package quic implements the transport roles over a single QUIC connection
// per client. The first bidirectional stream opened by the client carries the
// reliable channel and QUIC datagrams carry the unreliable one.
package quic

import (
	"time"

	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/quic-go/quic-go"
)

// ALPN protocol negotiated by both roles.
const NextProto = "replica-quic"

const (
	closeNormal  quic.ApplicationErrorCode = 0x0
	closeDropped quic.ApplicationErrorCode = 0x1
)

type eventKind uint8

const (
	evAccept eventKind = iota
	evFrame
	evStreamClosed
	evDatagram
)

type event struct {
	kind   eventKind
	id     transport.ClientID
	conn   *quic.Conn
	stream *quic.Stream
	packet []byte
	err    error
}

func defaultConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  10 * time.Second,
		KeepAlivePeriod: 2 * time.Second,
	}
}
