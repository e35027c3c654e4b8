// Package websockets implements the transport roles over a single WebSocket
// per client. Both channels share the connection; every message starts with a
// channel tag, and unreliable messages are dropped rather than queued when the
// reader falls behind.
package websockets

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/gorilla/websocket"
)

// Path is where the server accepts upgrades.
const Path = "/replica"

const (
	tagReliable byte = iota
	tagUnreliable
)

type eventKind uint8

const (
	evAccept eventKind = iota
	evMessage
	evClosed
)

type event struct {
	kind   eventKind
	id     transport.ClientID
	conn   *websocket.Conn
	ch     transport.Channel
	packet []byte
	err    error
}

type peer struct {
	conn    *websocket.Conn
	closing bool
}

// URL builds the address a client dials for a server at host:port.
func URL(addr string) string {
	return "ws://" + addr + Path
}

func encode(ch transport.Channel, packet []byte) []byte {
	tag := tagReliable
	if ch == transport.Unreliable {
		tag = tagUnreliable
	}
	msg := make([]byte, 0, len(packet)+1)
	msg = append(msg, tag)
	return append(msg, packet...)
}

func decode(msg []byte) (transport.Channel, []byte, bool) {
	if len(msg) == 0 {
		return 0, nil, false
	}
	switch msg[0] {
	case tagReliable:
		return transport.Reliable, msg[1:], true
	case tagUnreliable:
		return transport.Unreliable, msg[1:], true
	}
	return 0, nil, false
}

// Implements transport.Server
type Server struct {
	opts     transport.Options
	log      netlog.Logger
	upgrader websocket.Upgrader

	listener net.Listener
	http     *http.Server

	events chan event
	// peers is only touched by the goroutine calling ProcessIncoming.
	peers map[transport.ClientID]*peer

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func Listen(addr string, opts transport.Options) (*Server, error) {
	opts = opts.WithDefaults()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &transport.SetupError{Op: "listen websocket", Addr: addr, Err: err}
	}

	s := &Server{
		opts: opts,
		log:  opts.Logger.With("transport", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.MaxPacketSize,
			WriteBufferSize: opts.MaxPacketSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		listener: ln,
		events:   make(chan event, opts.EventBuffer),
		peers:    make(map[transport.ClientID]*peer),
		done:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.serveWS)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", "error", err)
		}
	}()

	s.log.Info("listening", "addr", ln.Addr().String())
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ============================================================
// Connection readers
// ============================================================

func (s *Server) push(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return
	}
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c.SetReadLimit(int64(s.opts.MaxPacketSize) + 1)

	id := transport.ClientID(c.RemoteAddr().String())
	if !s.push(event{kind: evAccept, id: id, conn: c}) {
		c.Close()
		return
	}
	s.readLoop(id, c)
}

func (s *Server) readLoop(id transport.ClientID, c *websocket.Conn) {
	for {
		typ, msg, err := c.ReadMessage()
		if err != nil {
			s.push(event{kind: evClosed, id: id, err: err})
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		ch, packet, ok := decode(msg)
		if !ok {
			s.log.Debug("untagged message", "client", id)
			continue
		}

		ev := event{kind: evMessage, id: id, ch: ch, packet: packet}
		if ch == transport.Reliable {
			if !s.push(ev) {
				return
			}
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		default:
			s.log.Debug("event queue full, dropping unreliable message", "client", id)
		}
	}
}

// ============================================================
// Multiplexing
// ============================================================

// ProcessIncoming handles at most maxIterations events, each waited for up to
// timeout. It returns as soon as a wait times out.
func (s *Server) ProcessIncoming(onReceive transport.ReceiveFunc, onConn transport.ConnectionFunc, timeout time.Duration, maxIterations int) {
	if s.closed.Load() {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i := 0; i < maxIterations; i++ {
		if i > 0 {
			timer.Reset(timeout)
		}
		select {
		case ev := <-s.events:
			s.handle(ev, onReceive, onConn)
		case <-timer.C:
			return
		case <-s.done:
			return
		}
	}
}

func (s *Server) handle(ev event, onReceive transport.ReceiveFunc, onConn transport.ConnectionFunc) {
	switch ev.kind {
	case evAccept:
		s.peers[ev.id] = &peer{conn: ev.conn}
		s.log.Debug("client connected", "client", ev.id)
		onConn(ev.id, true)

	case evMessage:
		if _, ok := s.peers[ev.id]; ok {
			onReceive(ev.ch, ev.id, ev.packet)
		}

	case evClosed:
		p, ok := s.peers[ev.id]
		if !ok {
			return
		}
		delete(s.peers, ev.id)
		p.conn.Close()

		s.log.Debug("client disconnected", "client", ev.id, "reason", ev.err)
		onConn(ev.id, false)
	}
}

// ============================================================
// Writing
// ============================================================

func (s *Server) write(id transport.ClientID, ch transport.Channel, packet []byte) bool {
	p, ok := s.peers[id]
	if !ok || p.closing || len(packet) > s.opts.MaxPacketSize {
		return false
	}
	p.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := p.conn.WriteMessage(websocket.BinaryMessage, encode(ch, packet)); err != nil {
		s.log.Debug("write failed", "client", id, "channel", ch, "error", err)
		return false
	}
	return true
}

func (s *Server) WriteReliable(id transport.ClientID, packet []byte) bool {
	return s.write(id, transport.Reliable, packet)
}

func (s *Server) WriteUnreliable(id transport.ClientID, packet []byte) bool {
	return s.write(id, transport.Unreliable, packet)
}

// Disconnect sends a close frame and drops the connection. The disconnect
// callback follows from a later ProcessIncoming call.
func (s *Server) Disconnect(id transport.ClientID) {
	p, ok := s.peers[id]
	if !ok || p.closing {
		return
	}
	p.closing = true
	closeConn(p.conn, websocket.ClosePolicyViolation, "disconnected by server")
}

// Close stops accepting and drops every connection. It must not run
// concurrently with ProcessIncoming.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		err = s.http.Close()
		s.drainPending()
		for id, p := range s.peers {
			closeConn(p.conn, websocket.CloseGoingAway, "server shutting down")
			delete(s.peers, id)
		}
		s.log.Info("transport closed")
	})
	return err
}

func (s *Server) drainPending() {
	for {
		select {
		case ev := <-s.events:
			if ev.kind == evAccept {
				ev.conn.Close()
			}
		default:
			return
		}
	}
}

func closeConn(c *websocket.Conn, code int, reason string) error {
	err := c.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	return errors.Join(err, c.Close())
}
