package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/quic-go/quic-go"
)

type peer struct {
	id      transport.ClientID
	conn    *quic.Conn
	stream  *quic.Stream
	closing bool
}

// Implements transport.Server
type Server struct {
	opts     transport.Options
	log      netlog.Logger
	listener *quic.Listener

	events chan event
	// peers is only touched by the goroutine calling ProcessIncoming.
	peers map[transport.ClientID]*peer

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func Listen(addr string, tlsConf *tls.Config, opts transport.Options) (*Server, error) {
	opts = opts.WithDefaults()

	l, err := quic.ListenAddr(addr, tlsConf, defaultConfig())
	if err != nil {
		return nil, &transport.SetupError{Op: "listen quic", Addr: addr, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		log:      opts.Logger.With("transport", "quic"),
		listener: l,
		events:   make(chan event, opts.EventBuffer),
		peers:    make(map[transport.ClientID]*peer),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("listening", "addr", l.Addr().String())
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) push(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			if s.closed.Load() || errors.Is(err, quic.ErrServerClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.awaitStream(conn)
	}
}

// awaitStream waits for the client's control stream and its opening frame.
func (s *Server) awaitStream(conn *quic.Conn) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(closeDropped, "no control stream")
		return
	}
	if !s.push(event{kind: evAccept, conn: conn, stream: stream}) {
		conn.CloseWithError(closeNormal, "server closed")
	}
}

func (s *Server) streamLoop(p *peer) {
	defer s.wg.Done()

	r := bufio.NewReader(p.stream)
	for {
		packet, err := transport.ReadFrame(r, s.opts.MaxPacketSize)
		if err != nil {
			s.push(event{kind: evStreamClosed, id: p.id, err: err})
			return
		}
		if len(packet) == 0 {
			continue
		}
		s.push(event{kind: evFrame, id: p.id, packet: packet})
	}
}

func (s *Server) datagramLoop(p *peer) {
	defer s.wg.Done()

	for {
		packet, err := p.conn.ReceiveDatagram(s.ctx)
		if err != nil {
			return
		}
		select {
		case s.events <- event{kind: evDatagram, id: p.id, packet: packet}:
		case <-s.ctx.Done():
			return
		default:
			s.log.Debug("event queue full, dropping datagram", "from", p.id)
		}
	}
}

// ProcessIncoming handles at most maxIterations events, each waited for up to
// timeout, and returns as soon as a wait times out.
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
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) handle(ev event, onReceive transport.ReceiveFunc, onConn transport.ConnectionFunc) {
	switch ev.kind {
	case evAccept:
		p := &peer{
			id:     transport.ClientID(ev.conn.RemoteAddr().String()),
			conn:   ev.conn,
			stream: ev.stream,
		}
		s.peers[p.id] = p
		s.wg.Add(2)
		go s.streamLoop(p)
		go s.datagramLoop(p)

		s.log.Debug("client connected", "client", p.id)
		onConn(p.id, true)

	case evFrame:
		if _, ok := s.peers[ev.id]; ok {
			onReceive(transport.Reliable, ev.id, ev.packet)
		}

	case evStreamClosed:
		p, ok := s.peers[ev.id]
		if !ok {
			return
		}
		delete(s.peers, ev.id)
		p.conn.CloseWithError(closeNormal, "stream closed")

		s.log.Debug("client disconnected", "client", ev.id, "reason", ev.err)
		onConn(ev.id, false)

	case evDatagram:
		if _, ok := s.peers[ev.id]; ok {
			onReceive(transport.Unreliable, ev.id, ev.packet)
		}
	}
}

func (s *Server) WriteReliable(id transport.ClientID, packet []byte) bool {
	p, ok := s.peers[id]
	if !ok || p.closing {
		return false
	}
	p.stream.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := transport.WriteFrame(p.stream, packet); err != nil {
		s.log.Debug("reliable write failed", "client", id, "error", err)
		return false
	}
	return true
}

func (s *Server) WriteUnreliable(id transport.ClientID, packet []byte) bool {
	p, ok := s.peers[id]
	if !ok || p.closing || len(packet) > s.opts.MaxPacketSize {
		return false
	}
	return p.conn.SendDatagram(packet) == nil
}

func (s *Server) Disconnect(id transport.ClientID) {
	p, ok := s.peers[id]
	if !ok || p.closing {
		return
	}
	p.closing = true
	p.conn.CloseWithError(closeDropped, "disconnected by server")
}

// Close must not run concurrently with ProcessIncoming.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()

		for id, p := range s.peers {
			p.conn.CloseWithError(closeNormal, "server closed")
			delete(s.peers, id)
		}
		err = s.listener.Close()
		s.wg.Wait()

		s.drainPending()
		s.log.Info("transport closed")
	})
	return err
}

func (s *Server) drainPending() {
	for {
		select {
		case ev := <-s.events:
			if ev.kind == evAccept {
				ev.conn.CloseWithError(closeNormal, "server closed")
			}
		default:
			return
		}
	}
}
