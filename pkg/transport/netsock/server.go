// Package netsock implements the transport roles over a TCP stream for the
// reliable channel and a UDP socket on the same port for datagrams.
package netsock

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/transport"
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
	conn   *net.TCPConn
	packet []byte
	err    error
}

type conn struct {
	id      transport.ClientID
	tcp     *net.TCPConn
	udpAddr *net.UDPAddr
	closing bool
}

// Implements transport.Server
type Server struct {
	opts transport.Options
	log  netlog.Logger

	listener *net.TCPListener
	udp      *net.UDPConn

	events chan event
	// conns is only touched by the goroutine calling ProcessIncoming.
	conns map[transport.ClientID]*conn

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Listen binds TCP and UDP on the same port. With port 0 the TCP listener picks
// the port and UDP follows it.
func Listen(port int, opts transport.Options) (*Server, error) {
	opts = opts.WithDefaults()

	l, err := net.ListenTCP("tcp", &net.TCPAddr{Port: port})
	if err != nil {
		return nil, &transport.SetupError{Op: "listen tcp", Addr: ":" + strconv.Itoa(port), Err: err}
	}
	bound := l.Addr().(*net.TCPAddr).Port

	udp, err := net.ListenUDP("udp", &net.UDPAddr{Port: bound})
	if err != nil {
		l.Close()
		return nil, &transport.SetupError{Op: "listen udp", Addr: ":" + strconv.Itoa(bound), Err: err}
	}

	s := &Server{
		opts:     opts,
		log:      opts.Logger.With("transport", "netsock"),
		listener: l,
		udp:      udp,
		events:   make(chan event, opts.EventBuffer),
		conns:    make(map[transport.ClientID]*conn),
		done:     make(chan struct{}),
	}

	s.wg.Add(2)
	go s.acceptLoop()
	go s.datagramLoop()

	s.log.Info("listening", "port", bound)
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ============================================================
// Socket readers
// ============================================================

func (s *Server) push(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		c, err := s.listener.AcceptTCP()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}
		c.SetNoDelay(true)
		s.push(event{kind: evAccept, conn: c})
	}
}

func (s *Server) streamLoop(id transport.ClientID, c *net.TCPConn) {
	defer s.wg.Done()

	r := bufio.NewReader(c)
	for {
		packet, err := transport.ReadFrame(r, s.opts.MaxPacketSize)
		if err != nil {
			s.push(event{kind: evStreamClosed, id: id, err: err})
			return
		}
		s.push(event{kind: evFrame, id: id, packet: packet})
	}
}

func (s *Server) datagramLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.opts.MaxPacketSize)
	for {
		n, addr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		select {
		case s.events <- event{kind: evDatagram, id: transport.ClientID(addr.String()), packet: packet}:
		case <-s.done:
			return
		default:
			s.log.Debug("event queue full, dropping datagram", "from", addr.String())
		}
	}
}

// ============================================================
// Multiplexing
// ============================================================

// ProcessIncoming handles at most maxIterations readiness events, each waited
// for up to timeout. It returns as soon as a wait times out.
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
		remote := ev.conn.RemoteAddr().(*net.TCPAddr)
		id := transport.ClientID(remote.String())
		s.conns[id] = &conn{
			id:      id,
			tcp:     ev.conn,
			udpAddr: &net.UDPAddr{IP: remote.IP, Port: remote.Port, Zone: remote.Zone},
		}
		s.wg.Add(1)
		go s.streamLoop(id, ev.conn)

		s.log.Debug("client connected", "client", id)
		onConn(id, true)

	case evFrame:
		if _, ok := s.conns[ev.id]; ok {
			onReceive(transport.Reliable, ev.id, ev.packet)
		}

	case evStreamClosed:
		c, ok := s.conns[ev.id]
		if !ok {
			return
		}
		delete(s.conns, ev.id)
		c.tcp.Close()

		s.log.Debug("client disconnected", "client", ev.id, "reason", ev.err)
		onConn(ev.id, false)

	case evDatagram:
		if _, ok := s.conns[ev.id]; !ok {
			s.log.Debug("datagram from unknown client", "from", ev.id)
			return
		}
		onReceive(transport.Unreliable, ev.id, ev.packet)
	}
}

// ============================================================
// Writing
// ============================================================

// WriteReliable reports false when the stream write fails, which usually means
// the client is gone. The disconnect itself is reported by ProcessIncoming.
func (s *Server) WriteReliable(id transport.ClientID, packet []byte) bool {
	c, ok := s.conns[id]
	if !ok || c.closing {
		return false
	}
	c.tcp.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := transport.WriteFrame(c.tcp, packet); err != nil {
		s.log.Debug("reliable write failed", "client", id, "error", err)
		return false
	}
	return true
}

func (s *Server) WriteUnreliable(id transport.ClientID, packet []byte) bool {
	c, ok := s.conns[id]
	if !ok || c.closing || len(packet) > s.opts.MaxPacketSize {
		return false
	}
	_, err := s.udp.WriteToUDP(packet, c.udpAddr)
	return err == nil
}

// Disconnect closes the client's stream. The disconnect callback follows from
// a later ProcessIncoming call.
func (s *Server) Disconnect(id transport.ClientID) {
	c, ok := s.conns[id]
	if !ok || c.closing {
		return
	}
	c.closing = true
	c.tcp.Close()
}

// Close stops the readers and drops every connection. It must not run
// concurrently with ProcessIncoming.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		err = errors.Join(s.listener.Close(), s.udp.Close())
		s.drainPending()
		for id, c := range s.conns {
			c.tcp.Close()
			delete(s.conns, id)
		}
		s.wg.Wait()
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
