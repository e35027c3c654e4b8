package netsock

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/transport"
)

// Implements transport.Client
type Client struct {
	opts transport.Options
	log  netlog.Logger

	tcp *net.TCPConn
	udp *net.UDPConn

	events chan event
	gone   bool

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Dial connects to serverAddr from localPort, or an ephemeral port when 0. The
// UDP socket shares the TCP local address so the server can match datagrams
// to the stream.
func Dial(serverAddr string, localPort int, opts transport.Options) (*Client, error) {
	opts = opts.WithDefaults()

	raddr, err := net.ResolveTCPAddr("tcp", serverAddr)
	if err != nil {
		return nil, &transport.SetupError{Op: "resolve", Addr: serverAddr, Err: err}
	}

	var laddr *net.TCPAddr
	if localPort != 0 {
		laddr = &net.TCPAddr{Port: localPort}
	}
	tcp, err := net.DialTCP("tcp", laddr, raddr)
	if err != nil {
		return nil, &transport.SetupError{Op: "dial tcp", Addr: serverAddr, Err: err}
	}
	tcp.SetNoDelay(true)

	local := tcp.LocalAddr().(*net.TCPAddr)
	udp, err := net.DialUDP("udp",
		&net.UDPAddr{IP: local.IP, Port: local.Port, Zone: local.Zone},
		&net.UDPAddr{IP: raddr.IP, Port: raddr.Port, Zone: raddr.Zone},
	)
	if err != nil {
		tcp.Close()
		return nil, &transport.SetupError{Op: "dial udp", Addr: serverAddr, Err: err}
	}

	c := &Client{
		opts:   opts,
		log:    opts.Logger.With("transport", "netsock", "local", local.String()),
		tcp:    tcp,
		udp:    udp,
		events: make(chan event, opts.EventBuffer),
		done:   make(chan struct{}),
	}

	c.wg.Add(2)
	go c.streamLoop()
	go c.datagramLoop()
	return c, nil
}

func (c *Client) LocalAddr() net.Addr {
	return c.tcp.LocalAddr()
}

func (c *Client) push(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) streamLoop() {
	defer c.wg.Done()

	r := bufio.NewReader(c.tcp)
	for {
		packet, err := transport.ReadFrame(r, c.opts.MaxPacketSize)
		if err != nil {
			c.push(event{kind: evStreamClosed, err: err})
			return
		}
		c.push(event{kind: evFrame, packet: packet})
	}
}

func (c *Client) datagramLoop() {
	defer c.wg.Done()

	buf := make([]byte, c.opts.MaxPacketSize)
	for {
		n, err := c.udp.Read(buf)
		if err != nil {
			if c.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP unreachable surfaces here while the server port is closed.
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		select {
		case c.events <- event{kind: evDatagram, packet: packet}:
		case <-c.done:
			return
		default:
		}
	}
}

// ProcessIncoming returns false once the server closed the stream.
func (c *Client) ProcessIncoming(onReceive transport.ClientReceiveFunc, timeout time.Duration, maxIterations int) bool {
	if c.gone || c.closed.Load() {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i := 0; i < maxIterations; i++ {
		if i > 0 {
			timer.Reset(timeout)
		}
		select {
		case ev := <-c.events:
			switch ev.kind {
			case evFrame:
				onReceive(transport.Reliable, ev.packet)
			case evDatagram:
				onReceive(transport.Unreliable, ev.packet)
			case evStreamClosed:
				c.log.Info("server closed the connection", "reason", ev.err)
				c.gone = true
				return false
			}
		case <-timer.C:
			return true
		case <-c.done:
			return false
		}
	}
	return true
}

func (c *Client) WriteReliable(packet []byte) bool {
	if c.gone || c.closed.Load() {
		return false
	}
	c.tcp.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := transport.WriteFrame(c.tcp, packet); err != nil {
		c.log.Debug("reliable write failed", "error", err)
		return false
	}
	return true
}

func (c *Client) WriteUnreliable(packet []byte) bool {
	if c.gone || c.closed.Load() || len(packet) > c.opts.MaxPacketSize {
		return false
	}
	_, err := c.udp.Write(packet)
	return err == nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = errors.Join(c.tcp.Close(), c.udp.Close())
		c.wg.Wait()
	})
	return err
}
