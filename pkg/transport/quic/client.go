package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/quic-go/quic-go"
)

// Implements transport.Client
type Client struct {
	opts   transport.Options
	log    netlog.Logger
	conn   *quic.Conn
	stream *quic.Stream

	events chan event
	gone   bool

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects and opens the control stream. An empty frame announces the
// stream to the server.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, opts transport.Options) (*Client, error) {
	opts = opts.WithDefaults()

	conn, err := quic.DialAddr(ctx, addr, tlsConf, defaultConfig())
	if err != nil {
		return nil, &transport.SetupError{Op: "dial quic", Addr: addr, Err: err}
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(closeDropped, "")
		return nil, &transport.SetupError{Op: "open stream", Addr: addr, Err: err}
	}
	if err := transport.WriteFrame(stream, nil); err != nil {
		conn.CloseWithError(closeDropped, "")
		return nil, &transport.SetupError{Op: "open stream", Addr: addr, Err: err}
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:   opts,
		log:    opts.Logger.With("transport", "quic", "local", conn.LocalAddr().String()),
		conn:   conn,
		stream: stream,
		events: make(chan event, opts.EventBuffer),
		ctx:    cctx,
		cancel: cancel,
	}

	c.wg.Add(2)
	go c.streamLoop()
	go c.datagramLoop()
	return c, nil
}

func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Client) streamLoop() {
	defer c.wg.Done()

	r := bufio.NewReader(c.stream)
	for {
		packet, err := transport.ReadFrame(r, c.opts.MaxPacketSize)
		if err != nil {
			select {
			case c.events <- event{kind: evStreamClosed, err: err}:
			case <-c.ctx.Done():
			}
			return
		}
		select {
		case c.events <- event{kind: evFrame, packet: packet}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) datagramLoop() {
	defer c.wg.Done()

	for {
		packet, err := c.conn.ReceiveDatagram(c.ctx)
		if err != nil {
			return
		}
		select {
		case c.events <- event{kind: evDatagram, packet: packet}:
		case <-c.ctx.Done():
			return
		default:
		}
	}
}

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
		case <-c.ctx.Done():
			return false
		}
	}
	return true
}

func (c *Client) WriteReliable(packet []byte) bool {
	if c.gone || c.closed.Load() {
		return false
	}
	c.stream.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := transport.WriteFrame(c.stream, packet); err != nil {
		c.log.Debug("reliable write failed", "error", err)
		return false
	}
	return true
}

func (c *Client) WriteUnreliable(packet []byte) bool {
	if c.gone || c.closed.Load() || len(packet) > c.opts.MaxPacketSize {
		return false
	}
	return c.conn.SendDatagram(packet) == nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		err = c.conn.CloseWithError(closeNormal, "client closed")
		c.wg.Wait()
	})
	return err
}
