package websockets

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/gorilla/websocket"
)

// Implements transport.Client
type Client struct {
	opts transport.Options
	log  netlog.Logger
	conn *websocket.Conn

	events chan event
	gone   bool

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Dial connects to a server URL as built by URL.
func Dial(ctx context.Context, url string, opts transport.Options) (*Client, error) {
	opts = opts.WithDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		ReadBufferSize:   opts.MaxPacketSize,
		WriteBufferSize:  opts.MaxPacketSize,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &transport.SetupError{Op: "dial websocket", Addr: url, Err: err}
	}
	conn.SetReadLimit(int64(opts.MaxPacketSize) + 1)

	c := &Client{
		opts:   opts,
		log:    opts.Logger.With("transport", "websocket", "local", conn.LocalAddr().String()),
		conn:   conn,
		events: make(chan event, opts.EventBuffer),
		done:   make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.events <- event{kind: evClosed, err: err}:
			case <-c.done:
			}
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		ch, packet, ok := decode(msg)
		if !ok {
			continue
		}

		ev := event{kind: evMessage, ch: ch, packet: packet}
		if ch == transport.Reliable {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		default:
		}
	}
}

// ProcessIncoming returns false once the server closed the connection.
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
			if ev.kind == evClosed {
				c.log.Info("server closed the connection", "reason", ev.err)
				c.gone = true
				return false
			}
			onReceive(ev.ch, ev.packet)
		case <-timer.C:
			return true
		case <-c.done:
			return false
		}
	}
	return true
}

func (c *Client) write(ch transport.Channel, packet []byte) bool {
	if c.gone || c.closed.Load() || len(packet) > c.opts.MaxPacketSize {
		return false
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, encode(ch, packet)); err != nil {
		c.log.Debug("write failed", "channel", ch, "error", err)
		return false
	}
	return true
}

func (c *Client) WriteReliable(packet []byte) bool {
	return c.write(transport.Reliable, packet)
}

func (c *Client) WriteUnreliable(packet []byte) bool {
	return c.write(transport.Unreliable, packet)
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = closeConn(c.conn, websocket.CloseNormalClosure, "")
		c.wg.Wait()
	})
	return err
}
