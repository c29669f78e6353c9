package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/triarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message or pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Dialer opens market data connections.
type Dialer struct {
	HandshakeTimeout time.Duration
}

// NewDialer returns a Dialer with the given handshake timeout (10s when zero).
func NewDialer(handshakeTimeout time.Duration) *Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &Dialer{HandshakeTimeout: handshakeTimeout}
}

// Dial connects to url and starts the keepalive loop. The caller owns the
// returned Conn and must Close it.
func (d *Dialer) Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("binance/ws: dial: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("binance/ws: dial: %w", err)
	}

	c := &Conn{
		conn: ws,
		done: make(chan struct{}),
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	// Binance pings every few minutes; answer under the write lock so the
	// reply never interleaves with our own pings.
	ws.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	go c.pingLoop()
	return c, nil
}

// Conn is a single live WebSocket connection.
type Conn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// ReadFrame blocks until the next data frame arrives. Any error means the
// connection is unusable.
func (c *Conn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil, fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
			default:
			}
			return nil, fmt.Errorf("binance/ws: read: %w", err)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and tears down the socket. It unblocks a
// pending ReadFrame and is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
