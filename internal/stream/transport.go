package stream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the minimal transport surface the connection manager needs. The
// production implementation wraps a gorilla websocket connection; tests
// inject a fake.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

// Dialer establishes transport connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebsocketDialer dials gorilla websocket connections with ping keepalive.
type WebsocketDialer struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// NewWebsocketDialer returns a dialer with the given keepalive settings.
func NewWebsocketDialer(pingInterval, writeTimeout time.Duration) *WebsocketDialer {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WebsocketDialer{PingInterval: pingInterval, WriteTimeout: writeTimeout}
}

func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	wc := &wsConn{
		conn:         conn,
		pingInterval: d.PingInterval,
		writeTimeout: d.WriteTimeout,
		done:         make(chan struct{}),
	}

	pongWait := 2 * d.PingInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go wc.pingLoop()
	return wc, nil
}

type wsConn struct {
	conn         *websocket.Conn
	pingInterval time.Duration
	writeTimeout time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, payload, err := c.conn.ReadMessage()
	return payload, err
}

func (c *wsConn) WriteMessage(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
