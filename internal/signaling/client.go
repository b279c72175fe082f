package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/protocol"
)

var errSendQueueFull = errors.New("signaling: send queue full")

// client is one signaling WebSocket. The hub enqueues frames through Send;
// only writePump touches the socket's write side.
type client struct {
	id string
	ws *websocket.Conn

	send    chan []byte
	closing chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	// identity is written before the client is handed to the hub and only read
	// by the reader goroutine afterwards.
	identity auth.Identity
}

func newClient(id string, ws *websocket.Conn, queueLen int) *client {
	return &client{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, queueLen),
		closing: make(chan struct{}),
	}
}

func (c *client) ID() string { return c.id }

// Send enqueues data without blocking. Frames sent to a closing client are
// discarded.
func (c *client) Send(data []byte) error {
	select {
	case <-c.closing:
		return nil
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendQueueFull
	}
}

func (c *client) Close() error {
	c.closeWith(websocket.CloseGoingAway, "connection closed by server")
	return nil
}

// closeWith asks the writer to flush, send a close frame with code and tear
// the socket down. Only the first call decides the code.
func (c *client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

// fail reports a transport-level error to the peer and then closes.
func (c *client) fail(closeCode int, errCode, message string) {
	if payload, err := protocol.Encode(protocol.EventError, protocol.Error{Code: errCode, Message: message}); err == nil {
		_ = c.Send(payload)
	}
	c.closeWith(closeCode, message)
}

func (c *client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.closing:
			c.flush()
			// closeCode is set before closing is closed.
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason), time.Now().Add(wsWriteWait))
			return
		}
	}
}

// flush writes whatever is already queued so an error frame reaches the peer
// before the close frame.
func (c *client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(msg []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}
