package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/fable/internal/session"
	"github.com/nextlevelbuilder/fable/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client wraps one WebSocket connection. The write pump is the only
// goroutine that touches the connection for writes; everything else goes
// through the outbound channel.
type Client struct {
	conn *websocket.Conn
	hub  *Server

	outbound chan protocol.Message
	done     chan struct{}

	mu       sync.Mutex
	sess     *session.Session
	token    string
	lastPing time.Time
	closed   bool
}

func newClient(conn *websocket.Conn, hub *Server) *Client {
	c := &Client{
		conn:     conn,
		hub:      hub,
		outbound: make(chan protocol.Message, sendBufferSize),
		done:     make(chan struct{}),
		lastPing: time.Now(),
	}
	go c.writePump()
	return c
}

func (c *Client) attachSession(s *session.Session, token string) {
	c.mu.Lock()
	c.sess = s
	c.token = token
	c.mu.Unlock()
}

// Send queues a message for delivery. A full buffer means the client has
// stopped reading; the message is dropped rather than blocking the session.
func (c *Client) Send(msg protocol.Message) {
	select {
	case <-c.done:
	case c.outbound <- msg:
	default:
		slog.Warn("gateway.send_buffer_full", "type", msg.Type)
	}
}

func (c *Client) sendError(code, message string, retryable bool, details string) {
	c.Send(protocol.NewMessage(protocol.TypeError, protocol.ErrorPayload{
		Code:             code,
		Message:          message,
		Retryable:        retryable,
		TechnicalDetails: details,
	}))
}

// closeWith sends a close frame with the given status and reason, then
// tears the connection down. Safe to call more than once.
func (c *Client) closeWith(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	// Give the write pump a moment to flush queued frames. Control frames
	// may be written concurrently with the pump.
	time.Sleep(drainGrace)

	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	close(c.done)
	c.conn.Close()
}

func (c *Client) lastPingTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// run is the read pump. It returns when the connection drops or closes.
func (c *Client) run() {
	defer c.closeWith(websocket.CloseNormalClosure, "")

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("gateway.read_failed", "error", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("gateway.malformed_message", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch routes one inbound message. Unknown types are logged and
// ignored so older clients keep working.
func (c *Client) dispatch(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePing:
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		c.Send(protocol.NewMessage(protocol.TypePong, nil))

	case protocol.TypePlayerInput:
		var p protocol.PlayerInputPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError(protocol.ErrGM, "Malformed player_input payload.", true, err.Error())
			return
		}
		c.mu.Lock()
		sess := c.sess
		c.mu.Unlock()
		if sess == nil || !sess.Initialized() {
			c.sendError(protocol.ErrGM, "Adventure is still loading. Try again in a moment.", true, "")
			return
		}
		sess.HandleInput(p.Text, false)

	case protocol.TypeRecap:
		c.mu.Lock()
		sess := c.sess
		c.mu.Unlock()
		if sess == nil || !sess.Initialized() {
			c.sendError(protocol.ErrGM, "Adventure is still loading. Try again in a moment.", true, "")
			return
		}
		// Recap holds the processor slot for its whole flow; keep the read
		// pump free to answer pings while it runs.
		go sess.HandleRecap()

	case protocol.TypeAuthenticate:
		var p protocol.AuthenticatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		c.mu.Lock()
		token := c.token
		c.mu.Unlock()
		if subtle.ConstantTimeCompare([]byte(p.Token), []byte(token)) != 1 {
			c.sendError(protocol.ErrInvalidToken, "Token does not match this connection.", false, "")
		}

	case protocol.TypeStartAdventure:
		// Legacy clients send this after connect. The session initializes
		// from query parameters instead.

	default:
		slog.Debug("gateway.unknown_message", "type", msg.Type)
	}
}

// writePump serializes all writes to the connection.
func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbound:
			c.writeMessage(msg)
		}
	}
}

func (c *Client) writeMessage(msg protocol.Message) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Debug("gateway.write_failed", "error", err)
	}
}
