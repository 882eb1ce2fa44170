package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marketbot/relay/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	maxFrameBytes  = 512 * 1024
	sendQueueDepth = 64
)

// Client is one operator WebSocket connection. Until the connect handshake
// succeeds only the connect method is accepted.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	done   chan struct{}

	connected bool // handshake completed
	role      string
	scopes    []string
	info      protocol.ConnectClient
}

// NewClient wraps an accepted connection.
func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: server,
		send:   make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
	}
}

// ID returns the server-assigned client id.
func (c *Client) ID() string { return c.id }

// Connected reports whether the handshake completed.
func (c *Client) Connected() bool { return c.connected }

// Run drives the connection: sends the challenge, then pumps frames until
// the peer goes away or ctx ends.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump()

	// The challenge goes out before any request is read.
	c.SendEvent(*protocol.NewEvent(protocol.EventConnectChallenge, protocol.ChallengeData{
		Nonce:    newNonce(),
		Protocol: protocol.ProtocolVersion,
	}))

	c.readPump(ctx)
}

// Close shuts the connection down.
func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.conn.Close()
}

func (c *Client) readPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(raw, &req); err != nil || req.Type != protocol.FrameTypeRequest {
			c.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "expected a request frame"))
			if !c.connected {
				return
			}
			continue
		}

		if !c.server.dispatch(ctx, c, &req) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendResponse queues a response frame. Full queues drop the frame rather
// than block the dispatcher.
func (c *Client) SendResponse(res protocol.ResponseFrame) {
	c.enqueue(res)
}

// SendEvent queues an event frame.
func (c *Client) SendEvent(event protocol.EventFrame) {
	c.enqueue(event)
}

func (c *Client) enqueue(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("frame marshal failed", "client", c.id, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		slog.Warn("client send queue full, dropping frame", "client", c.id)
	}
}

func newNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
