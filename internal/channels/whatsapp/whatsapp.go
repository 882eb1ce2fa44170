// Package whatsapp connects the relay to a WhatsApp bridge process over
// WebSocket. The bridge speaks the actual WhatsApp protocol; this channel
// exchanges JSON frames with it.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/channels"
	"github.com/marketbot/relay/internal/config"
)

const maxReconnectBackoff = 30 * time.Second

// bridgeFrame is the JSON envelope exchanged with the bridge.
type bridgeFrame struct {
	Type     string `json:"type"`
	From     string `json:"from,omitempty"`
	FromName string `json:"from_name,omitempty"`
	Chat     string `json:"chat,omitempty"`
	To       string `json:"to,omitempty"`
	Content  string `json:"content,omitempty"`
	ID       string `json:"id,omitempty"`
}

// Channel connects to the WhatsApp bridge.
type Channel struct {
	*channels.BaseChannel
	cfg     config.WhatsAppConfig
	limiter *channels.InboundRateLimiter

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WhatsApp channel from config.
func New(cfg config.WhatsAppConfig, router bus.MessageRouter) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", router, cfg.AllowFrom),
		cfg:         cfg,
		limiter:     channels.NewInboundRateLimiter(0),
	}, nil
}

// Start connects to the bridge and begins the listen loop. An initial
// connection failure does not fail Start; the loop keeps retrying.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.cfg.BridgeURL)
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}
	go c.listenLoop()
	c.SetRunning(true)
	return nil
}

// Stop closes the bridge connection.
func (c *Channel) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.SetRunning(false)
	return nil
}

// Send hands an outbound message to the bridge.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	data, err := json.Marshal(bridgeFrame{
		Type:    "message",
		To:      msg.ChatID,
		Content: msg.Content,
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

func (c *Channel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.cfg.BridgeURL, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	slog.Info("whatsapp bridge connected", "url", c.cfg.BridgeURL)
	return nil
}

// listenLoop reads bridge frames, reconnecting with doubling backoff after
// read failures.
func (c *Channel) listenLoop() {
	backoff := time.Second
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, maxReconnectBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var frame bridgeFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Warn("invalid whatsapp bridge frame", "error", err)
			continue
		}
		if frame.Type == "message" {
			c.handleIncoming(frame)
		}
	}
}

func (c *Channel) handleIncoming(frame bridgeFrame) {
	if frame.From == "" {
		return
	}
	if !c.limiter.Allow(frame.From) {
		slog.Debug("whatsapp sender rate limited", "from", frame.From)
		return
	}

	chatID := frame.Chat
	if chatID == "" {
		chatID = frame.From
	}
	// Groups carry a JID ending in "@g.us".
	chatType := "direct"
	if strings.HasSuffix(chatID, "@g.us") {
		chatType = "group"
	}
	if frame.Content == "" {
		return
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:   frame.From,
		SenderName: frame.FromName,
		ChatID:     chatID,
		ChatType:   chatType,
		MessageID:  frame.ID,
		Content:    frame.Content,
	})
}
