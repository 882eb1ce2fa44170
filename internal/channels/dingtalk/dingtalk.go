// Package dingtalk connects the relay to DingTalk via Stream Mode: a
// WebSocket the bot opens outward, so no public callback URL is needed.
package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/channels"
	"github.com/marketbot/relay/internal/config"
)

const (
	apiBase       = "https://api.dingtalk.com"
	callbackTopic = "/v1.0/im/bot/messages/get"
)

// Channel connects to DingTalk stream mode.
type Channel struct {
	*channels.BaseChannel
	cfg        config.DingTalkConfig
	httpClient *http.Client
	limiter    *channels.InboundRateLimiter
	cancel     context.CancelFunc
	done       chan struct{}

	tokenMu  sync.Mutex
	token    string
	tokenExp time.Time
}

// New creates a DingTalk channel from config.
func New(cfg config.DingTalkConfig, router bus.MessageRouter) (*Channel, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("dingtalk requires client_id and client_secret")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("dingtalk", router, cfg.AllowFrom),
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     channels.NewInboundRateLimiter(0),
	}, nil
}

// Start runs the stream connection loop in the background, reconnecting
// after failures.
func (c *Channel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.SetRunning(true)

	go func() {
		defer close(c.done)
		for {
			if err := c.connectOnce(runCtx); err != nil && runCtx.Err() == nil {
				slog.Warn("dingtalk stream disconnected", "error", err)
			}
			select {
			case <-runCtx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
	return nil
}

// Stop cancels the stream loop.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
	return nil
}

// connectOnce opens one stream connection and reads it until failure.
func (c *Channel) connectOnce(ctx context.Context) error {
	endpoint, ticket, err := c.getStreamEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("get stream endpoint: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint+"?ticket="+ticket, nil)
	if err != nil {
		return fmt.Errorf("dial dingtalk stream: %w", err)
	}
	defer conn.Close()
	slog.Info("dingtalk stream connected")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		// Frames must be acked or DingTalk resends them.
		msgID, _ := frame["messageId"].(string)
		ack, _ := json.Marshal(map[string]any{
			"code":      200,
			"headers":   map[string]string{"messageId": msgID},
			"message":   "OK",
			"requestId": msgID,
		})
		_ = conn.WriteMessage(websocket.TextMessage, ack)

		c.handleFrame(frame)
	}
}

func (c *Channel) getStreamEndpoint(ctx context.Context) (endpoint, ticket string, err error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return "", "", err
	}
	body := map[string]any{
		"clientId":     c.cfg.ClientID,
		"clientSecret": c.cfg.ClientSecret,
		"subscriptions": []map[string]string{
			{"type": "CALLBACK", "topic": callbackTopic},
		},
		"ua":      "mbrelay",
		"localIp": "127.0.0.1",
	}
	data, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		apiBase+"/v1.0/gateway/connections/open", bytes.NewReader(data))
	req.Header.Set("x-acs-dingtalk-access-token", token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	var result struct {
		Endpoint string `json:"endpoint"`
		Ticket   string `json:"ticket"`
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return "", "", err
	}
	if result.Endpoint == "" {
		return "", "", fmt.Errorf("no stream endpoint returned: %s", string(b))
	}
	return result.Endpoint, result.Ticket, nil
}

func (c *Channel) getAccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}
	body := map[string]string{
		"clientId":     c.cfg.ClientID,
		"clientSecret": c.cfg.ClientSecret,
		"grantType":    "client_credentials",
	}
	data, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		apiBase+"/v1.0/oauth2/accessToken", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	var result struct {
		AccessToken string `json:"accessToken"`
		ExpireIn    int    `json:"expireIn"`
	}
	_ = json.Unmarshal(b, &result)
	if result.AccessToken == "" {
		return "", fmt.Errorf("dingtalk token request failed")
	}
	c.token = result.AccessToken
	c.tokenExp = time.Now().Add(time.Duration(result.ExpireIn-60) * time.Second)
	return c.token, nil
}

func (c *Channel) handleFrame(frame map[string]any) {
	headers, _ := frame["headers"].(map[string]any)
	if topic, _ := headers["topic"].(string); topic != callbackTopic {
		return
	}

	var data struct {
		SenderID         string `json:"senderId"`
		SenderNick       string `json:"senderNick"`
		ConversationID   string `json:"conversationId"`
		ConversationType string `json:"conversationType"` // "1" DM, "2" group
		MsgType          string `json:"msgtype"`
		IsInAtList       bool   `json:"isInAtList"`
		Text             struct {
			Content string `json:"content"`
		} `json:"text"`
	}
	rawData, _ := json.Marshal(frame["data"])
	if err := json.Unmarshal(rawData, &data); err != nil {
		return
	}
	if data.MsgType != "text" {
		return
	}
	content := strings.TrimSpace(data.Text.Content)
	if content == "" || data.SenderID == "" {
		return
	}
	if !c.limiter.Allow(data.SenderID) {
		return
	}

	chatType := "direct"
	if data.ConversationType == "2" {
		chatType = "group"
		// In groups the stream only delivers messages that @ the bot.
		if !data.IsInAtList {
			return
		}
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:   data.SenderID,
		SenderName: data.SenderNick,
		ChatID:     data.ConversationID,
		ChatType:   chatType,
		Content:    content,
	})
}

// Send delivers a reply through the robot one-to-one send API.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return err
	}
	param, _ := json.Marshal(map[string]string{"content": msg.Content})
	body := map[string]any{
		"robotCode": c.cfg.ClientID,
		"userIds":   []string{msg.ChatID},
		"msgKey":    "sampleText",
		"msgParam":  string(param),
	}
	data, _ := json.Marshal(body)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		apiBase+"/v1.0/robot/oToMessages/batchSend", bytes.NewReader(data))
	req.Header.Set("x-acs-dingtalk-access-token", token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("dingtalk send: status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
