package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marketbot/relay/internal/config"
	"github.com/marketbot/relay/pkg/protocol"
)

// gatewayClient is the operator-side WebSocket RPC client used by the CLI
// subcommands (send, status, sessions, channels, cron, chat).
type gatewayClient struct {
	conn *websocket.Conn
}

// clientFrame is the client-side view of any server frame: result and event
// data stay raw so each command can decode its own shape.
type clientFrame struct {
	Type   string               `json:"type"`
	ID     string               `json:"id,omitempty"`
	OK     bool                 `json:"ok,omitempty"`
	Result json.RawMessage      `json:"result,omitempty"`
	Error  *protocol.ErrorShape `json:"error,omitempty"`
	Event  string               `json:"event,omitempty"`
	Data   json.RawMessage      `json:"data,omitempty"`
}

// gatewayAddr resolves the dialable address of the local gateway.
func gatewayAddr(cfg *config.Config) string {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)
}

// dialGateway connects and performs the connect handshake: consume the
// connect.challenge event, authenticate with the shared token.
func dialGateway(cfg *config.Config) (*gatewayClient, error) {
	wsURL := fmt.Sprintf("ws://%s/ws", gatewayAddr(cfg))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to gateway at %s: %w", wsURL, err)
	}
	c := &gatewayClient{conn: conn}

	// The server speaks first.
	challenge, err := c.readFrame()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read challenge: %w", err)
	}
	if challenge.Event != protocol.EventConnectChallenge {
		conn.Close()
		return nil, fmt.Errorf("expected connect.challenge, got %q", challenge.Event)
	}

	params := protocol.ConnectParams{
		MinProtocol: protocol.MinSupportedProtocol,
		MaxProtocol: protocol.ProtocolVersion,
		Client: protocol.ConnectClient{
			ID:       "mbrelay-cli",
			Version:  Version,
			Platform: runtime.GOOS,
			Mode:     "cli",
		},
		Role: "operator",
		Auth: protocol.ConnectAuth{Token: cfg.Gateway.Token},
	}
	if _, err := c.call(protocol.MethodConnect, params); err != nil {
		conn.Close()
		return nil, fmt.Errorf("gateway auth: %w", err)
	}
	return c, nil
}

func (c *gatewayClient) close() { c.conn.Close() }

func (c *gatewayClient) readFrame() (clientFrame, error) {
	c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return clientFrame{}, err
	}
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return clientFrame{}, fmt.Errorf("malformed frame: %w", err)
	}
	return f, nil
}

// call issues one RPC and waits for its response, skipping unrelated events.
func (c *gatewayClient) call(method string, params interface{}) (json.RawMessage, error) {
	req := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     uuid.NewString()[:8],
		Method: method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	for {
		f, err := c.readFrame()
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", method, err)
		}
		if f.Type != protocol.FrameTypeResponse || f.ID != req.ID {
			continue
		}
		if !f.OK {
			if f.Error != nil {
				return nil, fmt.Errorf("%s: %s (%s)", method, f.Error.Message, f.Error.Code)
			}
			return nil, fmt.Errorf("%s rejected", method)
		}
		return f.Result, nil
	}
}

// callAndPrint runs an RPC and pretty-prints the JSON result.
func callAndPrint(method string, params interface{}) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	client, err := dialGateway(cfg)
	if err != nil {
		return err
	}
	defer client.close()

	result, err := client.call(method, params)
	if err != nil {
		return err
	}
	var pretty interface{}
	if err := json.Unmarshal(result, &pretty); err != nil {
		fmt.Println(string(result))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}
