// Package protocol defines the gateway control-plane wire format.
//
// Every frame on the operator WebSocket is a single JSON object of shape
//
//	{ "type": "req"|"res"|"event", "id"?, "method"?, "params"?, "event"?, "data"? }
//
// Requests carry an id chosen by the client; the matching response echoes it.
// Events are server-initiated and carry no id.
package protocol

import "encoding/json"

// ProtocolVersion is the current control-protocol version. Clients advertise
// the range they speak in the connect request; the server rejects clients
// whose range does not include this version.
const ProtocolVersion = 3

// MinSupportedProtocol is the oldest client protocol the server still accepts.
const MinSupportedProtocol = 1

// Frame type discriminators.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is a client → server RPC call.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is the server's reply to one RequestFrame.
type ResponseFrame struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorShape `json:"error,omitempty"`
}

// EventFrame is a server-initiated notification.
type EventFrame struct {
	Type  string      `json:"type"`
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrorShape is the wire-level error payload carried by failed responses.
type ErrorShape struct {
	Code         string      `json:"code"`
	Message      string      `json:"message"`
	Details      interface{} `json:"details,omitempty"`
	Retryable    bool        `json:"retryable,omitempty"`
	RetryAfterMs int64       `json:"retryAfterMs,omitempty"`
}

// Wire-level error codes.
const (
	ErrNotLinked      = "NOT_LINKED"
	ErrNotPaired      = "NOT_PAIRED"
	ErrAgentTimeout   = "AGENT_TIMEOUT"
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrUnavailable    = "UNAVAILABLE"
)

// ConnectParams is the payload of the mandatory first request on a connection.
type ConnectParams struct {
	MinProtocol int           `json:"minProtocol"`
	MaxProtocol int           `json:"maxProtocol"`
	Client      ConnectClient `json:"client"`
	Role        string        `json:"role"`
	Scopes      []string      `json:"scopes,omitempty"`
	Auth        ConnectAuth   `json:"auth"`
}

// ConnectClient identifies the connecting operator tool.
type ConnectClient struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// ConnectAuth carries the shared gateway token.
type ConnectAuth struct {
	Token string `json:"token"`
}

// ConnectResult is returned on a successful handshake.
type ConnectResult struct {
	Protocol int    `json:"protocol"`
	Server   string `json:"server"`
	Version  string `json:"version"`
}

// ChallengeData is the payload of the connect.challenge event sent before any
// request is accepted.
type ChallengeData struct {
	Nonce    string `json:"nonce"`
	Protocol int    `json:"protocol"`
}

// NewOKResponse builds a successful response for a request id.
func NewOKResponse(id string, result interface{}) ResponseFrame {
	return ResponseFrame{Type: FrameTypeResponse, ID: id, OK: true, Result: result}
}

// NewErrorResponse builds a failed response with the given wire code.
func NewErrorResponse(id, code, message string) ResponseFrame {
	return ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:      code,
			Message:   message,
			Retryable: code == ErrAgentTimeout || code == ErrUnavailable,
		},
	}
}

// NewEvent builds an event frame.
func NewEvent(name string, data interface{}) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, Data: data}
}
