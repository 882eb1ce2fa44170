package bus

import "context"

// InboundMessage represents a raw event received from a channel
// (Telegram, Discord, Slack, WhatsApp bridge, DingTalk, ...).
// It is the minimal shape every channel can reduce its native event to;
// the routing layer normalizes it further into a MsgContext.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	Surface    string            `json:"surface,omitempty"` // logical surface when aliased (defaults to Channel)
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	ChatID     string            `json:"chat_id"`
	GroupID    string            `json:"group_id,omitempty"`
	Content    string            `json:"content"`
	ChatType   string            `json:"chat_type,omitempty"` // raw platform hint, normalized downstream
	MessageID  string            `json:"message_id,omitempty"`
	AgentID    string            `json:"agent_id,omitempty"` // explicit agent route (empty = resolve by binding)
	Source     string            `json:"source,omitempty"`   // "text", "voice", ...
	Media      []string          `json:"media,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a reply to be delivered through a channel.
type OutboundMessage struct {
	Channel     string            `json:"channel"`
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content"`
	ReplyTo     string            `json:"reply_to,omitempty"`      // platform message id to reply to
	MediaURL    string            `json:"media_url,omitempty"`     // optional attachment
	AsVoice     bool              `json:"as_voice,omitempty"`      // deliver audio as a voice note
	OriginLabel string            `json:"origin_label,omitempty"`  // set for cross-context relays
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Event represents a server-side event to broadcast to WebSocket clients.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and the agent runner to decouple from the
// concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between channels
// and the routing core.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}
