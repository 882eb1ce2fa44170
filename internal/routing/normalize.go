package routing

import (
	"strings"

	"github.com/marketbot/relay/internal/bus"
)

// Normalize converts a raw inbound channel event into a canonical MsgContext.
// Pure and total: malformed fields degrade to zero values, never panic.
// Events with no usable sender/conversation identity are rejected by
// Usable(), not here.
func Normalize(msg bus.InboundMessage, channelID string) MsgContext {
	provider := strings.ToLower(strings.TrimSpace(channelID))
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(msg.Channel))
	}
	surface := strings.ToLower(strings.TrimSpace(msg.Surface))
	if surface == "" {
		surface = provider
	}

	chatType := NormalizeChatType(msg.ChatType)
	if chatType == ChatTypeUnknown && msg.GroupID != "" {
		// A group id with no explicit chat-type hint is still a group.
		chatType = ChatTypeGroup
	}

	source := msg.Source
	if source == "" {
		source = "text"
	}

	body := msg.Content

	ctx := MsgContext{
		Body:           body,
		CommandBody:    StripCommandPrefix(body),
		CommandSource:  source,
		ChatType:       chatType,
		Provider:       provider,
		Surface:        surface,
		SenderID:       strings.TrimSpace(msg.SenderID),
		SenderName:     strings.TrimSpace(msg.SenderName),
		ConversationID: strings.TrimSpace(msg.ChatID),
		GroupID:        strings.TrimSpace(msg.GroupID),
		MessageID:      strings.TrimSpace(msg.MessageID),
		AgentID:        strings.TrimSpace(msg.AgentID),
	}

	if ctx.SenderID != "" {
		ctx.From = provider + ":" + ctx.SenderID
	}
	if ctx.ConversationID != "" {
		ctx.To = provider + ":" + ctx.ConversationID
	}
	if msg.Metadata != nil {
		ctx.GroupSubject = msg.Metadata["group_subject"]
		ctx.ReplyToID = msg.Metadata["reply_to"]
		ctx.DeliverChannel = strings.ToLower(strings.TrimSpace(msg.Metadata["deliver_channel"]))
		ctx.DeliverTo = strings.TrimSpace(msg.Metadata["deliver_to"])
	}

	return ctx
}

// Usable reports whether a context carries enough identity to enter the
// pipeline at all. Events failing this are dropped and logged, never retried.
func (c MsgContext) Usable() bool {
	return c.SenderID != "" && c.ConversationID != ""
}

// IsGroup reports whether the context addresses a group or channel chat.
func (c MsgContext) IsGroup() bool {
	return c.ChatType == ChatTypeGroup || c.ChatType == ChatTypeChannel
}

// DedupeKey builds the idempotency key for this event. Falls back to a
// content-derived key when the platform supplied no message id.
func (c MsgContext) DedupeKey() string {
	if c.MessageID != "" {
		return c.Provider + ":" + c.ConversationID + ":" + c.MessageID
	}
	return c.Provider + ":" + c.ConversationID + ":" + c.SenderID + ":" + c.Body
}
