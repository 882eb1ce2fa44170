// Package routing implements the gateway's session-routing and reply-dispatch
// core: inbound event normalization, duplicate suppression, per-session
// serialization of agent turns, reply directive extraction, and destination
// validation.
package routing

import (
	"regexp"
	"strings"
)

// ChatType is the canonical conversation kind. Unrecognized platform values
// collapse to ChatTypeUnknown, never guessed.
type ChatType string

const (
	ChatTypeUnknown ChatType = ""
	ChatTypeDirect  ChatType = "direct"
	ChatTypeGroup   ChatType = "group"
	ChatTypeChannel ChatType = "channel"
)

// MsgContext is the canonical representation of one inbound message.
// Constructed once per event and read-only downstream.
type MsgContext struct {
	Body          string
	CommandBody   string // Body with the command prefix stripped (== Body when no command)
	CommandSource string // "text", "voice", ...
	From          string // channel-qualified sender address, e.g. "whatsapp:+1000"
	To            string // channel-qualified destination address
	ChatType      ChatType
	Provider      string // channel id, always known
	Surface       string // logical surface; differs from Provider for aliased channels
	SenderID      string
	SenderName    string
	ConversationID string
	GroupID       string
	GroupSubject  string
	MessageID     string
	ReplyToID     string
	AgentID       string // explicit agent route, empty = resolve by binding
	CommandAuthorized bool

	// Delivery override for messages injected by internal surfaces (cron):
	// the reply goes here instead of back to the originating conversation.
	DeliverChannel string
	DeliverTo      string
}

// NormalizeChatType maps a raw platform chat-type hint onto the canonical
// enumeration. Total: never fails, case-insensitive, unknown values
// (including empty) yield ChatTypeUnknown.
func NormalizeChatType(raw string) ChatType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "direct", "dm":
		return ChatTypeDirect
	case "group":
		return ChatTypeGroup
	case "channel":
		return ChatTypeChannel
	default:
		return ChatTypeUnknown
	}
}

// inlineCommandRe coarsely detects "/cmd" or "!cmd" tokens so the router can
// decide whether CommandAuthorized needs computing. Errs toward false
// positives; authorization only gates command execution, not normal replies.
var inlineCommandRe = regexp.MustCompile(`(?i)(?:^|\s)[/!][a-z]`)

// HasInlineCommandTokens reports whether text plausibly contains an inline
// command or directive shortcut.
func HasInlineCommandTokens(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return inlineCommandRe.MatchString(text)
}

// StripCommandPrefix removes one leading "/" or "!" command marker from a
// trimmed body. Returns the body unchanged when it is not a command.
func StripCommandPrefix(body string) string {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) >= 2 && (trimmed[0] == '/' || trimmed[0] == '!') {
		c := trimmed[1]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			return trimmed[1:]
		}
	}
	return trimmed
}
