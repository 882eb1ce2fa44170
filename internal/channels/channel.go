// Package channels connects external messaging platforms (Telegram, Discord,
// Slack, the WhatsApp bridge, DingTalk) to the routing core via the message
// bus. Each platform lives in its own subpackage; this package holds the
// shared Channel contract, the outbound adapter registry, and the manager
// that runs channel lifecycles and the outbound dispatch loop.
package channels

import (
	"context"
	"strings"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/routing"
)

// InternalChannels are system surfaces excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cli":    true,
	"system": true,
	"cron":   true,
}

// IsInternalChannel reports whether a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// Channel is the contract every platform implementation satisfies.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "discord").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is actively processing messages.
	IsRunning() bool
}

// BaseChannel provides shared plumbing for channel implementations, which
// embed it.
type BaseChannel struct {
	name      string
	bus       bus.MessageRouter
	running   bool
	allowList []string
	agentID   string // explicit agent route (empty = resolve by binding)
}

// NewBaseChannel creates the shared channel core.
func NewBaseChannel(name string, router bus.MessageRouter, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       router,
		allowList: allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// AgentID returns the explicit agent route, empty when binding-resolved.
func (c *BaseChannel) AgentID() string { return c.agentID }

// SetAgentID pins the channel to a specific agent.
func (c *BaseChannel) SetAgentID(id string) { c.agentID = id }

// IsRunning reports the running state.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() bus.MessageRouter { return c.bus }

// HasAllowList reports whether an allowlist is configured.
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks a sender against the channel allowlist. The compound
// "id|username" sender form is split into identity facets first. An empty
// allowlist admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	id := senderID
	username := ""
	if idx := strings.IndexByte(senderID, '|'); idx > 0 {
		id = senderID[:idx]
		username = senderID[idx+1:]
	}
	match := routing.ResolveAllow(routing.SenderIdentity{
		ID:       id,
		Username: username,
		Provider: c.name,
	}, c.allowList)
	return match.Allowed
}

// HandleMessage publishes a received platform event to the bus. This is the
// standard inbound path for all channels; allowlist policy is enforced
// downstream by the router, not here, so pairing flows still see the sender.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) {
	msg.Channel = c.name
	if msg.AgentID == "" {
		msg.AgentID = c.agentID
	}
	c.bus.PublishInbound(msg)
}

// Truncate shortens a string to maxLen, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
