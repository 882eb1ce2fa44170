package config

import (
	"github.com/marketbot/relay/internal/routing"
)

// Resolve implements routing.BindingResolver: it maps an inbound context to
// the agent that should handle it plus the access rules of its channel.
func (c *Config) Resolve(mc routing.MsgContext) routing.Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()

	agentID := mc.AgentID
	if agentID == "" {
		agentID = c.matchBindingLocked(mc)
	}
	if agentID == "" {
		agentID = c.resolveDefaultAgentIDLocked()
	}

	b := routing.Binding{
		AgentID:     agentID,
		DMPolicy:    routing.PolicyPairing,
		GroupPolicy: routing.PolicyOpen,
		Scope:       c.Sessions.Scope,
		DMScope:     c.Sessions.DmScope,
		MainKey:     c.Sessions.MainKey,
		SilentToken: c.Agents.Defaults.SilentToken,
	}

	// Trusted in-process surfaces: the operator WS is token-authenticated
	// and cron/system messages originate inside the gateway.
	switch mc.Provider {
	case "cli", "system", "cron", "gateway":
		b.DMPolicy = routing.PolicyOpen
		b.GroupPolicy = routing.PolicyOpen
		return b
	}

	dm, group, allow, groupAllow := c.channelAccessLocked(mc.Provider)
	if dm != "" {
		b.DMPolicy = routing.NormalizePolicy(dm)
	}
	if group != "" {
		b.GroupPolicy = routing.NormalizePolicy(group)
	}
	b.AllowFrom = allow
	b.GroupAllowFrom = groupAllow
	if len(b.GroupAllowFrom) == 0 {
		b.GroupAllowFrom = allow
	}

	return b
}

// matchBindingLocked returns the agent id of the first binding matching the
// context. Peer-specific bindings beat channel-wide ones.
func (c *Config) matchBindingLocked(mc routing.MsgContext) string {
	channelWide := ""
	for _, binding := range c.Bindings {
		if binding.Match.Channel != "" && binding.Match.Channel != mc.Provider {
			continue
		}
		peer := binding.Match.Peer
		if peer == nil {
			if channelWide == "" {
				channelWide = binding.AgentID
			}
			continue
		}
		switch peer.Kind {
		case "direct":
			if !mc.IsGroup() && peer.ID == mc.SenderID {
				return binding.AgentID
			}
		case "group":
			if mc.IsGroup() && (peer.ID == mc.GroupID || peer.ID == mc.ConversationID) {
				return binding.AgentID
			}
		}
	}
	return channelWide
}

func (c *Config) resolveDefaultAgentIDLocked() string {
	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

func (c *Config) channelAccessLocked(channel string) (dmPolicy, groupPolicy string, allow, groupAllow []string) {
	switch channel {
	case "telegram":
		t := c.Channels.Telegram
		return t.DMPolicy, t.GroupPolicy, t.AllowFrom, t.GroupAllowFrom
	case "discord":
		d := c.Channels.Discord
		return d.DMPolicy, d.GroupPolicy, d.AllowFrom, d.GroupAllowFrom
	case "slack":
		s := c.Channels.Slack
		return s.DMPolicy, s.GroupPolicy, s.AllowFrom, s.GroupAllowFrom
	case "whatsapp":
		w := c.Channels.WhatsApp
		return w.DMPolicy, w.GroupPolicy, w.AllowFrom, w.GroupAllowFrom
	case "dingtalk":
		d := c.Channels.DingTalk
		return d.DMPolicy, d.GroupPolicy, d.AllowFrom, d.GroupAllowFrom
	default:
		return "", "", nil, nil
	}
}
