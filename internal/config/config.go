package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the relay gateway.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Sessions  SessionsConfig  `json:"sessions"`
	Pairing   PairingConfig   `json:"pairing,omitempty"`
	Cron      CronConfig      `json:"cron,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Bindings  []AgentBinding  `json:"bindings,omitempty"`
	mu        sync.RWMutex
}

// AgentBinding maps a channel/peer pattern to a specific agent.
type AgentBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

// BindingMatch specifies what messages this binding applies to.
type BindingMatch struct {
	Channel string       `json:"channel"` // "telegram", "discord", "slack", ...
	Peer    *BindingPeer `json:"peer,omitempty"`
}

// BindingPeer specifies a specific chat target.
type BindingPeer struct {
	Kind string `json:"kind"` // "direct" or "group"
	ID   string `json:"id"`
}

// AgentsConfig contains agent defaults and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults are default settings for all agents.
type AgentDefaults struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	TurnTimeout  string  `json:"turn_timeout,omitempty"` // Go duration (default "120s")
	SilentToken  string  `json:"silent_token,omitempty"` // default "NO_REPLY"
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// AgentSpec is the per-agent configuration override.
// All fields optional, zero values mean "inherit from defaults".
type AgentSpec struct {
	DisplayName  string  `json:"displayName,omitempty"`
	Provider     string  `json:"provider,omitempty"`
	Model        string  `json:"model,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	TurnTimeout  string  `json:"turn_timeout,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Default      bool    `json:"default,omitempty"`
}

// GatewayConfig controls the WebSocket control-plane server.
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Token           string   `json:"token,omitempty"`             // bearer token for WS auth
	OwnerIDs        []string `json:"owner_ids,omitempty"`         // sender IDs considered "owner"
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`   // WebSocket CORS whitelist (empty = allow all)
	MaxMessageChars int      `json:"max_message_chars,omitempty"` // max user message characters (default 32000)
	RateLimitRPM    int      `json:"rate_limit_rpm,omitempty"`    // requests per minute per client (default 20, 0 = disabled)
}

// SessionsConfig controls session storage and scoping.
type SessionsConfig struct {
	Storage       string `json:"storage"`                    // directory for session files
	Scope         string `json:"scope,omitempty"`            // "per-sender" (default), "global"
	DmScope       string `json:"dm_scope,omitempty"`         // "main", "per-peer", "per-channel-peer" (default)
	MainKey       string `json:"main_key,omitempty"`         // main session key suffix (default "main")
	MaxEntries    int    `json:"max_entries,omitempty"`      // transcript compaction threshold (default 20)
	DedupeTTLMin  int    `json:"dedupe_ttl_min,omitempty"`   // duplicate suppression window in minutes (default 20)
	DedupeMaxKeys int    `json:"dedupe_max_keys,omitempty"`  // dedupe cache capacity (default 5000)
}

// PairingConfig controls the DM pairing store.
type PairingConfig struct {
	Database   string `json:"database,omitempty"`     // sqlite path (default: {sessions.storage}/pairing.db)
	CodeTTLMin int    `json:"code_ttl_min,omitempty"` // pairing code lifetime in minutes (default 60)
}

// CronConfig configures scheduled agent runs.
type CronConfig struct {
	Jobs []CronJob `json:"jobs,omitempty"`
}

// CronJob is one scheduled prompt.
type CronJob struct {
	ID       string `json:"id"`
	Schedule string `json:"schedule"` // cron expression
	AgentID  string `json:"agentId,omitempty"`
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"` // deliver the reply here; empty = discard
	To       string `json:"to,omitempty"`      // destination chat id on Channel
	Disabled bool   `json:"disabled,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS (local dev)
	ServiceName string            `json:"service_name,omitempty"` // default "mbrelay"
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (auth tokens etc.)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Gateway = src.Gateway
	c.Sessions = src.Sessions
	c.Pairing = src.Pairing
	c.Cron = src.Cron
	c.Telemetry = src.Telemetry
	c.Bindings = src.Bindings
}
