package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// DefaultAgentID is used when no agent is explicitly marked default.
const DefaultAgentID = "default"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider:    "anthropic",
				Model:       "claude-sonnet-4-5-20250929",
				MaxTokens:   8192,
				Temperature: 0.7,
				TurnTimeout: "120s",
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{DMPolicy: "pairing", GroupPolicy: "open"},
			Discord:  DiscordConfig{DMPolicy: "pairing", GroupPolicy: "open"},
			Slack:    SlackConfig{DMPolicy: "pairing", GroupPolicy: "open"},
			WhatsApp: WhatsAppConfig{DMPolicy: "pairing", GroupPolicy: "open"},
			DingTalk: DingTalkConfig{DMPolicy: "pairing", GroupPolicy: "open"},
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18890,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Sessions: SessionsConfig{
			Storage: "~/.mbrelay/sessions",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("MBRELAY_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("MBRELAY_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("MBRELAY_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("MBRELAY_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("MBRELAY_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("MBRELAY_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("MBRELAY_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("MBRELAY_SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("MBRELAY_SLACK_APP_TOKEN", &c.Channels.Slack.AppToken)
	envStr("MBRELAY_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)
	envStr("MBRELAY_DINGTALK_CLIENT_ID", &c.Channels.DingTalk.ClientID)
	envStr("MBRELAY_DINGTALK_CLIENT_SECRET", &c.Channels.DingTalk.ClientSecret)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Slack.BotToken != "" && c.Channels.Slack.AppToken != "" {
		c.Channels.Slack.Enabled = true
	}
	if c.Channels.WhatsApp.BridgeURL != "" {
		c.Channels.WhatsApp.Enabled = true
	}
	if c.Channels.DingTalk.ClientID != "" && c.Channels.DingTalk.ClientSecret != "" {
		c.Channels.DingTalk.Enabled = true
	}

	// Allow overriding default provider/model
	envStr("MBRELAY_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("MBRELAY_MODEL", &c.Agents.Defaults.Model)

	// Sessions & pairing
	envStr("MBRELAY_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("MBRELAY_PAIRING_DB", &c.Pairing.Database)

	// Gateway host/port
	envStr("MBRELAY_HOST", &c.Gateway.Host)
	if v := os.Getenv("MBRELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Telemetry
	envStr("MBRELAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("MBRELAY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("MBRELAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("MBRELAY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MBRELAY_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Owner IDs from env (comma-separated)
	if v := os.Getenv("MBRELAY_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call after modifying config to restore runtime secrets from env.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields
// masked. Used by status responses to avoid exposing secrets to WebSocket
// clients.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Providers.Anthropic.APIKey)
	maskNonEmpty(&cp.Providers.OpenAI.APIKey)
	maskNonEmpty(&cp.Providers.OpenRouter.APIKey)
	maskNonEmpty(&cp.Providers.Gemini.APIKey)
	maskNonEmpty(&cp.Gateway.Token)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Discord.Token)
	maskNonEmpty(&cp.Channels.Slack.BotToken)
	maskNonEmpty(&cp.Channels.Slack.AppToken)
	maskNonEmpty(&cp.Channels.DingTalk.ClientSecret)

	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ResolveAgent returns the effective config for a given agent ID,
// merging defaults with per-agent overrides.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.MaxTokens > 0 {
			d.MaxTokens = spec.MaxTokens
		}
		if spec.Temperature > 0 {
			d.Temperature = spec.Temperature
		}
		if spec.TurnTimeout != "" {
			d.TurnTimeout = spec.TurnTimeout
		}
		if spec.SystemPrompt != "" {
			d.SystemPrompt = spec.SystemPrompt
		}
	}

	return d
}

// ResolveDefaultAgentID returns the ID of the agent marked as default,
// or "default" if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// SessionsStoragePath returns the expanded session storage directory.
func (c *Config) SessionsStoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Sessions.Storage)
}

// PairingDBPath returns the expanded pairing database path, defaulting to a
// file next to the session storage.
func (c *Config) PairingDBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Pairing.Database != "" {
		return ExpandHome(c.Pairing.Database)
	}
	return filepath.Join(ExpandHome(c.Sessions.Storage), "pairing.db")
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
