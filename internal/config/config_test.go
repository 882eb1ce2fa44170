package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marketbot/relay/internal/routing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoad_JSON5 verifies comments and trailing commas are accepted.
func TestLoad_JSON5(t *testing.T) {
	path := writeConfig(t, `{
		// relay config
		channels: {
			telegram: {
				enabled: true,
				token: "123:abc",
				allow_from: [386246614, "@alice",], // numbers are coerced
			},
		},
		gateway: { port: 19000 },
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("telegram not enabled")
	}
	if got := []string(cfg.Channels.Telegram.AllowFrom); len(got) != 2 || got[0] != "386246614" || got[1] != "@alice" {
		t.Errorf("AllowFrom = %v", got)
	}
	if cfg.Gateway.Port != 19000 {
		t.Errorf("Port = %d, want 19000", cfg.Gateway.Port)
	}
	// Untouched sections keep defaults.
	if cfg.Gateway.MaxMessageChars != 32000 {
		t.Errorf("MaxMessageChars = %d, want default", cfg.Gateway.MaxMessageChars)
	}
}

// TestLoad_MissingFile verifies a missing config file yields defaults, not
// an error.
func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Gateway.Port != 18890 {
		t.Errorf("Port = %d, want default", cfg.Gateway.Port)
	}
}

// TestEnvOverrides verifies env vars win over file values and auto-enable
// their channel.
func TestEnvOverrides(t *testing.T) {
	t.Setenv("MBRELAY_TELEGRAM_TOKEN", "env-token")
	t.Setenv("MBRELAY_PORT", "20001")
	t.Setenv("MBRELAY_OWNER_IDS", "1,2,3")

	path := writeConfig(t, `{channels:{telegram:{token:"file-token"}}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Channels.Telegram.Token != "env-token" {
		t.Errorf("Token = %q, want env override", cfg.Channels.Telegram.Token)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("channel with env credentials was not auto-enabled")
	}
	if cfg.Gateway.Port != 20001 {
		t.Errorf("Port = %d, want 20001", cfg.Gateway.Port)
	}
	if len(cfg.Gateway.OwnerIDs) != 3 {
		t.Errorf("OwnerIDs = %v", cfg.Gateway.OwnerIDs)
	}
}

func TestResolveAgent(t *testing.T) {
	cfg := Default()
	cfg.Agents.List = map[string]AgentSpec{
		"ops": {Model: "gpt-4.1", MaxTokens: 2048, Default: true},
	}

	d := cfg.ResolveAgent("ops")
	if d.Model != "gpt-4.1" || d.MaxTokens != 2048 {
		t.Errorf("ResolveAgent overrides not applied: %+v", d)
	}
	if d.Provider != cfg.Agents.Defaults.Provider {
		t.Errorf("Provider = %q, want inherited default", d.Provider)
	}
	if got := cfg.ResolveDefaultAgentID(); got != "ops" {
		t.Errorf("ResolveDefaultAgentID() = %q, want ops", got)
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Token = "secret"
	cfg.Channels.Telegram.Token = "123:abc"

	cp := cfg.MaskedCopy()
	if cp.Gateway.Token != secretMask || cp.Channels.Telegram.Token != secretMask {
		t.Errorf("secrets not masked: %q %q", cp.Gateway.Token, cp.Channels.Telegram.Token)
	}
	if cfg.Gateway.Token != "secret" {
		t.Error("original config was mutated")
	}
}

// TestResolve_Binding verifies the routing.BindingResolver implementation:
// channel access rules, peer bindings, and the default agent fallback.
func TestResolve_Binding(t *testing.T) {
	cfg := Default()
	cfg.Channels.Telegram.DMPolicy = "allowlist"
	cfg.Channels.Telegram.AllowFrom = FlexibleStringSlice{"386246614"}
	cfg.Bindings = []AgentBinding{
		{AgentID: "ops", Match: BindingMatch{Channel: "telegram", Peer: &BindingPeer{Kind: "direct", ID: "386246614"}}},
		{AgentID: "wide", Match: BindingMatch{Channel: "telegram"}},
	}

	mc := routing.MsgContext{Provider: "telegram", SenderID: "386246614", ConversationID: "386246614", ChatType: routing.ChatTypeDirect}
	b := cfg.Resolve(mc)
	if b.AgentID != "ops" {
		t.Errorf("AgentID = %q, want peer binding to win", b.AgentID)
	}
	if b.DMPolicy != routing.PolicyAllowlist {
		t.Errorf("DMPolicy = %q, want allowlist", b.DMPolicy)
	}
	if len(b.AllowFrom) != 1 {
		t.Errorf("AllowFrom = %v", b.AllowFrom)
	}

	other := routing.MsgContext{Provider: "telegram", SenderID: "999", ConversationID: "999", ChatType: routing.ChatTypeDirect}
	if got := cfg.Resolve(other).AgentID; got != "wide" {
		t.Errorf("AgentID = %q, want channel-wide binding", got)
	}

	elsewhere := routing.MsgContext{Provider: "discord", SenderID: "1", ConversationID: "1"}
	if got := cfg.Resolve(elsewhere).AgentID; got != DefaultAgentID {
		t.Errorf("AgentID = %q, want default agent", got)
	}
}

// TestResolve_InternalSurfacesOpen verifies cron and operator-originated
// messages are never gated by the pairing default.
func TestResolve_InternalSurfacesOpen(t *testing.T) {
	cfg := Default()
	for _, provider := range []string{"cli", "system", "cron", "gateway"} {
		mc := routing.MsgContext{Provider: provider, SenderID: "x", ConversationID: "x", ChatType: routing.ChatTypeDirect}
		b := cfg.Resolve(mc)
		if b.DMPolicy != routing.PolicyOpen || b.GroupPolicy != routing.PolicyOpen {
			t.Errorf("%s: policy = %s/%s, want open", provider, b.DMPolicy, b.GroupPolicy)
		}
	}
}
