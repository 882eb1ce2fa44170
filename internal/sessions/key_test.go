package sessions

import (
	"strings"
	"testing"
)

func TestBuildSessionKey(t *testing.T) {
	tests := []struct {
		name    string
		agentID string
		channel string
		kind    PeerKind
		chatID  string
		want    string
	}{
		{
			name:    "telegram dm",
			agentID: "default",
			channel: "telegram",
			kind:    PeerDirect,
			chatID:  "386246614",
			want:    "agent:default:telegram:direct:386246614",
		},
		{
			name:    "whatsapp group",
			agentID: "default",
			channel: "whatsapp",
			kind:    PeerGroup,
			chatID:  "12036304@g.us",
			want:    "agent:default:whatsapp:group:12036304@g.us",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSessionKey(tt.agentID, tt.channel, tt.kind, tt.chatID)
			if got != tt.want {
				t.Errorf("BuildSessionKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildScopedSessionKey(t *testing.T) {
	tests := []struct {
		name    string
		kind    PeerKind
		scope   string
		dmScope string
		want    string
	}{
		{name: "global scope", kind: PeerDirect, scope: "global", want: "global"},
		{name: "group ignores dm scope", kind: PeerGroup, dmScope: "main", want: "agent:a:telegram:group:42"},
		{name: "dm main", kind: PeerDirect, dmScope: "main", want: "agent:a:main"},
		{name: "dm per-peer", kind: PeerDirect, dmScope: "per-peer", want: "agent:a:direct:42"},
		{name: "dm default", kind: PeerDirect, want: "agent:a:telegram:direct:42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildScopedSessionKey("a", "telegram", tt.kind, "42", tt.scope, tt.dmScope, "")
			if got != tt.want {
				t.Errorf("BuildScopedSessionKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildCronSessionKeyNoDoublePrefix(t *testing.T) {
	got := BuildCronSessionKey("a", "agent:a:cron:reminder:run:old", "new")
	if strings.Count(got, "agent:") != 1 {
		t.Errorf("expected single agent prefix, got %q", got)
	}
}

func TestSessionIDDeterministic(t *testing.T) {
	key := "agent:default:telegram:direct:386246614"
	if SessionID(key) != SessionID(key) {
		t.Fatal("SessionID not deterministic")
	}
}

func TestSessionIDCaseAndWhitespaceInsensitive(t *testing.T) {
	a := SessionID("agent:Default:Telegram:direct:42")
	b := SessionID("  agent:default:telegram:direct:42  ")
	if a != b {
		t.Errorf("ids differ for equivalent keys: %q vs %q", a, b)
	}
}

func TestSessionIDDistinctKeys(t *testing.T) {
	a := SessionID("agent:default:telegram:direct:1")
	b := SessionID("agent:default:telegram:direct:2")
	if a == b {
		t.Errorf("distinct keys produced the same id %q", a)
	}
}

func TestSessionIDShape(t *testing.T) {
	id := SessionID("agent:default:telegram:direct:386246614")

	// slug part is capped at 32 chars, digest part is 10 hex chars
	idx := strings.LastIndex(id, "-")
	if idx < 0 {
		t.Fatalf("expected slug-digest shape, got %q", id)
	}
	slug, digest := id[:idx], id[idx+1:]
	if len(slug) > 32 {
		t.Errorf("slug too long (%d): %q", len(slug), slug)
	}
	if len(digest) != 10 {
		t.Errorf("digest prefix length = %d, want 10", len(digest))
	}
	for _, r := range id {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		if !ok {
			t.Errorf("unexpected character %q in id %q", r, id)
		}
	}
}

func TestSessionIDNoSlug(t *testing.T) {
	// A key with no alphanumerics degrades to the bare digest prefix.
	id := SessionID("::::")
	if len(id) != 10 || strings.Contains(id, "-") {
		t.Errorf("expected bare 10-char digest, got %q", id)
	}
}

func TestSessionIDSlugCollision(t *testing.T) {
	// Slugs collide after truncation; digests must still separate the ids.
	long := strings.Repeat("a", 40)
	a := SessionID(long + "x")
	b := SessionID(long + "y")
	if a == b {
		t.Error("truncated-slug collision not disambiguated by digest")
	}
}

func TestParseSessionKey(t *testing.T) {
	tests := []struct {
		key       string
		wantAgent string
		wantRest  string
	}{
		{"agent:default:telegram:direct:1", "default", "telegram:direct:1"},
		{"agent:x:main", "x", "main"},
		{"global", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		agentID, rest := ParseSessionKey(tt.key)
		if agentID != tt.wantAgent || rest != tt.wantRest {
			t.Errorf("ParseSessionKey(%q) = (%q, %q), want (%q, %q)",
				tt.key, agentID, rest, tt.wantAgent, tt.wantRest)
		}
	}
}

func TestIsCronSession(t *testing.T) {
	if !IsCronSession("agent:a:cron:job:run:1") {
		t.Error("expected cron session")
	}
	if IsCronSession("agent:a:telegram:direct:1") {
		t.Error("unexpected cron session")
	}
}
