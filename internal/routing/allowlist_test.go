package routing

import "testing"

func TestNormalizePolicy(t *testing.T) {
	tests := []struct {
		raw  string
		want AccessPolicy
	}{
		{"open", PolicyOpen},
		{"OPEN", PolicyOpen},
		{"allowlist", PolicyAllowlist},
		{"disabled", PolicyDisabled},
		{"pairing", PolicyPairing},
		{"", PolicyPairing},
		{"whatever", PolicyPairing},
	}

	for _, tt := range tests {
		if got := NormalizePolicy(tt.raw); got != tt.want {
			t.Errorf("NormalizePolicy(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

// TestResolveAllow_MatchSources walks each identity facet an entry can
// match against and checks the reported source.
func TestResolveAllow_MatchSources(t *testing.T) {
	sender := SenderIdentity{
		ID:       "123456",
		Username: "alice",
		Name:     "Alice Jones",
		Tag:      "alice#1234",
		Email:    "alice.j@example.com",
		Provider: "telegram",
	}

	tests := []struct {
		name       string
		entries    []string
		wantSource string
		wantKey    string
	}{
		{"id", []string{"123456"}, MatchSourceID, "123456"},
		{"prefixed id", []string{"telegram:123456"}, MatchSourcePrefixedID, "telegram:123456"},
		{"prefixed id alias", []string{"tg:123456"}, MatchSourcePrefixedID, "tg:123456"},
		{"username", []string{"@alice"}, MatchSourceUsername, "@alice"},
		{"prefixed username", []string{"telegram:@alice"}, MatchSourcePrefixUser, "telegram:@alice"},
		{"display name", []string{"Alice Jones"}, MatchSourceName, "Alice Jones"},
		{"name case-insensitive", []string{"alice jones"}, MatchSourceName, "alice jones"},
		{"tag", []string{"alice#1234"}, MatchSourceTag, "alice#1234"},
		{"slug", []string{"Alice.Jones"}, MatchSourceSlug, "Alice.Jones"},
		{"email localpart", []string{"alice.j"}, MatchSourceLocalpart, "alice.j"},
		{"wildcard", []string{"*"}, MatchSourceWildcard, "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveAllow(sender, tt.entries)
			if !got.Allowed {
				t.Fatalf("ResolveAllow(%v) not allowed", tt.entries)
			}
			if got.MatchSource != tt.wantSource {
				t.Errorf("MatchSource = %q, want %q", got.MatchSource, tt.wantSource)
			}
			if got.MatchKey != tt.wantKey {
				t.Errorf("MatchKey = %q, want %q", got.MatchKey, tt.wantKey)
			}
		})
	}
}

// TestResolveAllow_Specificity verifies the most specific source wins when
// several entries match, and the wildcard never shadows an explicit entry.
func TestResolveAllow_Specificity(t *testing.T) {
	sender := SenderIdentity{ID: "42", Username: "bob", Provider: "discord"}

	got := ResolveAllow(sender, []string{"*", "@bob", "42"})
	if got.MatchSource != MatchSourceID {
		t.Errorf("MatchSource = %q, want id to win over username and wildcard", got.MatchSource)
	}

	got = ResolveAllow(sender, []string{"*", "@bob"})
	if got.MatchSource != MatchSourceUsername {
		t.Errorf("MatchSource = %q, want username to win over wildcard", got.MatchSource)
	}

	got = ResolveAllow(sender, []string{"*"})
	if got.MatchSource != MatchSourceWildcard {
		t.Errorf("MatchSource = %q, want wildcard as last resort", got.MatchSource)
	}
}

// TestResolveAllow_Rejections covers non-matches.
func TestResolveAllow_Rejections(t *testing.T) {
	sender := SenderIdentity{ID: "42", Username: "bob", Provider: "discord"}

	tests := []struct {
		name    string
		entries []string
	}{
		{"empty allowlist", nil},
		{"blank entries", []string{"", "  "}},
		{"no match", []string{"@carol", "99"}},
		{"wrong provider prefix", []string{"telegram:42"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveAllow(sender, tt.entries); got.Allowed {
				t.Errorf("ResolveAllow(%v) = %+v, want rejection", tt.entries, got)
			}
		})
	}
}

func TestApplyPolicy(t *testing.T) {
	sender := SenderIdentity{ID: "42", Provider: "slack"}

	if d := ApplyPolicy(PolicyOpen, sender, nil); !d.Allowed {
		t.Error("open policy rejected a sender")
	}
	if d := ApplyPolicy(PolicyDisabled, sender, []string{"42"}); d.Allowed || d.NeedPairing {
		t.Errorf("disabled policy decision = %+v, want full rejection", d)
	}
	if d := ApplyPolicy(PolicyAllowlist, sender, []string{"42"}); !d.Allowed {
		t.Error("allowlist policy rejected a listed sender")
	}
	if d := ApplyPolicy(PolicyAllowlist, sender, nil); d.Allowed || d.NeedPairing {
		t.Errorf("allowlist policy decision = %+v for unlisted sender", d)
	}
	if d := ApplyPolicy(PolicyPairing, sender, []string{"42"}); !d.Allowed {
		t.Error("pairing policy rejected an allowlisted sender")
	}
	if d := ApplyPolicy(PolicyPairing, sender, nil); d.Allowed || !d.NeedPairing {
		t.Errorf("pairing policy decision = %+v, want NeedPairing", d)
	}
}
