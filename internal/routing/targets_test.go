package routing

import "testing"

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		channel string
		raw     string
		want    string
	}{
		{"whatsapp", "+1 (202) 555-0199", "12025550199"},
		{"whatsapp", "whatsapp:+12025550199", "12025550199"},
		{"whatsapp", "12036304@g.us", "12036304@g.us"},
		{"signal", "+1 202 555 0199", "+12025550199"},
		{"telegram", "user:386246614", "386246614"},
		{"telegram", "@alice", "alice"},
		{"telegram", "telegram:@alice", "alice"},
		{"slack", "channel:C0AB12CD3", "C0AB12CD3"},
		{"discord", "  123456789012345678 ", "123456789012345678"},
		{"matrix", "@alice:example.org", "@alice:example.org"},
		{"dingtalk", "group:cid-abc", "cid-abc"},
		{"telegram", "", ""},
		{"telegram", "   ", ""},
	}

	for _, tt := range tests {
		if got := NormalizeTarget(tt.channel, tt.raw); got != tt.want {
			t.Errorf("NormalizeTarget(%q, %q) = %q, want %q", tt.channel, tt.raw, got, tt.want)
		}
	}
}

func TestLooksLikeTargetID(t *testing.T) {
	tests := []struct {
		channel string
		target  string
		want    bool
	}{
		{"whatsapp", "12025550199", true},
		{"whatsapp", "12036304@g.us", true},
		{"whatsapp", "alice", false},
		{"signal", "+12025550199", true},
		{"signal", "alice", false},
		{"telegram", "386246614", true},
		{"telegram", "-1001234567890", true}, // supergroup ids are negative
		{"telegram", "alice", false},
		{"telegram", "1234", false}, // too short for a user id
		{"telegram", "-", false},
		{"discord", "123456789012345678", true},
		{"discord", "alice", false},
		{"slack", "U0AB12CD3", true},
		{"slack", "C0AB12CD3", true},
		{"slack", "alice", false},
		{"matrix", "@alice:example.org", true},
		{"matrix", "!room:example.org", true},
		{"matrix", "alice", false},
		{"mattermost", "anything-goes", true}, // unknown channels defer to the adapter
		{"telegram", "", false},
	}

	for _, tt := range tests {
		if got := LooksLikeTargetID(tt.channel, tt.target); got != tt.want {
			t.Errorf("LooksLikeTargetID(%q, %q) = %v, want %v", tt.channel, tt.target, got, tt.want)
		}
	}
}
