package routing

import (
	"strings"
	"testing"
)

// TestExtractDirectives_Tags checks each tag is recognized, stripped from
// the display text, and reflected in the flags.
func TestExtractDirectives_Tags(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, d ReplyDirectives)
	}{
		{
			name: "reply_to",
			raw:  "On it. [[reply_to:telegram:12345]]",
			check: func(t *testing.T, d ReplyDirectives) {
				if d.ReplyTo != "telegram:12345" {
					t.Errorf("ReplyTo = %q", d.ReplyTo)
				}
				if d.Text != "On it." {
					t.Errorf("Text = %q", d.Text)
				}
			},
		},
		{
			name: "exec",
			raw:  "[[exec:df -h]] checking disk",
			check: func(t *testing.T, d ReplyDirectives) {
				if d.Exec != "df -h" {
					t.Errorf("Exec = %q", d.Exec)
				}
				if d.Text != "checking disk" {
					t.Errorf("Text = %q", d.Text)
				}
			},
		},
		{
			name: "queue",
			raw:  "Will follow up. [[queue:summarize thread]]",
			check: func(t *testing.T, d ReplyDirectives) {
				if d.Queue != "summarize thread" {
					t.Errorf("Queue = %q", d.Queue)
				}
			},
		},
		{
			name: "boolean toggles",
			raw:  "[[elevated]][[verbose]][[reasoning]][[audio_as_voice]]done",
			check: func(t *testing.T, d ReplyDirectives) {
				if !d.Elevated || !d.Verbose || !d.Reasoning || !d.AudioAsVoice {
					t.Errorf("toggles = %+v, want all set", d)
				}
				if d.Text != "done" {
					t.Errorf("Text = %q", d.Text)
				}
			},
		},
		{
			name: "multiple tags are order-independent",
			raw:  "[[verbose]] hello [[reply_to:user:7]] world [[elevated]]",
			check: func(t *testing.T, d ReplyDirectives) {
				if !d.Verbose || !d.Elevated || d.ReplyTo != "user:7" {
					t.Errorf("flags = %+v", d)
				}
				if d.Text != "hello world" {
					t.Errorf("Text = %q", d.Text)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ExtractDirectives(tt.raw, DirectiveOptions{}))
		})
	}
}

// TestExtractDirectives_FailsOpen verifies malformed or unknown tag syntax
// survives in the display text instead of being swallowed.
func TestExtractDirectives_FailsOpen(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unterminated", "look at [[reply_to:abc"},
		{"unknown tag", "array syntax [[0]] stays"},
		{"empty value", "bad [[exec:]] tag"},
		{"bare brackets", "a [ b ]] c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ExtractDirectives(tt.raw, DirectiveOptions{})
			if d.Exec != "" || d.ReplyTo != "" {
				t.Errorf("malformed tag was interpreted: %+v", d)
			}
			// The offending syntax stays visible.
			if !strings.Contains(d.Text, "[[") && !strings.Contains(d.Text, "[") {
				t.Errorf("Text = %q, want raw brackets preserved", d.Text)
			}
		})
	}
}

// TestExtractDirectives_SilentToken verifies NO_REPLY only matches as a
// standalone word anchored at the start or end of the reply.
func TestExtractDirectives_SilentToken(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantSilent bool
		wantText   string
	}{
		{"exact", "NO_REPLY", true, ""},
		{"leading", "NO_REPLY - nothing to add", true, "- nothing to add"},
		{"trailing", "nothing to add. NO_REPLY", true, "nothing to add."},
		{"trailing with whitespace", "ok  NO_REPLY  ", true, "ok"},
		{"mid-sentence is ignored", "I sent NO_REPLY to the user", false, "I sent NO_REPLY to the user"},
		{"word-boundary guard", "NO_REPLY_NEEDED here", false, "NO_REPLY_NEEDED here"},
		{"suffix guard", "ANO_REPLY", false, "ANO_REPLY"},
		{"plain text", "hello", false, "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ExtractDirectives(tt.raw, DirectiveOptions{})
			if d.Silent != tt.wantSilent {
				t.Errorf("Silent = %v, want %v", d.Silent, tt.wantSilent)
			}
			if d.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", d.Text, tt.wantText)
			}
		})
	}
}

// TestExtractDirectives_CustomSilentToken verifies the token is configurable.
func TestExtractDirectives_CustomSilentToken(t *testing.T) {
	d := ExtractDirectives("SKIP", DirectiveOptions{SilentToken: "SKIP"})
	if !d.Silent || d.Text != "" {
		t.Errorf("got silent=%v text=%q, want silent with empty text", d.Silent, d.Text)
	}

	d = ExtractDirectives("NO_REPLY", DirectiveOptions{SilentToken: "SKIP"})
	if d.Silent {
		t.Error("default token matched despite a custom token being configured")
	}
}

// TestExtractDirectives_TagPlusSilent verifies extraction of one directive
// does not corrupt detection of another in the same reply.
func TestExtractDirectives_TagPlusSilent(t *testing.T) {
	d := ExtractDirectives("[[queue:check later]] NO_REPLY", DirectiveOptions{})
	if d.Queue != "check later" {
		t.Errorf("Queue = %q", d.Queue)
	}
	if !d.Silent {
		t.Error("Silent = false, want true after tag stripping")
	}
	if d.Text != "" {
		t.Errorf("Text = %q, want empty", d.Text)
	}
}
