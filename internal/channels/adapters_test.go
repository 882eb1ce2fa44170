package channels

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// TestLookupAdapter_KnownChannels spot-checks capability flags for the
// channels the dispatch stage branches on.
func TestLookupAdapter_KnownChannels(t *testing.T) {
	tests := []struct {
		id         string
		embeds     bool
		chunkLimit int
	}{
		{"discord", true, 2000},
		{"slack", true, 40000},
		{"telegram", false, 4096},
		{"whatsapp", false, 65536},
		{"twitch", false, 500},
		{"imessage", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			a := LookupAdapter(tt.id)
			if a.ID != tt.id {
				t.Errorf("ID = %q, want %q", a.ID, tt.id)
			}
			if a.SupportsEmbeds != tt.embeds {
				t.Errorf("SupportsEmbeds = %v, want %v", a.SupportsEmbeds, tt.embeds)
			}
			if a.TextChunkLimit != tt.chunkLimit {
				t.Errorf("TextChunkLimit = %d, want %d", a.TextChunkLimit, tt.chunkLimit)
			}
		})
	}
}

// TestLookupAdapter_Unknown falls back to a plain-text adapter carrying the
// requested id.
func TestLookupAdapter_Unknown(t *testing.T) {
	a := LookupAdapter("carrier-pigeon")
	if a.ID != "carrier-pigeon" {
		t.Errorf("ID = %q", a.ID)
	}
	if a.SupportsEmbeds || a.CaptionLimit != 0 || a.TextChunkLimit != 0 {
		t.Errorf("default adapter should have no capabilities: %+v", a)
	}
}

// TestBuildCrossContextEmbeds returns embeds only for embed-capable
// channels with a non-empty origin.
func TestBuildCrossContextEmbeds(t *testing.T) {
	discord := LookupAdapter("discord")
	embeds := discord.BuildCrossContextEmbeds("telegram:12345")
	if len(embeds) != 1 {
		t.Fatalf("got %d embeds, want 1", len(embeds))
	}
	if !strings.Contains(embeds[0].Footer, "telegram:12345") {
		t.Errorf("footer = %q, want origin label in it", embeds[0].Footer)
	}

	if got := discord.BuildCrossContextEmbeds(""); got != nil {
		t.Errorf("empty origin produced embeds: %v", got)
	}
	if got := LookupAdapter("telegram").BuildCrossContextEmbeds("x"); got != nil {
		t.Errorf("non-embed channel produced embeds: %v", got)
	}
}

// TestInlineOrigin prefixes the origin only on channels without embed
// support.
func TestInlineOrigin(t *testing.T) {
	tg := LookupAdapter("telegram")
	if got := tg.InlineOrigin("hello", "discord:123"); got != "[from discord:123] hello" {
		t.Errorf("InlineOrigin = %q", got)
	}
	if got := tg.InlineOrigin("hello", ""); got != "hello" {
		t.Errorf("empty origin changed content: %q", got)
	}
	if got := LookupAdapter("discord").InlineOrigin("hello", "telegram:42"); got != "hello" {
		t.Errorf("embed channel content changed: %q", got)
	}
}

// TestChunkText verifies chunking respects the limit and prefers breaking
// at newlines.
func TestChunkText(t *testing.T) {
	a := Adapter{TextChunkLimit: 10}

	t.Run("short passthrough", func(t *testing.T) {
		got := a.ChunkText("hello")
		if len(got) != 1 || got[0] != "hello" {
			t.Errorf("got %v", got)
		}
	})

	t.Run("newline boundary", func(t *testing.T) {
		got := a.ChunkText("12345\n6789012")
		if len(got) != 2 || got[0] != "12345" || got[1] != "6789012" {
			t.Errorf("got %v", got)
		}
	})

	t.Run("all chunks within limit", func(t *testing.T) {
		long := strings.Repeat("word ", 50)
		for i, c := range a.ChunkText(long) {
			if len(c) > 10 {
				t.Errorf("chunk %d exceeds limit: %q", i, c)
			}
		}
	})

	t.Run("multibyte runes stay intact", func(t *testing.T) {
		long := strings.Repeat("é", 20) // 2 bytes each, no break points
		for i, c := range a.ChunkText(long) {
			if !utf8.ValidString(c) {
				t.Errorf("chunk %d split a rune: %q", i, c)
			}
			if len(c) > 10 {
				t.Errorf("chunk %d exceeds limit: %q", i, c)
			}
		}
	})

	t.Run("no limit", func(t *testing.T) {
		free := Adapter{}
		long := strings.Repeat("x", 100000)
		if got := free.ChunkText(long); len(got) != 1 {
			t.Errorf("unlimited adapter split text into %d chunks", len(got))
		}
	})
}

// TestInboundRateLimiter_Window checks the per-key budget inside one window.
func TestInboundRateLimiter_Window(t *testing.T) {
	rl := NewInboundRateLimiter(3)
	for i := 0; i < 3; i++ {
		if !rl.Allow("peer") {
			t.Fatalf("hit %d unexpectedly limited", i+1)
		}
	}
	if rl.Allow("peer") {
		t.Error("4th hit should be limited")
	}
	if !rl.Allow("other") {
		t.Error("independent key should not be limited")
	}
}
