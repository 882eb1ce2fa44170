package routing

import (
	"testing"

	"github.com/marketbot/relay/internal/bus"
)

// TestNormalize_Basics checks field derivation for a plain direct message.
func TestNormalize_Basics(t *testing.T) {
	mc := Normalize(bus.InboundMessage{
		Channel:    "Telegram",
		SenderID:   " 12345 ",
		SenderName: "Alice",
		ChatID:     "12345",
		Content:    "/status please",
		ChatType:   "DM",
		MessageID:  "m-1",
	}, "Telegram")

	if mc.Provider != "telegram" {
		t.Errorf("Provider = %q, want %q", mc.Provider, "telegram")
	}
	if mc.Surface != "telegram" {
		t.Errorf("Surface = %q, want %q", mc.Surface, "telegram")
	}
	if mc.ChatType != ChatTypeDirect {
		t.Errorf("ChatType = %q, want direct", mc.ChatType)
	}
	if mc.SenderID != "12345" {
		t.Errorf("SenderID = %q, want trimmed id", mc.SenderID)
	}
	if mc.From != "telegram:12345" {
		t.Errorf("From = %q, want telegram:12345", mc.From)
	}
	if mc.To != "telegram:12345" {
		t.Errorf("To = %q, want telegram:12345", mc.To)
	}
	if mc.CommandBody != "status please" {
		t.Errorf("CommandBody = %q, want command marker stripped", mc.CommandBody)
	}
	if !mc.Usable() {
		t.Error("expected context to be usable")
	}
}

// TestNormalize_MalformedInput verifies totality: empty and junk fields
// degrade to zero values instead of failing.
func TestNormalize_MalformedInput(t *testing.T) {
	mc := Normalize(bus.InboundMessage{ChatType: "room-v7"}, "")

	if mc.ChatType != ChatTypeUnknown {
		t.Errorf("ChatType = %q, want unknown", mc.ChatType)
	}
	if mc.From != "" || mc.To != "" {
		t.Errorf("From/To = %q/%q, want empty for missing identity", mc.From, mc.To)
	}
	if mc.Usable() {
		t.Error("context with no identity must not be usable")
	}
}

// TestNormalize_GroupIDImpliesGroup verifies that a group id with no
// explicit chat-type hint still classifies the chat as a group.
func TestNormalize_GroupIDImpliesGroup(t *testing.T) {
	mc := Normalize(bus.InboundMessage{
		SenderID: "u1",
		ChatID:   "g100",
		GroupID:  "g100",
	}, "whatsapp")

	if mc.ChatType != ChatTypeGroup {
		t.Errorf("ChatType = %q, want group", mc.ChatType)
	}
	if !mc.IsGroup() {
		t.Error("IsGroup() = false, want true")
	}
}

// TestNormalize_MetadataPassthrough verifies group subject and reply-to
// metadata reach the context.
func TestNormalize_MetadataPassthrough(t *testing.T) {
	mc := Normalize(bus.InboundMessage{
		SenderID: "u1",
		ChatID:   "c1",
		Metadata: map[string]string{"group_subject": "Ops", "reply_to": "m-9"},
	}, "slack")

	if mc.GroupSubject != "Ops" {
		t.Errorf("GroupSubject = %q, want Ops", mc.GroupSubject)
	}
	if mc.ReplyToID != "m-9" {
		t.Errorf("ReplyToID = %q, want m-9", mc.ReplyToID)
	}
}

func TestDedupeKey(t *testing.T) {
	withID := Normalize(bus.InboundMessage{
		SenderID: "u1", ChatID: "c1", MessageID: "m-1", Content: "hi",
	}, "discord")
	if got, want := withID.DedupeKey(), "discord:c1:m-1"; got != want {
		t.Errorf("DedupeKey() = %q, want %q", got, want)
	}

	// No platform message id: fall back to a content-derived key.
	noID := Normalize(bus.InboundMessage{
		SenderID: "u1", ChatID: "c1", Content: "hi",
	}, "discord")
	if got, want := noID.DedupeKey(), "discord:c1:u1:hi"; got != want {
		t.Errorf("DedupeKey() = %q, want %q", got, want)
	}
}
