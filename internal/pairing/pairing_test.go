package pairing

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := Open(Options{
		Path:    filepath.Join(t.TempDir(), "pairing.db"),
		CodeTTL: ttl,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestPairingFlow walks the full lifecycle: unknown sender, code issue,
// approval, paired lookup, revoke.
func TestPairingFlow(t *testing.T) {
	s := openTestStore(t, 0)

	paired, err := s.IsPaired("telegram", "42")
	if err != nil {
		t.Fatalf("IsPaired: %v", err)
	}
	if paired {
		t.Fatal("unknown sender should not be paired")
	}

	code, err := s.IssueCode("telegram", "42")
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if len(code) != codeLen {
		t.Errorf("code %q has length %d, want %d", code, len(code), codeLen)
	}

	channel, senderID, err := s.Approve(code)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if channel != "telegram" || senderID != "42" {
		t.Errorf("Approve returned %s/%s", channel, senderID)
	}

	paired, err = s.IsPaired("telegram", "42")
	if err != nil || !paired {
		t.Fatalf("sender should be paired after approval: %v", err)
	}

	// Same sender id on another channel stays unpaired.
	if paired, _ := s.IsPaired("discord", "42"); paired {
		t.Error("pairing must be channel-scoped")
	}

	if err := s.Revoke("telegram", "42"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if paired, _ := s.IsPaired("telegram", "42"); paired {
		t.Error("sender still paired after revoke")
	}
}

// TestIssueCode_IdempotentWithinTTL returns the same code for repeated
// requests so every "pairing required" notice shows one code.
func TestIssueCode_IdempotentWithinTTL(t *testing.T) {
	s := openTestStore(t, 0)

	first, err := s.IssueCode("telegram", "42")
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	second, err := s.IssueCode("telegram", "42")
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if first != second {
		t.Errorf("codes differ within TTL: %q vs %q", first, second)
	}

	other, err := s.IssueCode("telegram", "99")
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if other == first {
		t.Error("different senders share a code")
	}
}

// TestApprove_ExpiredCode rejects codes past their TTL.
func TestApprove_ExpiredCode(t *testing.T) {
	s := openTestStore(t, time.Millisecond)

	code, err := s.IssueCode("telegram", "42")
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	time.Sleep(1100 * time.Millisecond) // expiry is second-granular

	if _, _, err := s.Approve(code); err == nil {
		t.Fatal("expired code should not approve")
	}
	if paired, _ := s.IsPaired("telegram", "42"); paired {
		t.Error("sender paired via expired code")
	}
}

// TestApprove_UnknownCode rejects codes that were never issued.
func TestApprove_UnknownCode(t *testing.T) {
	s := openTestStore(t, 0)
	if _, _, err := s.Approve("NOTACODE"); err == nil {
		t.Fatal("unknown code should not approve")
	}
}

// TestListPairedAndPrune covers the operator-facing listings.
func TestListPairedAndPrune(t *testing.T) {
	s := openTestStore(t, 0)

	for _, sender := range []string{"1", "2"} {
		code, err := s.IssueCode("telegram", sender)
		if err != nil {
			t.Fatalf("IssueCode: %v", err)
		}
		if _, _, err := s.Approve(code); err != nil {
			t.Fatalf("Approve: %v", err)
		}
	}

	all, err := s.ListPaired("")
	if err != nil {
		t.Fatalf("ListPaired: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d paired senders, want 2", len(all))
	}
	tg, err := s.ListPaired("telegram")
	if err != nil || len(tg) != 2 {
		t.Errorf("channel-filtered list: %v, %d entries", err, len(tg))
	}
	if err := s.Prune(); err != nil {
		t.Fatalf("Prune: %v", err)
	}
}
