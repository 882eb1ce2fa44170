package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/config"
	"github.com/marketbot/relay/internal/providers"
	"github.com/marketbot/relay/internal/routing"
	"github.com/marketbot/relay/internal/sessions"
)

type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	delay   time.Duration
	reqs    []providers.Request
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "scripted-1" }

func (p *scriptedProvider) GenerateReply(ctx context.Context, req providers.Request) (string, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return "", p.err
	}
	reply := p.replies[0]
	if len(p.replies) > 1 {
		p.replies = p.replies[1:]
	}
	return reply, nil
}

func testRunner(t *testing.T, p providers.Provider) (*Runner, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Sessions.Storage = t.TempDir()
	cfg.Agents.Defaults.Provider = "scripted"
	reg := providers.NewRegistry()
	reg.Register(p)
	return NewRunner(cfg, reg, nil), cfg
}

func testTurn() routing.Turn {
	return routing.Turn{
		SessionKey: "agent:default:telegram:direct:42",
		AgentID:    "default",
		Context: routing.MsgContext{
			Provider: "telegram",
			SenderID: "42",
			Body:     "hello there",
		},
	}
}

// TestRunTurn_PersistsStrippedTranscript verifies the turn reply is parsed
// for directives and the transcript records the stripped text, not the raw
// directive syntax.
func TestRunTurn_PersistsStrippedTranscript(t *testing.T) {
	p := &scriptedProvider{replies: []string{"[[reply_to:m-9]] sure thing"}}
	r, _ := testRunner(t, p)

	reply, err := r.RunTurn(context.Background(), testTurn())
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if reply.Text != "sure thing" {
		t.Errorf("reply text = %q, want %q", reply.Text, "sure thing")
	}
	if reply.ReplyTo != "m-9" {
		t.Errorf("reply_to = %q, want m-9", reply.ReplyTo)
	}

	history, err := r.Store("default").LoadRecent("agent:default:telegram:direct:42")
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d entries, want 2", len(history))
	}
	if history[0].Type != sessions.EntryUser || history[0].Content != "hello there" {
		t.Errorf("user entry = %+v", history[0])
	}
	if history[1].Type != sessions.EntryReport || history[1].Content != "sure thing" {
		t.Errorf("report entry = %+v", history[1])
	}
	if strings.Contains(history[1].Content, "[[") {
		t.Errorf("transcript leaked directive syntax: %q", history[1].Content)
	}
}

// TestRunTurn_HistoryBecomesMessages verifies prior transcript entries feed
// the next provider request as alternating user/assistant messages.
func TestRunTurn_HistoryBecomesMessages(t *testing.T) {
	p := &scriptedProvider{replies: []string{"first reply", "second reply"}}
	r, _ := testRunner(t, p)
	turn := testTurn()

	if _, err := r.RunTurn(context.Background(), turn); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	turn.Context.Body = "follow-up"
	if _, err := r.RunTurn(context.Background(), turn); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	second := p.reqs[1]
	want := []providers.Message{
		{Role: "user", Content: "hello there"},
		{Role: "assistant", Content: "first reply"},
		{Role: "user", Content: "follow-up"},
	}
	if len(second.Messages) != len(want) {
		t.Fatalf("got %d messages, want %d: %+v", len(second.Messages), len(want), second.Messages)
	}
	for i, m := range second.Messages {
		if m != want[i] {
			t.Errorf("message[%d] = %+v, want %+v", i, m, want[i])
		}
	}
}

// TestRunTurn_SilentReplyNotPersisted verifies a silent turn still records
// the user message but adds no empty report entry.
func TestRunTurn_SilentReplyNotPersisted(t *testing.T) {
	p := &scriptedProvider{replies: []string{"NO_REPLY"}}
	r, _ := testRunner(t, p)

	reply, err := r.RunTurn(context.Background(), testTurn())
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !reply.Silent {
		t.Fatal("expected silent reply")
	}

	history, _ := r.Store("default").LoadRecent("agent:default:telegram:direct:42")
	if len(history) != 1 || history[0].Type != sessions.EntryUser {
		t.Errorf("history = %+v, want single user entry", history)
	}
}

// TestRunTurn_ProviderError propagates the provider failure without
// touching the transcript.
func TestRunTurn_ProviderError(t *testing.T) {
	p := &scriptedProvider{err: errors.New("boom")}
	r, _ := testRunner(t, p)

	if _, err := r.RunTurn(context.Background(), testTurn()); err == nil {
		t.Fatal("expected error")
	}
	history, _ := r.Store("default").LoadRecent("agent:default:telegram:direct:42")
	if len(history) != 0 {
		t.Errorf("failed turn wrote %d entries, want 0", len(history))
	}
}

// TestRunTurn_Timeout maps a deadline overrun to ErrTurnTimeout.
func TestRunTurn_Timeout(t *testing.T) {
	p := &scriptedProvider{replies: []string{"late"}, delay: 200 * time.Millisecond}
	r, cfg := testRunner(t, p)
	cfg.Agents.Defaults.TurnTimeout = "20ms"

	_, err := r.RunTurn(context.Background(), testTurn())
	if !errors.Is(err, ErrTurnTimeout) {
		t.Fatalf("err = %v, want ErrTurnTimeout", err)
	}
}

// TestRunTurn_UnknownProvider fails fast when the configured provider was
// never registered.
func TestRunTurn_UnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Sessions.Storage = t.TempDir()
	cfg.Agents.Defaults.Provider = "missing"
	r := NewRunner(cfg, providers.NewRegistry(), nil)

	if _, err := r.RunTurn(context.Background(), testTurn()); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}

// TestRunTurn_EmitsLifecycleEvents verifies started/completed events reach
// bus subscribers.
func TestRunTurn_EmitsLifecycleEvents(t *testing.T) {
	p := &scriptedProvider{replies: []string{"ok"}}
	cfg := config.Default()
	cfg.Sessions.Storage = t.TempDir()
	cfg.Agents.Defaults.Provider = "scripted"
	reg := providers.NewRegistry()
	reg.Register(p)
	b := bus.New()

	var mu sync.Mutex
	var names []string
	b.Subscribe("test", func(e bus.Event) {
		mu.Lock()
		names = append(names, e.Name)
		mu.Unlock()
	})

	r := NewRunner(cfg, reg, b)
	if _, err := r.RunTurn(context.Background(), testTurn()); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 2 || names[0] != "turn.started" || names[1] != "turn.completed" {
		t.Errorf("events = %v, want [turn.started turn.completed]", names)
	}
}
