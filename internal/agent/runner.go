// Package agent executes one serialized conversation turn: load the session
// transcript, call the configured provider, parse reply directives, and
// persist the exchange.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/config"
	"github.com/marketbot/relay/internal/providers"
	"github.com/marketbot/relay/internal/routing"
	"github.com/marketbot/relay/internal/sessions"
	"github.com/marketbot/relay/internal/telemetry"
	"github.com/marketbot/relay/pkg/protocol"
)

const defaultTurnTimeout = 120 * time.Second

// ErrTurnTimeout marks a provider call that exceeded the turn deadline.
// The gateway reports it as AGENT_TIMEOUT, retryable.
var ErrTurnTimeout = errors.New("agent turn timed out")

// Runner implements routing.TurnRunner on top of the provider registry and
// the per-agent transcript stores.
type Runner struct {
	cfg      *config.Config
	registry *providers.Registry
	events   bus.EventPublisher // nil disables turn events

	mu     sync.Mutex
	stores map[string]*sessions.Store // agentID → store
}

// NewRunner creates a turn runner.
func NewRunner(cfg *config.Config, registry *providers.Registry, events bus.EventPublisher) *Runner {
	return &Runner{
		cfg:      cfg,
		registry: registry,
		events:   events,
		stores:   make(map[string]*sessions.Store),
	}
}

// Store returns the transcript store for an agent, creating it on first use.
func (r *Runner) Store(agentID string) *sessions.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[agentID]; ok {
		return s
	}
	s := sessions.NewStore(sessions.StoreOptions{
		StateDir:   r.cfg.SessionsStoragePath(),
		AgentID:    agentID,
		MaxEntries: r.cfg.Sessions.MaxEntries,
	})
	r.stores[agentID] = s
	return s
}

// RunTurn executes one agent turn. The returned directives carry the
// stripped reply text; the transcript stores the stripped text as well,
// never raw directive syntax.
func (r *Runner) RunTurn(ctx context.Context, turn routing.Turn) (routing.ReplyDirectives, error) {
	agentCfg := r.cfg.ResolveAgent(turn.AgentID)

	tracer := telemetry.Tracer("mbrelay/agent")
	ctx, span := tracer.Start(ctx, "agent.turn")
	span.SetAttributes(
		attribute.String("agent.id", turn.AgentID),
		attribute.String("channel", turn.Context.Provider),
		attribute.String("provider", agentCfg.Provider),
	)
	defer span.End()

	r.emit(protocol.AgentEventTurnStarted, turn)

	provider, err := r.registry.Get(agentCfg.Provider)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.emit(protocol.AgentEventTurnFailed, turn)
		return routing.ReplyDirectives{}, err
	}

	store := r.Store(turn.AgentID)
	history, err := store.LoadRecent(turn.SessionKey)
	if err != nil {
		slog.Warn("transcript load failed, starting fresh", "session", turn.SessionKey, "error", err)
		history = nil
	}

	req := providers.Request{
		System:      r.buildSystem(agentCfg, turn, history),
		Messages:    buildMessages(history, turn.Context.Body),
		Model:       agentCfg.Model,
		MaxTokens:   agentCfg.MaxTokens,
		Temperature: agentCfg.Temperature,
	}

	timeout := defaultTurnTimeout
	if d, perr := time.ParseDuration(agentCfg.TurnTimeout); perr == nil && d > 0 {
		timeout = d
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := provider.GenerateReply(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", ErrTurnTimeout, timeout)
		}
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			r.emit(protocol.AgentEventTurnAborted, turn)
		} else {
			r.emit(protocol.AgentEventTurnFailed, turn)
		}
		return routing.ReplyDirectives{}, err
	}

	silentToken := turn.SilentToken
	if silentToken == "" {
		silentToken = r.cfg.Agents.Defaults.SilentToken
	}
	reply := routing.ExtractDirectives(raw, routing.DirectiveOptions{SilentToken: silentToken})

	entries := []sessions.Entry{{
		Type:    sessions.EntryUser,
		Content: turn.Context.Body,
		Meta: map[string]string{
			"channel": turn.Context.Provider,
			"sender":  turn.Context.SenderID,
		},
	}}
	if reply.Text != "" {
		entries = append(entries, sessions.Entry{
			Type:    sessions.EntryReport,
			Content: reply.Text,
		})
	}
	if err := store.Append(turn.SessionKey, entries...); err != nil {
		slog.Error("transcript append failed", "session", turn.SessionKey, "error", err)
	}

	r.emit(protocol.AgentEventTurnCompleted, turn)
	return reply, nil
}

func (r *Runner) buildSystem(agentCfg config.AgentDefaults, turn routing.Turn, history []sessions.Entry) string {
	system := agentCfg.SystemPrompt
	summary := summaryContext(history)
	if summary == "" {
		return system
	}
	if system == "" {
		return summary
	}
	return system + "\n\n" + summary
}

// emit broadcasts a turn lifecycle event to gateway subscribers.
func (r *Runner) emit(name string, turn routing.Turn) {
	if r.events == nil {
		return
	}
	r.events.Broadcast(bus.Event{
		Name: name,
		Payload: map[string]string{
			"agentId":    turn.AgentID,
			"sessionKey": turn.SessionKey,
			"channel":    turn.Context.Provider,
		},
	})
}

// buildMessages turns transcript entries into provider messages, with the
// incoming message appended last. Summary and compaction entries are system
// context, not conversation turns.
func buildMessages(history []sessions.Entry, incoming string) []providers.Message {
	msgs := make([]providers.Message, 0, len(history)+1)
	for _, e := range history {
		switch e.Type {
		case sessions.EntryUser:
			msgs = append(msgs, providers.Message{Role: "user", Content: e.Content})
		case sessions.EntryReport:
			msgs = append(msgs, providers.Message{Role: "assistant", Content: e.Content})
		}
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: incoming})
	return msgs
}

// summaryContext folds summary/compaction/system entries into one context
// block for the system prompt.
func summaryContext(history []sessions.Entry) string {
	var parts []string
	for _, e := range history {
		switch e.Type {
		case sessions.EntrySummary, sessions.EntryCompaction, sessions.EntrySystem:
			if e.Content != "" {
				parts = append(parts, e.Content)
			}
		}
	}
	if len(parts) == 0 {
		return ""
	}
	out := "Earlier conversation context:\n"
	for _, p := range parts {
		out += "- " + p + "\n"
	}
	return out
}
