package routing

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/sessions"
)

// Binding is the routing configuration resolved for one inbound context:
// which agent handles it and under what access rules.
type Binding struct {
	AgentID        string
	DMPolicy       AccessPolicy
	GroupPolicy    AccessPolicy
	AllowFrom      []string
	GroupAllowFrom []string
	Scope          string // "" | "global"
	DMScope        string // "" | "main" | "per-peer" | "per-channel-peer"
	MainKey        string
	SilentToken    string
}

// BindingResolver maps an inbound context to its binding. Implemented by the
// config layer.
type BindingResolver interface {
	Resolve(mc MsgContext) Binding
}

// PairingChecker is consulted under the pairing policy. IssueCode returns
// the short code the sender must present out-of-band to get linked.
type PairingChecker interface {
	IsPaired(channel, senderID string) (bool, error)
	IssueCode(channel, senderID string) (string, error)
}

// Turn is one serialized agent invocation.
type Turn struct {
	SessionKey  string
	AgentID     string
	SilentToken string
	Context     MsgContext
}

// TurnRunner executes an agent turn and returns the parsed reply. The runner
// owns transcript persistence; the stored report is the stripped display
// text, never raw directive syntax.
type TurnRunner interface {
	RunTurn(ctx context.Context, turn Turn) (ReplyDirectives, error)
}

// CommandSink receives [[exec:...]] and [[queue:...]] directives. Optional;
// without one those directives are logged and dropped.
type CommandSink interface {
	Exec(ctx context.Context, mc MsgContext, command string) error
	Queue(mc MsgContext, command string) error
}

// Router wires the pipeline stages together. One Router instance serves all
// channels; per-session ordering comes from the Serializer, duplicate
// suppression from the DedupeCache.
type Router struct {
	bus        bus.MessageRouter
	bindings   BindingResolver
	runner     TurnRunner
	pairing    PairingChecker // nil disables the pairing flow
	commands   CommandSink    // nil drops exec/queue directives
	dedupe     *DedupeCache
	serializer *Serializer

	mu     sync.Mutex
	aborts map[string]context.CancelFunc

	wg sync.WaitGroup
}

// RouterOptions collects the router's collaborators.
type RouterOptions struct {
	Bus      bus.MessageRouter
	Bindings BindingResolver
	Runner   TurnRunner
	Pairing  PairingChecker
	Commands CommandSink
	Dedupe   *DedupeCache
}

// NewRouter builds a router. A nil Dedupe gets the default cache.
func NewRouter(opts RouterOptions) *Router {
	dedupe := opts.Dedupe
	if dedupe == nil {
		dedupe = NewDedupeCache(0, 0)
	}
	return &Router{
		bus:        opts.Bus,
		bindings:   opts.Bindings,
		runner:     opts.Runner,
		pairing:    opts.Pairing,
		commands:   opts.Commands,
		dedupe:     dedupe,
		serializer: NewSerializer(),
		aborts:     make(map[string]context.CancelFunc),
	}
}

// Run consumes inbound messages until ctx is done, then waits for in-flight
// turns to finish.
func (r *Router) Run(ctx context.Context) {
	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		r.Handle(ctx, msg)
	}
	r.wg.Wait()
}

// Handle pushes one inbound message through the pipeline. The pre-turn
// stages (normalize, dedupe, policy, session resolution, queue reservation)
// run synchronously so arrival order maps to per-session execution order;
// the agent turn itself runs on its own goroutine.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) {
	mc := Normalize(msg, msg.Channel)
	if !mc.Usable() {
		slog.Warn("dropping inbound event with no usable identity",
			"channel", msg.Channel, "message_id", msg.MessageID)
		return
	}

	if r.dedupe.Check(mc.DedupeKey()) {
		slog.Debug("dropping duplicate inbound event",
			"channel", mc.Provider, "message_id", mc.MessageID)
		return
	}

	binding := r.bindings.Resolve(mc)
	if !r.admit(mc, binding) {
		return
	}

	sessionKey := r.sessionKey(mc, binding)
	slot := r.serializer.Reserve(sessionKey)

	r.wg.Add(1)
	go r.runTurn(ctx, slot, sessionKey, mc, binding)
}

// admit applies the access policy for the context's surface. Returns true
// when the turn may proceed.
func (r *Router) admit(mc MsgContext, binding Binding) bool {
	policy, entries := binding.DMPolicy, binding.AllowFrom
	if mc.IsGroup() {
		policy, entries = binding.GroupPolicy, binding.GroupAllowFrom
	}

	sender := SenderIdentity{
		ID:       mc.SenderID,
		Username: mc.SenderName,
		Name:     mc.SenderName,
		Provider: mc.Provider,
	}

	decision := ApplyPolicy(policy, sender, entries)
	if decision.Allowed {
		return true
	}
	if !decision.NeedPairing {
		slog.Info("sender rejected by access policy",
			"channel", mc.Provider, "sender", mc.SenderID, "policy", string(policy))
		return false
	}

	if r.pairing == nil {
		slog.Info("pairing required but no pairing store configured",
			"channel", mc.Provider, "sender", mc.SenderID)
		return false
	}

	paired, err := r.pairing.IsPaired(mc.Provider, mc.SenderID)
	if err != nil {
		slog.Error("pairing lookup failed", "channel", mc.Provider, "error", err)
		return false
	}
	if paired {
		return true
	}

	code, err := r.pairing.IssueCode(mc.Provider, mc.SenderID)
	if err != nil {
		slog.Error("pairing code issue failed", "channel", mc.Provider, "error", err)
		return false
	}
	r.bus.PublishOutbound(bus.OutboundMessage{
		Channel: mc.Provider,
		ChatID:  mc.ConversationID,
		Content: "Pairing required. Ask the operator to approve code: " + code,
	})
	return false
}

func (r *Router) sessionKey(mc MsgContext, binding Binding) string {
	chatID := mc.ConversationID
	if mc.IsGroup() && mc.GroupID != "" {
		chatID = mc.GroupID
	}
	kind := sessions.PeerKindFromGroup(mc.IsGroup())
	if mc.ChatType == ChatTypeChannel {
		kind = sessions.PeerChannel
	}
	return sessions.BuildScopedSessionKey(binding.AgentID, mc.Provider, kind,
		chatID, binding.Scope, binding.DMScope, binding.MainKey)
}

func (r *Router) runTurn(ctx context.Context, slot *Slot, sessionKey string, mc MsgContext, binding Binding) {
	defer r.wg.Done()
	defer slot.Release()

	if err := slot.Wait(ctx); err != nil {
		slog.Debug("queued turn abandoned", "session", sessionKey, "error", err)
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.registerAbort(sessionKey, cancel)
	defer r.clearAbort(sessionKey)

	reply, err := r.runner.RunTurn(turnCtx, Turn{
		SessionKey:  sessionKey,
		AgentID:     binding.AgentID,
		SilentToken: binding.SilentToken,
		Context:     mc,
	})
	if err != nil {
		if turnCtx.Err() != nil {
			slog.Info("agent turn aborted", "session", sessionKey)
			return
		}
		slog.Error("agent turn failed", "session", sessionKey, "error", err)
		r.bus.PublishOutbound(bus.OutboundMessage{
			Channel: mc.Provider,
			ChatID:  mc.ConversationID,
			Content: "The agent hit an error handling that message. Please try again.",
		})
		return
	}

	r.dispatchReply(turnCtx, mc, reply)
}

// dispatchReply turns extracted directives into outbound messages and
// command-sink calls.
func (r *Router) dispatchReply(ctx context.Context, mc MsgContext, reply ReplyDirectives) {
	if reply.Exec != "" {
		if r.commands != nil {
			if err := r.commands.Exec(ctx, mc, reply.Exec); err != nil {
				slog.Error("exec directive failed", "channel", mc.Provider, "error", err)
			}
		} else {
			slog.Warn("exec directive dropped, no command sink configured")
		}
	}
	if reply.Queue != "" {
		if r.commands != nil {
			if err := r.commands.Queue(mc, reply.Queue); err != nil {
				slog.Error("queue directive failed", "channel", mc.Provider, "error", err)
			}
		} else {
			slog.Warn("queue directive dropped, no command sink configured")
		}
	}

	if reply.Silent || reply.Text == "" {
		slog.Debug("suppressing empty or silent reply", "channel", mc.Provider)
		return
	}

	channel, target, crossContext := r.resolveDestination(mc, reply.ReplyTo)

	out := bus.OutboundMessage{
		Channel: channel,
		ChatID:  target,
		Content: reply.Text,
		AsVoice: reply.AudioAsVoice,
	}
	if crossContext {
		out.OriginLabel = mc.Provider + ":" + mc.ConversationID
	} else if channel == mc.Provider && target == mc.ConversationID {
		out.ReplyTo = mc.MessageID
	}
	r.bus.PublishOutbound(out)
}

// resolveDestination validates an explicit reply_to target, falling back to
// the default destination when the target is empty or implausible. The
// default is the originating conversation unless the context carries a
// delivery override (cron jobs addressed to a real channel).
func (r *Router) resolveDestination(mc MsgContext, replyTo string) (channel, target string, crossContext bool) {
	channel, target = mc.Provider, mc.ConversationID
	if mc.DeliverChannel != "" && mc.DeliverTo != "" {
		channel, target = mc.DeliverChannel, mc.DeliverTo
	}
	if replyTo == "" {
		return channel, target, false
	}

	destChannel, destTarget := channel, replyTo
	if idx := strings.IndexByte(replyTo, ':'); idx > 0 {
		destChannel = strings.ToLower(strings.TrimSpace(replyTo[:idx]))
		destTarget = replyTo[idx+1:]
	}

	normalized := NormalizeTarget(destChannel, destTarget)
	if normalized == "" || !LooksLikeTargetID(destChannel, normalized) {
		slog.Warn("reply_to target rejected, replying in origin conversation",
			"channel", destChannel, "target", destTarget)
		return channel, target, false
	}

	cross := destChannel != channel || normalized != target
	return destChannel, normalized, cross
}

// Abort cancels the in-flight turn for a session, if any. Queued turns
// behind it proceed normally.
func (r *Router) Abort(sessionKey string) bool {
	r.mu.Lock()
	cancel, ok := r.aborts[sessionKey]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveSessions reports session keys with an in-flight turn.
func (r *Router) ActiveSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.aborts))
	for k := range r.aborts {
		keys = append(keys, k)
	}
	return keys
}

func (r *Router) registerAbort(sessionKey string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.aborts[sessionKey] = cancel
	r.mu.Unlock()
}

func (r *Router) clearAbort(sessionKey string) {
	r.mu.Lock()
	delete(r.aborts, sessionKey)
	r.mu.Unlock()
}
