package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketbot/relay/internal/bus"
)

const (
	maxSendAttempts  = 3
	sendRetryBackoff = 500 * time.Millisecond
)

// RetryableError lets channel transports mark a send failure as worth
// retrying. Failures that don't implement it are treated as retryable
// unless the context ended.
type RetryableError interface {
	error
	Retryable() bool
}

// Manager owns registered channel lifecycles and the outbound dispatch
// loop that routes bus replies to the right platform.
type Manager struct {
	channels map[string]Channel
	bus      bus.MessageRouter
	cancel   context.CancelFunc
	mu       sync.RWMutex
}

// NewManager creates a channel manager. Channels are registered via
// RegisterChannel before StartAll.
func NewManager(router bus.MessageRouter) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      router,
	}
}

// StartAll starts every registered channel and the outbound dispatcher.
// The dispatcher runs even with zero channels since config reload may add
// some later. A channel that fails to start fails the whole call.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.dispatchOutbound(dispatchCtx)

	channels := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		channels[name] = ch
	}
	m.mu.Unlock()

	if len(channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, ch := range channels {
		g.Go(func() error {
			slog.Info("starting channel", "channel", name)
			if err := ch.Start(gctx); err != nil {
				return fmt.Errorf("start channel %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("all channels started", "count", len(channels))
	return nil
}

// StopAll stops the dispatcher and every channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	slog.Info("all channels stopped")
	return nil
}

// dispatchOutbound consumes replies from the bus and delivers each through
// its channel, retrying transient failures with backoff. Internal channels
// are skipped.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	slog.Info("outbound dispatcher started")
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}
		if IsInternalChannel(msg.Channel) {
			continue
		}

		m.mu.RLock()
		ch, exists := m.channels[msg.Channel]
		m.mu.RUnlock()
		if !exists {
			slog.Warn("unknown channel for outbound message", "channel", msg.Channel)
			continue
		}

		msg.Content = LookupAdapter(msg.Channel).InlineOrigin(msg.Content, msg.OriginLabel)
		if err := m.sendWithRetry(ctx, ch, msg); err != nil {
			slog.Error("outbound delivery failed",
				"channel", msg.Channel,
				"chat", msg.ChatID,
				"error", err)
		}
	}
}

// sendWithRetry attempts delivery up to maxSendAttempts times with doubling
// backoff. Non-retryable transport errors and context cancellation stop the
// attempts early.
func (m *Manager) sendWithRetry(ctx context.Context, ch Channel, msg bus.OutboundMessage) error {
	backoff := sendRetryBackoff
	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		lastErr = ch.Send(ctx, msg)
		if lastErr == nil {
			return nil
		}
		var re RetryableError
		if errors.As(lastErr, &re) && !re.Retryable() {
			return lastErr
		}
		if attempt == maxSendAttempts {
			break
		}
		slog.Warn("send failed, retrying",
			"channel", msg.Channel,
			"attempt", attempt,
			"error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Status reports the running state of every registered channel.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}

// EnabledChannels returns the names of all registered channels.
func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = ch
}

// UnregisterChannel removes a channel.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// SendToChannel delivers an ad hoc message to a named channel, bypassing
// the bus. Used by the gateway send method and cron notices.
func (m *Manager) SendToChannel(ctx context.Context, channelName, chatID, content string) error {
	m.mu.RLock()
	ch, exists := m.channels[channelName]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("channel %s not found", channelName)
	}
	return ch.Send(ctx, bus.OutboundMessage{
		Channel: channelName,
		ChatID:  chatID,
		Content: content,
	})
}
