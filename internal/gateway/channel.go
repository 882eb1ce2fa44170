package gateway

import (
	"context"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/channels"
	"github.com/marketbot/relay/pkg/protocol"
)

// GatewayChannelName is the channel id for operator chat. Messages sent to
// it (agent replies to chat.send) come back as WebSocket chat events, not
// through an external platform.
const GatewayChannelName = "gateway"

// gatewayChannel turns outbound messages for operator chats into chat
// events on the event bus. It satisfies channels.Channel so the normal
// dispatch loop handles delivery.
type gatewayChannel struct {
	events  bus.EventPublisher
	running bool
}

// NewGatewayChannel creates the operator chat pseudo-channel.
func NewGatewayChannel(events bus.EventPublisher) channels.Channel {
	return &gatewayChannel{events: events}
}

func (g *gatewayChannel) Name() string { return GatewayChannelName }

func (g *gatewayChannel) Start(_ context.Context) error {
	g.running = true
	return nil
}

func (g *gatewayChannel) Stop(_ context.Context) error {
	g.running = false
	return nil
}

func (g *gatewayChannel) IsRunning() bool { return g.running }

func (g *gatewayChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	g.events.Broadcast(bus.Event{
		Name: protocol.EventChat,
		Payload: map[string]string{
			"chatId":  msg.ChatID,
			"content": msg.Content,
			"replyTo": msg.ReplyTo,
		},
	})
	return nil
}
