// Package slack connects the relay to Slack via Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/channels"
	"github.com/marketbot/relay/internal/config"
)

// Channel implements Slack over Socket Mode, so no public webhook endpoint
// is needed.
type Channel struct {
	*channels.BaseChannel
	cfg       config.SlackConfig
	webClient *slackgo.Client
	smClient  *socketmode.Client
	botUserID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a Slack channel from config.
func New(cfg config.SlackConfig, router bus.MessageRouter) (*Channel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack requires both bot_token and app_token")
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("slack", router, cfg.AllowFrom),
		cfg:         cfg,
	}, nil
}

// Start opens the socket mode connection and the event loop.
func (c *Channel) Start(ctx context.Context) error {
	c.webClient = slackgo.New(c.cfg.BotToken,
		slackgo.OptionAppLevelToken(c.cfg.AppToken))

	resp, err := c.webClient.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botUserID = resp.UserID
	slog.Info("slack connected", "bot_user_id", c.botUserID)

	c.smClient = socketmode.New(c.webClient)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.SetRunning(true)

	go func() {
		if err := c.smClient.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode stopped", "error", err)
		}
	}()
	go func() {
		defer close(c.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case evt, ok := <-c.smClient.Events:
				if !ok {
					return
				}
				c.handleEvent(evt)
			}
		}
	}()
	return nil
}

// Stop cancels the socket mode loop.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
	return nil
}

func (c *Channel) handleEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	c.smClient.Ack(*evt.Request)
	cb, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	inner := cb.InnerEvent
	if inner.Type != "message" && inner.Type != "app_mention" {
		return
	}
	c.handleInnerEvent(inner)
}

// handleInnerEvent parses the raw events API payload. Inner event data
// arrives as map[string]interface{} so fields are extracted manually.
func (c *Channel) handleInnerEvent(ev slackevents.EventsAPIInnerEvent) {
	data, ok := ev.Data.(map[string]interface{})
	if !ok {
		return
	}
	userID, _ := data["user"].(string)
	channelID, _ := data["channel"].(string)
	text, _ := data["text"].(string)
	subtype, _ := data["subtype"].(string)
	channelType, _ := data["channel_type"].(string)
	ts, _ := data["ts"].(string)
	threadTS, _ := data["thread_ts"].(string)

	if subtype != "" || userID == "" || channelID == "" {
		return
	}
	if userID == c.botUserID {
		return
	}
	// A mention arrives as both a message event and an app_mention event;
	// keep only the app_mention copy.
	if ev.Type == "message" && c.botUserID != "" && strings.Contains(text, "<@"+c.botUserID+">") {
		return
	}

	isDM := channelType == "im"
	if !isDM && c.cfg.RequireMention && ev.Type != "app_mention" {
		return
	}

	chatType := "channel"
	if isDM {
		chatType = "direct"
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:  userID,
		ChatID:    channelID,
		ChatType:  chatType,
		MessageID: ts,
		Content:   c.stripMention(text),
		Metadata: map[string]string{
			"thread_ts":    threadTS,
			"channel_type": channelType,
		},
	})
}

func (c *Channel) stripMention(text string) string {
	if c.botUserID == "" {
		return text
	}
	re := regexp.MustCompile(`<@` + regexp.QuoteMeta(c.botUserID) + `>\s*`)
	return strings.TrimSpace(re.ReplaceAllString(text, ""))
}

// Send posts a reply, threading onto the original message when it carried
// a thread timestamp.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.webClient == nil {
		return fmt.Errorf("slack not started")
	}

	adapter := channels.LookupAdapter("slack")
	var options []slackgo.MsgOption
	options = append(options, slackgo.MsgOptionText(msg.Content, false))

	if threadTS := msg.Metadata["thread_ts"]; threadTS != "" && msg.Metadata["channel_type"] != "im" {
		options = append(options, slackgo.MsgOptionTS(threadTS))
	}
	if embeds := adapter.BuildCrossContextEmbeds(msg.OriginLabel); len(embeds) != 0 {
		var blocks []slackgo.Attachment
		for _, e := range embeds {
			blocks = append(blocks, slackgo.Attachment{Text: e.Description, Footer: e.Footer})
		}
		options = append(options, slackgo.MsgOptionAttachments(blocks...))
	}

	_, _, err := c.webClient.PostMessageContext(ctx, msg.ChatID, options...)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}
