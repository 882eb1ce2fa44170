// Package telegram connects the relay to the Telegram Bot API via long
// polling (telego).
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/channels"
	"github.com/marketbot/relay/internal/config"
)

// Channel connects to Telegram using Bot API long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	cfg        config.TelegramConfig
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel from config.
func New(cfg config.TelegramConfig, router bus.MessageRouter) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", router, cfg.AllowFrom),
		bot:         bot,
		cfg:         cfg,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the poll goroutine.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		<-c.pollDone
	}
	return nil
}

func (c *Channel) handleMessage(msg *telego.Message) {
	if isServiceMessage(msg) {
		return
	}
	user := msg.From
	if user == nil {
		return
	}

	userID := strconv.FormatInt(user.ID, 10)
	senderID := userID
	if user.Username != "" {
		senderID = userID + "|" + user.Username
	}

	isGroup := msg.Chat.Type == "group" || msg.Chat.Type == "supergroup"
	if isGroup && c.requireMention() && !c.detectMention(msg) {
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:   senderID,
		SenderName: strings.TrimSpace(user.FirstName + " " + user.LastName),
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		ChatType:   msg.Chat.Type,
		MessageID:  strconv.Itoa(msg.MessageID),
		Content:    stripBotMention(content, c.bot.Username()),
		Metadata: map[string]string{
			"username": user.Username,
		},
	})
}

func (c *Channel) requireMention() bool {
	if c.cfg.RequireMention != nil {
		return *c.cfg.RequireMention
	}
	return true
}

// detectMention checks message entities for an @bot mention or a reply to
// one of the bot's own messages.
func (c *Channel) detectMention(msg *telego.Message) bool {
	botUsername := c.bot.Username()
	if botUsername == "" {
		return false
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.Username == botUsername {
		return true
	}
	text := msg.Text
	entities := msg.Entities
	if text == "" {
		text = msg.Caption
		entities = msg.CaptionEntities
	}
	for _, e := range entities {
		if e.Type != telego.EntityTypeMention {
			continue
		}
		end := e.Offset + e.Length
		if e.Offset < 0 || end > len(text) {
			continue
		}
		if strings.EqualFold(text[e.Offset:end], "@"+botUsername) {
			return true
		}
	}
	return false
}

// stripBotMention removes a leading @bot mention from the message body.
func stripBotMention(text, botUsername string) string {
	if botUsername == "" {
		return text
	}
	trimmed := strings.TrimSpace(text)
	prefix := "@" + botUsername
	if len(trimmed) >= len(prefix) && strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return strings.TrimSpace(trimmed[len(prefix):])
	}
	return text
}

func isServiceMessage(msg *telego.Message) bool {
	return len(msg.NewChatMembers) > 0 ||
		msg.LeftChatMember != nil ||
		msg.NewChatTitle != "" ||
		msg.PinnedMessage != nil ||
		msg.GroupChatCreated ||
		msg.SupergroupChatCreated
}

// Send delivers an outbound message, chunking long text per the channel's
// limit and replying to the original message when requested.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	adapter := channels.LookupAdapter("telegram")
	chunks := adapter.ChunkText(msg.Content)
	for i, chunk := range chunks {
		params := tu.Message(tu.ID(chatID), chunk)
		if i == 0 && msg.ReplyTo != "" {
			if replyID, perr := strconv.Atoi(msg.ReplyTo); perr == nil {
				params.ReplyParameters = &telego.ReplyParameters{
					MessageID:                replyID,
					AllowSendingWithoutReply: true,
				}
			}
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}
