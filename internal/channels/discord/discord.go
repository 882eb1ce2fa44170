// Package discord connects the relay to Discord gateway events via
// discordgo.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/channels"
	"github.com/marketbot/relay/internal/config"
)

// Channel connects to Discord via the gateway websocket.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	cfg       config.DiscordConfig
	botUserID string // populated on start
}

// New creates a Discord channel from config.
func New(cfg config.DiscordConfig, router bus.MessageRouter) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", router, cfg.AllowFrom),
		session:     session,
		cfg:         cfg,
	}, nil
}

// Start opens the gateway connection.
func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	isGuild := m.GuildID != ""
	if isGuild && c.requireMention() && !c.mentionsBot(m) {
		return
	}

	chatType := "direct"
	if isGuild {
		chatType = "group"
	}
	senderID := m.Author.ID
	if m.Author.Username != "" {
		senderID = m.Author.ID + "|" + m.Author.Username
	}

	c.HandleMessage(bus.InboundMessage{
		SenderID:   senderID,
		SenderName: m.Author.Username,
		ChatID:     m.ChannelID,
		GroupID:    m.GuildID,
		ChatType:   chatType,
		MessageID:  m.ID,
		Content:    c.stripMention(m.Content),
		Metadata: map[string]string{
			"username": m.Author.Username,
			"guild_id": m.GuildID,
		},
	})
}

func (c *Channel) requireMention() bool {
	if c.cfg.RequireMention != nil {
		return *c.cfg.RequireMention
	}
	return true
}

func (c *Channel) mentionsBot(m *discordgo.MessageCreate) bool {
	for _, u := range m.Mentions {
		if u.ID == c.botUserID {
			return true
		}
	}
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
		return m.ReferencedMessage.Author.ID == c.botUserID
	}
	return false
}

func (c *Channel) stripMention(content string) string {
	for _, form := range []string{"<@" + c.botUserID + ">", "<@!" + c.botUserID + ">"} {
		content = strings.ReplaceAll(content, form, "")
	}
	return strings.TrimSpace(content)
}

// Send delivers an outbound message, using an embed for cross-context
// relays and chunking long text.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}

	adapter := channels.LookupAdapter("discord")
	var embeds []*discordgo.MessageEmbed
	for _, e := range adapter.BuildCrossContextEmbeds(msg.OriginLabel) {
		embeds = append(embeds, &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Footer:      &discordgo.MessageEmbedFooter{Text: e.Footer},
		})
	}

	chunks := adapter.ChunkText(msg.Content)
	for i, chunk := range chunks {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 {
			send.Embeds = embeds
			if msg.ReplyTo != "" {
				send.Reference = &discordgo.MessageReference{
					MessageID: msg.ReplyTo,
					ChannelID: msg.ChatID,
				}
			}
		}
		if _, err := c.session.ChannelMessageSendComplex(msg.ChatID, send); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}
