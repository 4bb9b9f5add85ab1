package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/logger"
)

const discordMaxMessage = 2000

type DiscordChannel struct {
	*BaseChannel
	token   string
	session *discordgo.Session
}

func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		token:       cfg.Token,
	}
}

func (c *DiscordChannel) Start(_ context.Context) error {
	if c.token == "" {
		return fmt.Errorf("discord token not configured")
	}
	session, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	session.AddHandler(c.onMessage)

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	c.session = session
	c.setRunning(true)

	logger.InfoCF("channels", "Discord bot connected", nil)
	return nil
}

func (c *DiscordChannel) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	content := m.Content
	for _, a := range m.Attachments {
		content = strings.TrimSpace(content + "\n[attachment: " + a.URL + "]")
	}
	if content == "" {
		return
	}

	senderID := m.Author.ID
	if m.Author.Username != "" {
		senderID += "|" + m.Author.Username
	}
	metadata := map[string]string{
		"message_id": m.ID,
		"username":   m.Author.Username,
	}
	if m.GuildID != "" {
		metadata["guild_id"] = m.GuildID
		metadata["is_group"] = "true"
	}

	c.HandleMessage(senderID, m.ChannelID, content, nil, metadata, "")
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.session == nil {
		return ErrNotRunning
	}
	for _, chunk := range splitMessage(msg.Content, discordMaxMessage) {
		if _, err := c.session.ChannelMessageSend(msg.ChatID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (c *DiscordChannel) Stop(_ context.Context) error {
	c.setRunning(false)
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}
