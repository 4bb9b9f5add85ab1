package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/logger"
)

const telegramMaxMessage = 4096

type TelegramChannel struct {
	*BaseChannel
	token  string
	bot    *telego.Bot
	cancel context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, msgBus *bus.MessageBus) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		token:       cfg.Token,
	}
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	if c.token == "" {
		return fmt.Errorf("telegram token not configured")
	}
	bot, err := telego.NewBot(c.token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	updates, err := bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{Timeout: 30})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.bot = bot
	c.cancel = cancel
	c.setRunning(true)

	go func() {
		for update := range updates {
			if update.Message != nil {
				c.handleUpdate(update.Message)
			}
		}
	}()

	logger.InfoCF("channels", "Telegram bot connected", nil)
	return nil
}

func (c *TelegramChannel) handleUpdate(msg *telego.Message) {
	if msg.From == nil {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.Username != "" {
		senderID += "|" + msg.From.Username
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	var parts []string
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	if msg.Caption != "" {
		parts = append(parts, msg.Caption)
	}
	if len(msg.Photo) > 0 {
		parts = append(parts, "[image]")
	}
	if msg.Document != nil {
		parts = append(parts, fmt.Sprintf("[file: %s]", msg.Document.FileName))
	}
	content := strings.Join(parts, "\n")
	if content == "" {
		return
	}

	metadata := map[string]string{
		"message_id": strconv.Itoa(msg.MessageID),
		"username":   msg.From.Username,
		"first_name": msg.From.FirstName,
	}
	if msg.Chat.Type != telego.ChatTypePrivate {
		metadata["is_group"] = "true"
	}

	c.HandleMessage(senderID, chatID, content, nil, metadata, "")
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.bot == nil {
		return ErrNotRunning
	}
	id, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownChat, msg.ChatID)
	}
	for _, chunk := range splitMessage(msg.Content, telegramMaxMessage) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(id), chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func (c *TelegramChannel) Stop(_ context.Context) error {
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}
