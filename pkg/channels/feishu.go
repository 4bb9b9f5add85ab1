package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/tidwall/gjson"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/config"
	"github.com/lsynpy/nanobot/pkg/logger"
)

const (
	feishuMaxMessage = 4000
	feishuSeenLimit  = 1000
)

// feishuAPI is the part of the Open Platform API the channel calls.
type feishuAPI interface {
	SendText(ctx context.Context, receiveIDType, receiveID, text string) error
	React(ctx context.Context, messageID, emoji string) error
}

type larkAPI struct {
	client *lark.Client
}

func (a *larkAPI) SendText(ctx context.Context, receiveIDType, receiveID, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()
	resp, err := a.client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("feishu code %d: %s", resp.Code, resp.Msg)
	}
	return nil
}

func (a *larkAPI) React(ctx context.Context, messageID, emoji string) error {
	req := larkim.NewCreateMessageReactionReqBuilder().
		MessageId(messageID).
		Body(larkim.NewCreateMessageReactionReqBodyBuilder().
			ReactionType(larkim.NewEmojiBuilder().EmojiType(emoji).Build()).
			Build()).
		Build()
	resp, err := a.client.Im.V1.MessageReaction.Create(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("feishu code %d: %s", resp.Code, resp.Msg)
	}
	return nil
}

// FeishuChannel receives events over the Feishu/Lark websocket long
// connection and replies through the IM API.
type FeishuChannel struct {
	*BaseChannel
	cfg config.FeishuConfig
	api feishuAPI

	mu       sync.Mutex
	seen     map[string]struct{}
	seenList []string
}

func NewFeishuChannel(cfg config.FeishuConfig, msgBus *bus.MessageBus) *FeishuChannel {
	return &FeishuChannel{
		BaseChannel: NewBaseChannel("feishu", msgBus, cfg.AllowFrom),
		cfg:         cfg,
		seen:        make(map[string]struct{}),
	}
}

func (c *FeishuChannel) Start(ctx context.Context) error {
	if c.cfg.AppID == "" || c.cfg.AppSecret == "" {
		return fmt.Errorf("feishu app_id and app_secret not configured")
	}
	c.api = &larkAPI{client: lark.NewClient(c.cfg.AppID, c.cfg.AppSecret)}

	handler := larkdispatcher.NewEventDispatcher(c.cfg.VerificationToken, c.cfg.EncryptKey).
		OnP2MessageReceiveV1(c.handleEvent)
	ws := larkws.NewClient(c.cfg.AppID, c.cfg.AppSecret,
		larkws.WithEventHandler(handler),
		larkws.WithLogLevel(larkcore.LogLevelWarn))

	c.setRunning(true)
	// Start blocks for the life of the connection and reconnects by itself.
	go func() {
		if err := ws.Start(context.Background()); err != nil {
			logger.ErrorCF("channels", "Feishu websocket stopped", map[string]interface{}{"error": err.Error()})
			c.setRunning(false)
		}
	}()

	logger.InfoCF("channels", "Feishu bot connected", map[string]interface{}{"app_id": c.cfg.AppID})
	return nil
}

func (c *FeishuChannel) handleEvent(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
	if !c.IsRunning() || event == nil || event.Event == nil || event.Event.Message == nil || event.Event.Sender == nil {
		return nil
	}
	msg := event.Event.Message
	sender := event.Event.Sender
	if larkcore.StringValue(sender.SenderType) == "bot" {
		return nil
	}

	messageID := larkcore.StringValue(msg.MessageId)
	if !c.markSeen(messageID) {
		return nil
	}

	var senderID string
	if sender.SenderId != nil {
		senderID = larkcore.StringValue(sender.SenderId.OpenId)
	}
	chatType := larkcore.StringValue(msg.ChatType)
	chatID := larkcore.StringValue(msg.ChatId)
	if chatType == "p2p" {
		chatID = senderID
	}

	content := feishuText(larkcore.StringValue(msg.MessageType), larkcore.StringValue(msg.Content))
	if content == "" {
		return nil
	}

	if !c.HandleMessage(senderID, chatID, content, nil, map[string]string{
		"message_id": messageID,
		"chat_type":  chatType,
		"msg_type":   larkcore.StringValue(msg.MessageType),
	}, "") {
		return nil
	}

	if c.cfg.ReactEmoji != "" && messageID != "" && c.api != nil {
		if err := c.api.React(ctx, messageID, c.cfg.ReactEmoji); err != nil {
			logger.DebugCF("channels", "Feishu reaction failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

// markSeen reports whether messageID is new. Redelivered events are
// dropped; the oldest ids are forgotten past feishuSeenLimit.
func (c *FeishuChannel) markSeen(messageID string) bool {
	if messageID == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[messageID]; ok {
		return false
	}
	c.seen[messageID] = struct{}{}
	c.seenList = append(c.seenList, messageID)
	if len(c.seenList) > feishuSeenLimit {
		delete(c.seen, c.seenList[0])
		c.seenList = c.seenList[1:]
	}
	return true
}

func feishuText(msgType, content string) string {
	switch msgType {
	case "text":
		return strings.TrimSpace(gjson.Get(content, "text").String())
	case "post":
		var parts []string
		gjson.Get(content, "content").ForEach(func(_, line gjson.Result) bool {
			line.ForEach(func(_, el gjson.Result) bool {
				if t := el.Get("text").String(); t != "" {
					parts = append(parts, t)
				}
				return true
			})
			return true
		})
		if title := gjson.Get(content, "title").String(); title != "" {
			parts = append([]string{title}, parts...)
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	case "":
		return ""
	default:
		return "[" + msgType + "]"
	}
}

func (c *FeishuChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.api == nil || !c.IsRunning() {
		return ErrNotRunning
	}
	if msg.ChatID == "" {
		return fmt.Errorf("%w: empty chat id", ErrUnknownChat)
	}
	receiveIDType := larkim.ReceiveIdTypeOpenId
	if strings.HasPrefix(msg.ChatID, "oc_") {
		receiveIDType = larkim.ReceiveIdTypeChatId
	}
	for _, chunk := range splitMessage(msg.Content, feishuMaxMessage) {
		if err := c.api.SendText(ctx, receiveIDType, msg.ChatID, chunk); err != nil {
			return fmt.Errorf("feishu send: %w", err)
		}
	}
	return nil
}

// Stop drops further events. The SDK offers no way to close the websocket.
func (c *FeishuChannel) Stop(_ context.Context) error {
	c.setRunning(false)
	return nil
}
