package channels

import (
	"context"
	"errors"
	"sync"
	"testing"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/config"
)

type sentText struct {
	idType, id, text string
}

type fakeFeishuAPI struct {
	mu        sync.Mutex
	sent      []sentText
	reactions []string
	err       error
}

func (f *fakeFeishuAPI) SendText(_ context.Context, receiveIDType, receiveID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentText{receiveIDType, receiveID, text})
	return nil
}

func (f *fakeFeishuAPI) React(_ context.Context, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, messageID+":"+emoji)
	return nil
}

func runningFeishu(t *testing.T, cfg config.FeishuConfig) (*FeishuChannel, *fakeFeishuAPI, *bus.MessageBus) {
	t.Helper()
	mb := bus.NewMessageBus()
	ch := NewFeishuChannel(cfg, mb)
	api := &fakeFeishuAPI{}
	ch.api = api
	ch.setRunning(true)
	return ch, api, mb
}

func str(s string) *string { return &s }

func feishuEvent(messageID, chatType, chatID, openID, msgType, content string) *larkim.P2MessageReceiveV1 {
	return &larkim.P2MessageReceiveV1{
		Event: &larkim.P2MessageReceiveV1Data{
			Sender: &larkim.EventSender{
				SenderId:   &larkim.UserId{OpenId: str(openID)},
				SenderType: str("user"),
			},
			Message: &larkim.EventMessage{
				MessageId:   str(messageID),
				ChatId:      str(chatID),
				ChatType:    str(chatType),
				MessageType: str(msgType),
				Content:     str(content),
			},
		},
	}
}

func TestFeishuChannel_PrivateMessage(t *testing.T) {
	ch, api, mb := runningFeishu(t, config.FeishuConfig{ReactEmoji: "THUMBSUP"})

	require.NoError(t, ch.handleEvent(context.Background(),
		feishuEvent("om_1", "p2p", "oc_dm", "ou_alice", "text", `{"text":" hello bot "}`)))

	msg, ok := mb.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, "feishu", msg.Channel)
	assert.Equal(t, "ou_alice", msg.SenderID)
	assert.Equal(t, "ou_alice", msg.ChatID)
	assert.Equal(t, "hello bot", msg.Content)
	assert.Equal(t, "om_1", msg.Metadata["message_id"])
	assert.Equal(t, []string{"om_1:THUMBSUP"}, api.reactions)
}

func TestFeishuChannel_GroupPostAndDuplicates(t *testing.T) {
	ch, api, mb := runningFeishu(t, config.FeishuConfig{})
	post := `{"title":"Plan","content":[[{"tag":"text","text":"ship"},{"tag":"at","user_id":"x"}],[{"tag":"text","text":"today"}]]}`
	event := feishuEvent("om_2", "group", "oc_team", "ou_bob", "post", post)

	require.NoError(t, ch.handleEvent(context.Background(), event))
	require.NoError(t, ch.handleEvent(context.Background(), event))

	assert.Equal(t, 1, mb.InboundSize())
	msg, _ := mb.ConsumeInbound(context.Background())
	assert.Equal(t, "oc_team", msg.ChatID)
	assert.Equal(t, "Plan ship today", msg.Content)
	assert.Empty(t, api.reactions)
}

func TestFeishuChannel_AllowListAndBots(t *testing.T) {
	ch, api, mb := runningFeishu(t, config.FeishuConfig{AllowFrom: []string{"ou_alice"}, ReactEmoji: "OK"})

	require.NoError(t, ch.handleEvent(context.Background(),
		feishuEvent("om_3", "p2p", "oc_x", "ou_mallory", "text", `{"text":"hi"}`)))
	bot := feishuEvent("om_4", "p2p", "oc_x", "ou_alice", "text", `{"text":"hi"}`)
	bot.Event.Sender.SenderType = str("bot")
	require.NoError(t, ch.handleEvent(context.Background(), bot))
	require.NoError(t, ch.handleEvent(context.Background(), nil))

	assert.Equal(t, 0, mb.InboundSize())
	assert.Empty(t, api.reactions)
}

func TestFeishuText(t *testing.T) {
	assert.Equal(t, "[image]", feishuText("image", `{"image_key":"img_1"}`))
	assert.Equal(t, "", feishuText("text", `{"text":"  "}`))
}

func TestFeishuChannel_Send(t *testing.T) {
	ch, api, _ := runningFeishu(t, config.FeishuConfig{})

	require.NoError(t, ch.Send(context.Background(), bus.OutboundMessage{Channel: "feishu", ChatID: "oc_team", Content: "done"}))
	require.NoError(t, ch.Send(context.Background(), bus.OutboundMessage{Channel: "feishu", ChatID: "ou_alice", Content: "hi"}))
	assert.Equal(t, []sentText{
		{larkim.ReceiveIdTypeChatId, "oc_team", "done"},
		{larkim.ReceiveIdTypeOpenId, "ou_alice", "hi"},
	}, api.sent)

	api.err = errors.New("rate limited")
	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "oc_team", Content: "x"})
	assert.ErrorContains(t, err, "rate limited")

	require.NoError(t, ch.Stop(context.Background()))
	assert.ErrorIs(t, ch.Send(context.Background(), bus.OutboundMessage{ChatID: "oc_team", Content: "x"}), ErrNotRunning)
}

func TestFeishuChannel_StartRequiresCredentials(t *testing.T) {
	ch := NewFeishuChannel(config.FeishuConfig{AppID: "cli_a"}, bus.NewMessageBus())
	assert.Error(t, ch.Start(context.Background()))
	assert.False(t, ch.IsRunning())
}
