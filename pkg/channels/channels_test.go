package channels

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/config"
)

func TestBaseChannel_IsAllowed(t *testing.T) {
	open := NewBaseChannel("test", bus.NewMessageBus(), nil)
	assert.True(t, open.IsAllowed("anyone"))

	ch := NewBaseChannel("test", bus.NewMessageBus(), []string{"alice", "12345"})
	cases := map[string]bool{
		"alice":        true,
		"12345":        true,
		"12345|bob":    true,
		"999|alice":    true,
		"bob":          false,
		"":             false,
		"|":            false,
		"alice2":       false,
		"1234":         false,
		"999|bob|carl": false,
	}
	for sender, want := range cases {
		assert.Equal(t, want, ch.IsAllowed(sender), "sender %q", sender)
	}
}

func TestBaseChannel_HandleMessage(t *testing.T) {
	mb := bus.NewMessageBus()
	ch := NewBaseChannel("telegram", mb, []string{"alice"})

	assert.False(t, ch.HandleMessage("mallory", "1", "hi", nil, nil, ""))
	assert.Equal(t, 0, mb.InboundSize())

	assert.True(t, ch.HandleMessage("alice", "1", "hi", []string{"/tmp/a.png"}, map[string]string{"k": "v"}, "custom"))
	msg, ok := mb.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, "telegram", msg.Channel)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "custom", msg.SessionKey())
	assert.Equal(t, []string{"/tmp/a.png"}, msg.Media)
	assert.False(t, msg.Timestamp.IsZero())
}

type fakeChannel struct {
	*BaseChannel
	startErr error

	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func newFakeChannel(name string, mb *bus.MessageBus) *fakeChannel {
	return &fakeChannel{BaseChannel: NewBaseChannel(name, mb, nil)}
}

func (f *fakeChannel) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.setRunning(true)
	return nil
}

func (f *fakeChannel) Stop(context.Context) error {
	f.setRunning(false)
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Sent() []bus.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.OutboundMessage(nil), f.sent...)
}

func TestManager_RoutesOutboundByChannel(t *testing.T) {
	mb := bus.NewMessageBus()
	a, b := newFakeChannel("a", mb), newFakeChannel("b", mb)
	m := NewManager(mb)
	m.Register(a)
	m.Register(b)

	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll(context.Background())

	require.NoError(t, mb.PublishOutbound(bus.OutboundMessage{Channel: "a", ChatID: "1", Content: "to a"}))
	require.NoError(t, mb.PublishOutbound(bus.OutboundMessage{Channel: "nowhere", ChatID: "1", Content: "dropped"}))
	require.NoError(t, mb.PublishOutbound(bus.OutboundMessage{Channel: "b", ChatID: "2", Content: "to b"}))

	require.Eventually(t, func() bool {
		return len(a.Sent()) == 1 && len(b.Sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "to a", a.Sent()[0].Content)
	assert.Equal(t, "to b", b.Sent()[0].Content)

	status := m.GetStatus()
	assert.Equal(t, map[string]interface{}{"running": true}, status["a"])
	assert.Equal(t, []string{"a", "b"}, m.Names())
}

func TestManager_SendErrors(t *testing.T) {
	mb := bus.NewMessageBus()
	m := NewManager(mb)
	stopped := newFakeChannel("idle", mb)
	m.Register(stopped)

	err := m.Send(context.Background(), bus.OutboundMessage{Channel: "missing"})
	assert.ErrorIs(t, err, ErrChannelNotFound)

	err = m.Send(context.Background(), bus.OutboundMessage{Channel: "idle"})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestManager_StartAllFails(t *testing.T) {
	mb := bus.NewMessageBus()
	bad := newFakeChannel("bad", mb)
	bad.startErr = errors.New("no token")
	m := NewManager(mb)
	m.Register(bad)

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start bad")
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	chunks := splitMessage("line one\nline two\nline three", 12)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 12)
	}
	assert.Equal(t, "line one", chunks[0])
	assert.Equal(t, "line one\nline two\nline three", strings.Join(chunks, "\n"))

	long := strings.Repeat("x", 25)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), "xxxxx"}, splitMessage(long, 10))
}

func TestWebSocketChannel_RoundTrip(t *testing.T) {
	mb := bus.NewMessageBus()
	ch := NewWebSocketChannel(config.WebSocketConfig{}, mb)
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop(context.Background())

	srv := httptest.NewServer(ch)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello wsFrame
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello.Type)
	require.NotEmpty(t, hello.ChatID)

	require.NoError(t, conn.WriteJSON(wsFrame{Type: "message", Content: "hi there"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	in, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "websocket", in.Channel)
	assert.Equal(t, hello.ChatID, in.ChatID)
	assert.Equal(t, "hi there", in.Content)

	require.NoError(t, ch.Send(context.Background(), bus.OutboundMessage{
		Channel: "websocket", ChatID: hello.ChatID, Content: "working", Metadata: map[string]string{"type": "progress"},
	}))
	require.NoError(t, ch.Send(context.Background(), bus.OutboundMessage{
		Channel: "websocket", ChatID: hello.ChatID, Content: "answer",
	}))

	var progress, reply wsFrame
	require.NoError(t, conn.ReadJSON(&progress))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "progress", progress.Type)
	assert.Equal(t, wsFrame{Type: "message", Content: "answer", ChatID: hello.ChatID}, reply)

	err = ch.Send(context.Background(), bus.OutboundMessage{Channel: "websocket", ChatID: "ghost"})
	assert.ErrorIs(t, err, ErrUnknownChat)
}
