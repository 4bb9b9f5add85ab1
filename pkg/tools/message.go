package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type SendCallback func(channel, chatID, content string, metadata map[string]string) error

// MessageTool lets the model push a message to a chat before, or instead
// of, its final answer.
type MessageTool struct {
	mu           sync.Mutex
	sendCallback SendCallback
	sent         map[string]bool
}

func NewMessageTool() *MessageTool {
	return &MessageTool{sent: make(map[string]bool)}
}

func (t *MessageTool) Name() string {
	return "message"
}

func (t *MessageTool) Description() string {
	return "Send a message to the user on a chat channel. Use this to deliver something right away while you keep working, or to reach a different chat."
}

func (t *MessageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The message content to send",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Optional: target channel (telegram, discord, feishu, websocket, cli)",
			},
			"chat_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional: target chat/user ID",
			},
			"media": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional: file paths or URLs to attach",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) SetSendCallback(callback SendCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendCallback = callback
}

// ConsumeSent reports whether a message reached channel:chatID since the
// last call, and resets the flag.
func (t *MessageTool) ConsumeSent(channel, chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := channel + ":" + chatID
	sent := t.sent[key]
	delete(t.sent, key)
	return sent
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	content, ok := args["content"].(string)
	if !ok {
		return ErrorResult("content is required")
	}

	channel, _ := args["channel"].(string)
	chatID, _ := args["chat_id"].(string)

	ctxChannel, ctxChatID := ExecutionTarget(ctx)

	t.mu.Lock()
	callback := t.sendCallback
	if channel == "" {
		channel = ctxChannel
	}
	if chatID == "" {
		chatID = ctxChatID
	}
	t.mu.Unlock()

	if channel == "" || chatID == "" {
		return ErrorResult("No target channel/chat specified")
	}
	if callback == nil {
		return ErrorResult("Message sending not configured")
	}

	var metadata map[string]string
	if media := stringList(args["media"]); len(media) > 0 {
		metadata = map[string]string{"media": strings.Join(media, "\n")}
	}

	if err := callback(channel, chatID, content, metadata); err != nil {
		return ErrorResult(fmt.Sprintf("sending message: %v", err)).WithError(err)
	}

	t.mu.Lock()
	t.sent[channel+":"+chatID] = true
	t.mu.Unlock()

	return SilentResult(fmt.Sprintf("Message sent to %s:%s", channel, chatID))
}

func stringList(v interface{}) []string {
	var out []string
	for _, item := range toSlice(v) {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
