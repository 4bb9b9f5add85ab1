package channels

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/logger"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotRunning      = errors.New("channel not running")
	ErrUnknownChat     = errors.New("unknown chat")
)

// Channel connects one chat platform to the bus.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// BaseChannel carries the state shared by every adapter: name, bus,
// allow-list and running flag.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   atomic.Bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// IsAllowed reports whether senderID may talk to the agent. An empty
// allow-list allows everyone. Otherwise the id, or any non-empty part of a
// "|"-separated id (e.g. "12345|username"), must match an entry exactly.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	if c.listed(senderID) {
		return true
	}
	if strings.Contains(senderID, "|") {
		for _, part := range strings.Split(senderID, "|") {
			if part != "" && c.listed(part) {
				return true
			}
		}
	}
	return false
}

func (c *BaseChannel) listed(id string) bool {
	for _, allowed := range c.allowList {
		if allowed == id {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound message after the access check.
// Denied senders are logged and dropped; it reports whether the message was
// published.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]string, sessionKey string) bool {
	if !c.IsAllowed(senderID) {
		logger.WarnCF("channels", "Access denied for sender "+senderID+" on channel "+c.name+". Add them to allowFrom list in config to grant access.",
			map[string]interface{}{
				"channel":   c.name,
				"sender_id": senderID,
			})
		return false
	}

	err := c.bus.PublishInbound(bus.InboundMessage{
		Channel:            c.name,
		SenderID:           senderID,
		ChatID:             chatID,
		Content:            content,
		Media:              media,
		Metadata:           metadata,
		SessionKeyOverride: sessionKey,
		Timestamp:          time.Now(),
	})
	if err != nil {
		logger.WarnCF("channels", "Failed to publish inbound message", map[string]interface{}{
			"channel": c.name,
			"error":   err.Error(),
		})
		return false
	}
	return true
}

// splitMessage cuts content into chunks of at most limit runes, preferring
// to break at newlines.
func splitMessage(content string, limit int) []string {
	runes := []rune(content)
	if len(runes) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
