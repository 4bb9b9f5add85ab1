package bus

import (
	"fmt"
	"strings"
	"time"
)

// InboundMessage is a message received from a channel. It is not modified
// after PublishInbound.
type InboundMessage struct {
	Channel            string            `json:"channel"`
	SenderID           string            `json:"sender_id"`
	ChatID             string            `json:"chat_id"`
	Content            string            `json:"content"`
	Media              []string          `json:"media,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	SessionKeyOverride string            `json:"session_key_override,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}

// SessionKey returns the override when set. Otherwise the key is
// "channel:chat_id", with the sender appended when it differs from the chat
// so that group members get separate conversations. Only the stable id of a
// composite "id|username" sender takes part in the key.
func (m InboundMessage) SessionKey() string {
	if m.SessionKeyOverride != "" {
		return m.SessionKeyOverride
	}
	sender := m.SenderID
	if i := strings.Index(sender, "|"); i >= 0 {
		sender = sender[:i]
	}
	if sender != "" && sender != m.ChatID {
		return fmt.Sprintf("%s:%s:%s", m.Channel, m.ChatID, sender)
	}
	return fmt.Sprintf("%s:%s", m.Channel, m.ChatID)
}

type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsProgress reports whether the message is an intermediate progress hint
// rather than a final reply.
func (m OutboundMessage) IsProgress() bool {
	return m.Metadata != nil && m.Metadata["type"] == "progress"
}
