package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is what the agent remembers about the workspace across restarts.
type State struct {
	LastChannel string    `json:"last_channel,omitempty"`
	LastChatID  string    `json:"last_chat_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Manager persists State to workspace/state/state.json. Every write goes
// through a temp file and a rename.
type Manager struct {
	mu       sync.RWMutex
	state    State
	filePath string
}

func NewManager(workspace string) *Manager {
	stateDir := filepath.Join(workspace, "state")
	os.MkdirAll(stateDir, 0755)

	m := &Manager{filePath: filepath.Join(stateDir, "state.json")}
	m.load()
	return m
}

// SetLastTarget records the channel and chat of the latest user turn.
func (m *Manager) SetLastTarget(channel, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastChannel = channel
	m.state.LastChatID = chatID
	m.state.Timestamp = time.Now().UTC()
	return m.saveAtomic()
}

func (m *Manager) LastTarget() (channel, chatID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LastChannel, m.state.LastChatID
}

func (m *Manager) Timestamp() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Timestamp
}

func (m *Manager) load() {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		return
	}
	json.Unmarshal(data, &m.state)
}

func (m *Manager) saveAtomic() error {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := m.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, m.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
