// nanobot - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 nanobot contributors

package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lsynpy/nanobot/pkg/providers"
)

var ErrInvalidEntry = errors.New("invalid memory entry")

// MemoryEntry is one message in a session log. Entries are never modified
// after Append.
type MemoryEntry struct {
	Role       string               `json:"role"`
	Content    string               `json:"content"`
	ToolCalls  []providers.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolName   string               `json:"tool_name,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// Message converts the entry to a provider message.
func (e MemoryEntry) Message() providers.Message {
	return providers.Message{
		Role:       e.Role,
		Content:    e.Content,
		ToolCalls:  e.ToolCalls,
		ToolCallID: e.ToolCallID,
		Name:       e.ToolName,
	}
}

func (e MemoryEntry) validate() error {
	switch e.Role {
	case "user", "assistant", "system":
	case "tool":
		if e.ToolCallID == "" {
			return fmt.Errorf("%w: tool entry without call id", ErrInvalidEntry)
		}
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidEntry, e.Role)
	}
	return nil
}

type sessionLog struct {
	entries []MemoryEntry
	last    time.Time
}

// MemoryStore keeps the most recent entries of every session, up to a fixed
// window. Appending past the window evicts the oldest entry.
type MemoryStore struct {
	mu       sync.RWMutex
	window   int
	sessions map[string]*sessionLog
	now      func() time.Time
}

func NewMemoryStore(window int) *MemoryStore {
	if window < 1 {
		window = 1
	}
	return &MemoryStore{
		window:   window,
		sessions: make(map[string]*sessionLog),
		now:      time.Now,
	}
}

func (s *MemoryStore) Capacity() int {
	return s.window
}

// Append adds entry to the session log and returns the stored copy.
// Timestamps are forced to be strictly increasing within a session.
func (s *MemoryStore) Append(sessionKey string, entry MemoryEntry) (MemoryEntry, error) {
	if err := entry.validate(); err != nil {
		return MemoryEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.sessions[sessionKey]
	if !ok {
		log = &sessionLog{}
		s.sessions[sessionKey] = log
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if !entry.Timestamp.After(log.last) {
		entry.Timestamp = log.last.Add(time.Nanosecond)
	}
	log.last = entry.Timestamp

	log.entries = append(log.entries, entry)
	if excess := len(log.entries) - s.window; excess > 0 {
		// copy so the evicted prefix can be collected
		kept := make([]MemoryEntry, s.window, s.window+1)
		copy(kept, log.entries[excess:])
		log.entries = kept
	}
	return entry, nil
}

// Window returns the session's entries, oldest first.
func (s *MemoryStore) Window(sessionKey string) []MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.sessions[sessionKey]
	if !ok {
		return nil
	}
	out := make([]MemoryEntry, len(log.entries))
	copy(out, log.entries)
	return out
}

func (s *MemoryStore) Len(sessionKey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if log, ok := s.sessions[sessionKey]; ok {
		return len(log.entries)
	}
	return 0
}

func (s *MemoryStore) Has(sessionKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionKey]
	return ok
}

// Clear drops the session's window. The session stays known.
func (s *MemoryStore) Clear(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.sessions[sessionKey]; ok {
		log.entries = nil
	}
}

// Sessions returns the known session keys, sorted.
func (s *MemoryStore) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
