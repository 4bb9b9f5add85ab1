package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/logger"
)

// Manager owns the registered channels and routes outbound messages to
// them by name.
type Manager struct {
	bus *bus.MessageBus

	mu       sync.RWMutex
	channels map[string]Channel

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		bus:      msgBus,
		channels: make(map[string]Channel),
	}
}

func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) snapshot() []Channel {
	names := m.Names()
	out := make([]Channel, 0, len(names))
	for _, name := range names {
		if ch, ok := m.Get(name); ok {
			out = append(out, ch)
		}
	}
	return out
}

// StartAll starts every channel concurrently, then the outbound
// dispatcher. It fails if any channel fails to start.
func (m *Manager) StartAll(ctx context.Context) error {
	// channels keep ctx for their lifetime, so no derived group context
	var g errgroup.Group
	for _, ch := range m.snapshot() {
		ch := ch
		g.Go(func() error {
			logger.InfoCF("channels", "Starting channel", map[string]interface{}{"channel": ch.Name()})
			if err := ch.Start(ctx); err != nil {
				return fmt.Errorf("start %s: %w", ch.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	dctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.dispatchOutbound(dctx)

	logger.InfoCF("channels", "All channels started", map[string]interface{}{"channels": m.Names()})
	return nil
}

// StopAll stops the dispatcher and every channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	var errs []error
	for _, ch := range m.snapshot() {
		if err := ch.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	defer m.wg.Done()
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		if err := m.Send(ctx, msg); err != nil {
			logger.WarnCF("channels", "Failed to deliver outbound message", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// Send delivers msg through the channel it names.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) error {
	ch, ok := m.Get(msg.Channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, msg.Channel)
	}
	if !ch.IsRunning() {
		return fmt.Errorf("%w: %s", ErrNotRunning, msg.Channel)
	}
	return ch.Send(ctx, msg)
}

func (m *Manager) GetStatus() map[string]interface{} {
	status := make(map[string]interface{})
	for _, ch := range m.snapshot() {
		status[ch.Name()] = map[string]interface{}{
			"running": ch.IsRunning(),
		}
	}
	return status
}
