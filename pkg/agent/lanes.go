package agent

import (
	"context"
	"sync"

	"github.com/lsynpy/nanobot/pkg/bus"
	"github.com/lsynpy/nanobot/pkg/logger"
)

// lane queues the messages of one session. At most one goroutine drains a
// lane at a time, so a session's turns run in arrival order.
type lane struct {
	pending []bus.InboundMessage
}

func (al *AgentLoop) dispatch(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()

	al.mu.Lock()
	l, active := al.lanes[key]
	if !active {
		l = &lane{}
		al.lanes[key] = l
	}
	l.pending = append(l.pending, msg)
	al.mu.Unlock()

	if !active {
		al.wg.Add(1)
		go al.drain(ctx, key, l)
	}
}

func (al *AgentLoop) drain(ctx context.Context, key string, l *lane) {
	defer al.wg.Done()
	for {
		al.mu.Lock()
		if len(l.pending) == 0 || ctx.Err() != nil {
			dropped := len(l.pending)
			delete(al.lanes, key)
			al.mu.Unlock()
			if dropped > 0 {
				logger.WarnCF("agent", "Dropping queued messages on shutdown", map[string]interface{}{
					"session_key": key,
					"count":       dropped,
				})
			}
			return
		}
		msg := l.pending[0]
		l.pending = l.pending[1:]
		al.mu.Unlock()

		al.ProcessMessage(ctx, msg)
	}
}

// lockSession serializes turns of one session across lanes and direct
// calls. The returned func releases the lock.
func (al *AgentLoop) lockSession(key string) func() {
	v, _ := al.sessions.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
