package manager

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gopm-io/gopm/internal/protocol"
)

// subscriberBuffer is the channel depth per follow subscriber. A
// subscriber that falls further behind loses lines rather than
// stalling the producers.
const subscriberBuffer = 256

// Subscription is a live feed of log lines from one process, or from
// all processes when Name is empty. Close it when done.
type Subscription struct {
	ID   string
	Name string
	C    chan protocol.LogEntry

	m    *Manager
	once sync.Once
}

// Close removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.m.subsMu.Lock()
		delete(s.m.subscribers, s.ID)
		close(s.C)
		s.m.subsMu.Unlock()
	})
}

// Subscribe registers a live log feed. With a name, only that
// process's lines are delivered and the process must exist; with an
// empty name every process's lines are delivered.
func (m *Manager) Subscribe(name string) (*Subscription, error) {
	if name != "" {
		if _, err := m.lookup(name); err != nil {
			return nil, err
		}
	}

	sub := &Subscription{
		ID:   uuid.New().String(),
		Name: name,
		C:    make(chan protocol.LogEntry, subscriberBuffer),
		m:    m,
	}

	m.subsMu.Lock()
	m.subscribers[sub.ID] = sub
	m.subsMu.Unlock()
	return sub, nil
}

// broadcast fans a log entry out to matching subscribers without
// blocking on any of them.
func (m *Manager) broadcast(le protocol.LogEntry) {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	for _, sub := range m.subscribers {
		if sub.Name != "" && sub.Name != le.Name {
			continue
		}
		select {
		case sub.C <- le:
		default:
		}
	}
}
