// Package presence copies presence changes from the router into a
// storage.PresenceStore. Updates are queued and written by one goroutine in
// arrival order; the router never waits on the store. Entries that are not
// offline are rewritten every ttl/2 so a long-lived session never expires
// out of the store.
package presence

import (
	"context"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

const queueSize = 1024

// Notifier receives presence snapshots. Publish must not block.
type Notifier interface {
	Publish(p model.Presence)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(model.Presence) {}

type Mirror struct {
	store        storage.PresenceStore
	ttl          time.Duration
	writeTimeout time.Duration
	queue        chan model.Presence

	// owned by Run
	live map[string]model.Presence
}

func NewMirror(store storage.PresenceStore, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Mirror{
		store:        store,
		ttl:          ttl,
		writeTimeout: 5 * time.Second,
		queue:        make(chan model.Presence, queueSize),
		live:         make(map[string]model.Presence),
	}
}

// Publish enqueues p, dropping it when the queue is full.
func (m *Mirror) Publish(p model.Presence) {
	select {
	case m.queue <- p:
	default:
		logger.Errorf("presence: queue full, dropping update user=%s", p.UserID)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
// Between updates it refreshes the TTL of every live entry.
func (m *Mirror) Run(ctx context.Context) error {
	heartbeat := time.NewTicker(max(m.ttl/2, time.Millisecond))
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			m.flush()
			return nil
		case p := <-m.queue:
			m.write(context.Background(), p)
		case <-heartbeat.C:
			m.refresh()
		}
	}
}

func (m *Mirror) refresh() {
	for _, p := range m.live {
		m.write(context.Background(), p)
	}
}

func (m *Mirror) flush() {
	for {
		select {
		case p := <-m.queue:
			m.write(context.Background(), p)
		default:
			return
		}
	}
}

func (m *Mirror) write(parent context.Context, p model.Presence) {
	if p.Status == model.StatusOffline {
		delete(m.live, p.UserID)
	} else {
		m.live[p.UserID] = p
	}

	ctx, cancel := context.WithTimeout(parent, m.writeTimeout)
	defer cancel()
	if err := m.store.SetPresence(ctx, p, m.ttl); err != nil {
		logger.Errorf("presence: write user=%s: %v", p.UserID, err)
	}
}

// Online lists the mirrored online users.
func (m *Mirror) Online(ctx context.Context) ([]model.Presence, error) {
	return m.store.ListOnline(ctx)
}
