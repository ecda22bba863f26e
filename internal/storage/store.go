package storage

import (
	"context"
	"time"

	"github.com/chatrelay/internal/model"
)

// PresenceStore keeps a copy of who is online and throttles connection
// attempts. Implementations: redis.Client, memory.Client (no redis configured).
type PresenceStore interface {
	SetPresence(ctx context.Context, p model.Presence, ttl time.Duration) error
	GetPresence(ctx context.Context, userID string) (model.Presence, bool, error)
	ListOnline(ctx context.Context) ([]model.Presence, error)
	CheckRateLimit(ctx context.Context, key string, max int, window time.Duration) (allowed bool, err error)
	Close() error
}
