package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/storage/memory"
	redisstorage "github.com/chatrelay/internal/storage/redis"
)

// ConnectRedisWithRetry connects with exponential backoff until maxWait
// elapses or ctx is cancelled.
func ConnectRedisWithRetry(ctx context.Context, redisURL string, maxWait time.Duration) (*redisstorage.Client, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstorage.New(attemptCtx, redisURL)
		cancel()
		if err == nil {
			return client, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("redis (gave up after %v): %w", maxWait, err)
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// PresenceStore picks redis when a URL is configured and memory otherwise.
func PresenceStore(ctx context.Context, redisURL string, maxWait time.Duration) (storage.PresenceStore, error) {
	if redisURL == "" {
		logger.Info("presence: redis_url empty, using in-memory store")
		return memory.New(), nil
	}
	client, err := ConnectRedisWithRetry(ctx, redisURL, maxWait)
	if err != nil {
		return nil, err
	}
	logger.Info("presence: redis connected")
	return client, nil
}
