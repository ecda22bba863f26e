package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
)

func TestFromHash(t *testing.T) {
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := fromHash(map[string]string{
		"user_id":      "u1",
		"display_name": "alice",
		"status":       "away",
		"room_id":      "general",
		"last_seen":    seen.Format(time.RFC3339Nano),
	})
	assert.Equal(t, model.Presence{UserID: "u1", DisplayName: "alice", Status: model.StatusAway, RoomID: "general", LastSeen: seen}, p)

	p = fromHash(map[string]string{"user_id": "u2", "last_seen": "garbage"})
	assert.True(t, p.LastSeen.IsZero())
}

// newTestClient connects to REDIS_TEST_URL and skips when it is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	c, err := New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCheckRateLimitSetsWindow(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	key := "test:" + t.Name() + ":" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { c.cli.Del(ctx, "ratelimit:"+key) })

	for i := 0; i < 2; i++ {
		ok, err := c.CheckRateLimit(ctx, key, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.CheckRateLimit(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := c.cli.TTL(ctx, "ratelimit:"+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestCheckRateLimitRepairsMissingTTL(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	k := "ratelimit:test:" + t.Name() + ":" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { c.cli.Del(ctx, k) })

	// a counter whose first EXPIRE never landed
	require.NoError(t, c.cli.Set(ctx, k, 5, 0).Err())

	_, err := c.CheckRateLimit(ctx, k[len("ratelimit:"):], 2, time.Minute)
	require.NoError(t, err)
	ttl, err := c.cli.TTL(ctx, k).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "the key expires again")
}
