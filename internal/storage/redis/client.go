package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatrelay/internal/model"
)

const (
	presencePrefix = "presence:"
	onlineSetKey   = "presence:online"
	// PresenceChannel receives a JSON model.Presence on every change.
	PresenceChannel = "presence"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// SetPresence writes the presence:{userID} hash with ttl, keeps the
// presence:online set in step and publishes the snapshot.
func (c *Client) SetPresence(ctx context.Context, p model.Presence, ttl time.Duration) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("presence marshal: %w", err)
	}
	key := presencePrefix + p.UserID
	_, err = c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", p.UserID,
			"display_name", p.DisplayName,
			"status", string(p.Status),
			"room_id", p.RoomID,
			"last_seen", p.LastSeen.UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, ttl)
		if p.Status == model.StatusOffline {
			pipe.SRem(ctx, onlineSetKey, p.UserID)
		} else {
			pipe.SAdd(ctx, onlineSetKey, p.UserID)
		}
		pipe.Publish(ctx, PresenceChannel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence set %s: %w", p.UserID, err)
	}
	return nil
}

func (c *Client) GetPresence(ctx context.Context, userID string) (model.Presence, bool, error) {
	vals, err := c.cli.HGetAll(ctx, presencePrefix+userID).Result()
	if err != nil {
		return model.Presence{}, false, err
	}
	if len(vals) == 0 {
		return model.Presence{}, false, nil
	}
	return fromHash(vals), true, nil
}

// ListOnline reads the online set; members whose hash expired are pruned.
func (c *Client) ListOnline(ctx context.Context) ([]model.Presence, error) {
	ids, err := c.cli.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, err
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.cli.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, presencePrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.Presence, 0, len(ids))
	var expired []any
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			expired = append(expired, ids[i])
			continue
		}
		out = append(out, fromHash(vals))
	}
	if len(expired) > 0 {
		c.cli.SRem(ctx, onlineSetKey, expired...)
	}
	return out, nil
}

// CheckRateLimit counts hits on ratelimit:{key}; the window starts with the
// first hit. INCR and EXPIRE NX go out in one transaction, so a counter can
// never be left without a TTL (EXPIRE NX needs Redis 7).
func (c *Client) CheckRateLimit(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	k := "ratelimit:" + key
	var incr *redis.IntCmd
	_, err := c.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(max), nil
}

func fromHash(vals map[string]string) model.Presence {
	p := model.Presence{
		UserID:      vals["user_id"],
		DisplayName: vals["display_name"],
		Status:      model.PresenceStatus(vals["status"]),
		RoomID:      vals["room_id"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["last_seen"]); err == nil {
		p.LastSeen = ts
	}
	return p
}
