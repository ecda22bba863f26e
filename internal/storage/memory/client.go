package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatrelay/internal/model"
)

type item struct {
	val model.Presence
	exp time.Time
}

// pruneEvery bounds how often CheckRateLimit scans for idle keys.
const pruneEvery = time.Minute

type bucket struct {
	hits   []time.Time
	window time.Duration
}

type Client struct {
	mu        sync.RWMutex
	presence  map[string]item
	limit     map[string]*bucket
	lastPrune time.Time
	now       func() time.Time
}

func New() *Client {
	return &Client{
		presence: make(map[string]item),
		limit:    make(map[string]*bucket),
		now:      time.Now,
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetPresence(ctx context.Context, p model.Presence, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence[p.UserID] = item{val: p, exp: c.now().Add(ttl)}
	return nil
}

func (c *Client) GetPresence(ctx context.Context, userID string) (model.Presence, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.presence[userID]
	if !ok || c.now().After(v.exp) {
		return model.Presence{}, false, nil
	}
	return v.val, true, nil
}

// ListOnline returns unexpired entries whose status is not offline, by name.
func (c *Client) ListOnline(ctx context.Context) ([]model.Presence, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	out := []model.Presence{}
	for _, v := range c.presence {
		if now.After(v.exp) || v.val.Status == model.StatusOffline {
			continue
		}
		out = append(out, v.val)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// CheckRateLimit keeps a sliding window of hit times per key. Keys with no
// hit inside their window are dropped, along with expired presence entries,
// at most once per pruneEvery.
func (c *Client) CheckRateLimit(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.lastPrune) >= pruneEvery {
		c.pruneLocked(now)
		c.lastPrune = now
	}

	b, ok := c.limit[key]
	if !ok {
		b = &bucket{}
		c.limit[key] = b
	}
	b.window = window
	cut := now.Add(-window)
	kept := b.hits[:0]
	for _, t := range b.hits {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	b.hits = kept
	if len(kept) >= max {
		return false, nil
	}
	b.hits = append(b.hits, now)
	return true, nil
}

func (c *Client) pruneLocked(now time.Time) {
	for k, b := range c.limit {
		if len(b.hits) == 0 || !b.hits[len(b.hits)-1].After(now.Add(-b.window)) {
			delete(c.limit, k)
		}
	}
	for id, v := range c.presence {
		if now.After(v.exp) {
			delete(c.presence, id)
		}
	}
}
