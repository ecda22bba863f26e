// Package identity maps logical users to at most one live connection and
// tracks their presence. It does no fan-out: callers inspect the returned
// snapshots and decide what to broadcast.
package identity

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/internal/errs"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/validate"
)

type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*model.User
	byName map[string]*model.User
	byConn map[string]*model.User
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*model.User),
		byName: make(map[string]*model.User),
		byConn: make(map[string]*model.User),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate resolves displayName to an identity, creating it on first use,
// marks it online and binds it to connID. A connection previously bound to the
// identity is unbound and returned as evicted (last connection wins).
func (r *Registry) Authenticate(displayName, email, connID string) (user model.User, evicted string, err error) {
	if err := validate.DisplayName(displayName); err != nil {
		return model.User{}, "", err
	}
	if err := validate.Email(email); err != nil {
		return model.User{}, "", err
	}
	if connID == "" {
		return model.User{}, "", errs.Validation("connection id required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	u, ok := r.byName[displayName]
	if !ok {
		u = &model.User{
			ID:          uuid.New().String(),
			DisplayName: displayName,
			Email:       email,
			Status:      model.StatusOffline,
			LastSeen:    now,
			JoinedAt:    now,
		}
		r.byID[u.ID] = u
		r.byName[u.DisplayName] = u
	}
	evicted = r.attachLocked(u, connID, now)
	u.Status = model.StatusOnline
	u.LastSeen = now
	return *u, evicted, nil
}

// AttachConnection binds connID to an existing identity.
func (r *Registry) AttachConnection(userID, connID string) (evicted string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return "", errs.NotFound("User")
	}
	return r.attachLocked(u, connID, r.now()), nil
}

func (r *Registry) attachLocked(u *model.User, connID string, now time.Time) string {
	prev := u.ConnectionID
	if prev == connID {
		return ""
	}
	if prev != "" {
		delete(r.byConn, prev)
	}
	// The connection may still be bound to another identity; unbind it first.
	if other, ok := r.byConn[connID]; ok && other != u {
		other.ConnectionID = ""
		other.Status = model.StatusOffline
		other.LastSeen = now
	}
	u.ConnectionID = connID
	r.byConn[connID] = u
	return prev
}

// DetachConnection unbinds connID and forces its identity offline. It reports
// false when nothing is bound to connID, so repeated calls are harmless.
func (r *Registry) DetachConnection(connID string) (model.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byConn[connID]
	if !ok {
		return model.User{}, false
	}
	delete(r.byConn, connID)
	u.ConnectionID = ""
	u.Status = model.StatusOffline
	u.LastSeen = r.now()
	return *u, true
}

func (r *Registry) SetStatus(userID string, status model.PresenceStatus) (model.User, error) {
	if err := validate.Status(status); err != nil {
		return model.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return model.User{}, errs.NotFound("User")
	}
	u.Status = status
	u.LastSeen = r.now()
	return *u, nil
}

// SetCurrentRoom records the live room cursor; an empty roomID clears it.
func (r *Registry) SetCurrentRoom(userID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return errs.NotFound("User")
	}
	u.CurrentRoom = roomID
	return nil
}

func (r *Registry) SetTypingRoom(userID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return errs.NotFound("User")
	}
	u.TypingRoom = roomID
	return nil
}

func (r *Registry) LookupByConnection(connID string) (model.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byConn[connID]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

func (r *Registry) LookupByID(userID string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[userID]
	if !ok {
		return model.User{}, errs.NotFound("User")
	}
	return *u, nil
}

func (r *Registry) LookupByName(displayName string) (model.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byName[displayName]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

// ListOnline returns every identity that currently holds a live connection,
// ordered by display name.
func (r *Registry) ListOnline() []model.User {
	r.mu.RLock()
	out := make([]model.User, 0, len(r.byConn))
	for _, u := range r.byConn {
		out = append(out, *u)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
