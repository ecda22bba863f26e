// Package room holds the room catalog, membership sets and the per-room
// typing state. Typing entries carry the time of the last signal; an entry
// older than the staleness window is expired even before anything purges it.
package room

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/internal/errs"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/validate"
)

const DefaultStaleAfter = 5 * time.Second

// DefaultRooms are the system-owned rooms present at startup.
func DefaultRooms() []model.RoomSpec {
	return []model.RoomSpec{
		{ID: "general", Name: "General", Description: "General discussion room", Icon: "💬", OwnerID: model.SystemOwner},
		{ID: "random", Name: "Random", Description: "Random conversations", Icon: "🎲", OwnerID: model.SystemOwner},
		{ID: "tech", Name: "Tech Talk", Description: "Technology discussions", Icon: "💻", OwnerID: model.SystemOwner},
	}
}

// TypingEntry is one (room, user) typing signal.
type TypingEntry struct {
	RoomID string
	UserID string
	At     time.Time
}

type roomState struct {
	room    model.Room
	members map[string]struct{}
	typing  map[string]time.Time
}

type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*roomState
	order      []string
	staleAfter time.Duration
	now        func() time.Time
}

func NewRegistry(staleAfter time.Duration) *Registry {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Registry{
		rooms:      make(map[string]*roomState),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Bootstrap creates the given rooms, typically DefaultRooms.
func (r *Registry) Bootstrap(specs []model.RoomSpec) error {
	for _, spec := range specs {
		if _, err := r.Create(spec); err != nil {
			return err
		}
	}
	return nil
}

// Create validates spec and registers a new, globally visible room.
func (r *Registry) Create(spec model.RoomSpec) (model.Room, error) {
	if err := validate.RoomName(spec.Name); err != nil {
		return model.Room{}, err
	}
	if err := validate.Description(spec.Description); err != nil {
		return model.Room{}, err
	}
	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	}
	icon := spec.Icon
	if icon == "" {
		icon = model.DefaultRoomIcon
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[id]; exists {
		return model.Room{}, errs.Validationf("Room %q already exists", id)
	}
	st := &roomState{
		room: model.Room{
			ID:          id,
			Name:        spec.Name,
			Description: spec.Description,
			Icon:        icon,
			IsPrivate:   spec.IsPrivate,
			OwnerID:     spec.OwnerID,
			CreatedAt:   r.now().UTC(),
		},
		members: make(map[string]struct{}),
		typing:  make(map[string]time.Time),
	}
	r.rooms[id] = st
	r.order = append(r.order, id)
	return r.snapshotLocked(st, r.now()), nil
}

func (r *Registry) Get(roomID string) (model.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.rooms[roomID]
	if !ok {
		return model.Room{}, errs.NotFound("Room")
	}
	return r.snapshotLocked(st, r.now()), nil
}

func (r *Registry) Exists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

func (r *Registry) ByName(name string) (model.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if st := r.rooms[id]; st.room.Name == name {
			return r.snapshotLocked(st, r.now()), true
		}
	}
	return model.Room{}, false
}

// List returns all rooms in creation order.
func (r *Registry) List() []model.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	out := make([]model.Room, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.snapshotLocked(r.rooms[id], now))
	}
	return out
}

func (r *Registry) Delete(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[roomID]; !ok {
		return false
	}
	delete(r.rooms, roomID)
	for i, id := range r.order {
		if id == roomID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Join(roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[roomID]
	if !ok {
		return errs.NotFound("Room")
	}
	st.members[userID] = struct{}{}
	return nil
}

// Leave removes userID from the membership set and purges its typing entry.
func (r *Registry) Leave(roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[roomID]
	if !ok {
		return errs.NotFound("Room")
	}
	delete(st.members, userID)
	delete(st.typing, userID)
	return nil
}

func (r *Registry) IsMember(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = st.members[userID]
	return ok
}

// RoomsOf returns every room whose membership set contains userID.
func (r *Registry) RoomsOf(userID string) []model.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	var out []model.Room
	for _, id := range r.order {
		st := r.rooms[id]
		if _, ok := st.members[userID]; ok {
			out = append(out, r.snapshotLocked(st, now))
		}
	}
	return out
}

// SetTyping records or refreshes the typing timestamp of userID in roomID.
func (r *Registry) SetTyping(roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[roomID]
	if !ok {
		return errs.NotFound("Room")
	}
	st.typing[userID] = r.now()
	return nil
}

// ClearTyping reports whether an entry was present.
func (r *Registry) ClearTyping(roomID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[roomID]
	if !ok {
		return false, errs.NotFound("Room")
	}
	_, had := st.typing[userID]
	delete(st.typing, userID)
	return had, nil
}

// ActiveTypers returns the users whose typing entry is younger than the
// staleness window at now. It never mutates state.
func (r *Registry) ActiveTypers(roomID string, now time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.rooms[roomID]
	if !ok {
		return nil, errs.NotFound("Room")
	}
	return r.activeLocked(st, now), nil
}

// StaleTypers lists, across all rooms, the typing entries whose age at now is
// at least the staleness window.
func (r *Registry) StaleTypers(now time.Time) []TypingEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TypingEntry
	for _, id := range r.order {
		for uid, at := range r.rooms[id].typing {
			if now.Sub(at) >= r.staleAfter {
				out = append(out, TypingEntry{RoomID: id, UserID: uid, At: at})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (r *Registry) activeLocked(st *roomState, now time.Time) []string {
	out := make([]string, 0, len(st.typing))
	for uid, at := range st.typing {
		if now.Sub(at) < r.staleAfter {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) snapshotLocked(st *roomState, now time.Time) model.Room {
	out := st.room
	out.Participants = make([]string, 0, len(st.members))
	for uid := range st.members {
		out.Participants = append(out.Participants, uid)
	}
	sort.Strings(out.Participants)
	out.ActiveTypers = r.activeLocked(st, now)
	return out
}
