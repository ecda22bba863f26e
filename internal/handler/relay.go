package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/chatrelay/internal/identity"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/room"
)

// OnlineLister is the read side of the presence mirror.
type OnlineLister interface {
	Online(ctx context.Context) ([]model.Presence, error)
}

// RelayHandler serves read-only views of the in-memory registries.
type RelayHandler struct {
	users    *identity.Registry
	rooms    *room.Registry
	presence OnlineLister
	// sf collapses concurrent presence reads into one store round trip.
	sf       singleflight.Group
}

func NewRelayHandler(users *identity.Registry, rooms *room.Registry, presence OnlineLister) *RelayHandler {
	return &RelayHandler{users: users, rooms: rooms, presence: presence}
}

type roomsResponse struct {
	Rooms []model.Room `json:"rooms"`
	Total int          `json:"total"`
}

type usersResponse struct {
	Users []model.UserPublic `json:"users"`
	Total int                `json:"total"`
}

type presenceResponse struct {
	Users []model.Presence `json:"users"`
	Total int              `json:"total"`
}

// ListRooms handles GET /api/rooms. ?limit= and ?offset= page the list in
// creation order.
func (h *RelayHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.rooms.List()
	total := len(rooms)
	offset := queryInt(r, "offset", 0, total)
	limit := queryInt(r, "limit", total, total)
	end := total
	if limit < total-offset {
		end = offset + limit
	}
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: rooms[offset:end], Total: total})
}

// GetRoom handles GET /api/rooms/{roomID}.
func (h *RelayHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := h.rooms.Get(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

// ListOnline handles GET /api/users/online.
func (h *RelayHandler) ListOnline(w http.ResponseWriter, r *http.Request) {
	online := h.users.ListOnline()
	out := make([]model.UserPublic, 0, len(online))
	for i := range online {
		out = append(out, online[i].ToPublic())
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: out, Total: len(out)})
}

// ListPresence handles GET /api/presence: the mirrored view, which may lag
// the registry by the mirror's queue.
func (h *RelayHandler) ListPresence(w http.ResponseWriter, r *http.Request) {
	if h.presence == nil {
		writeError(w, errPresenceDisabled)
		return
	}
	val, err, _ := h.sf.Do("presence", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return h.presence.Online(ctx)
	})
	if err != nil {
		logger.Errorf("presence list: %v", err)
		writeError(w, errPresenceStore)
		return
	}
	list, _ := val.([]model.Presence)
	if list == nil {
		list = []model.Presence{}
	}
	writeJSON(w, http.StatusOK, presenceResponse{Users: list, Total: len(list)})
}

// Health handles GET /health.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
