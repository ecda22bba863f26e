package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/errs"
	"github.com/chatrelay/internal/identity"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/room"
	"github.com/chatrelay/internal/storage/memory"
)

type failingLister struct{}

func (failingLister) Online(context.Context) ([]model.Presence, error) {
	return nil, errors.New("connection refused")
}

func newRelay(t *testing.T, presence OnlineLister) (*RelayHandler, *identity.Registry) {
	t.Helper()
	users := identity.NewRegistry()
	rooms := room.NewRegistry(room.DefaultStaleAfter)
	require.NoError(t, rooms.Bootstrap(room.DefaultRooms()))
	return NewRelayHandler(users, rooms, presence), users
}

func get(t *testing.T, h http.HandlerFunc, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestListRooms(t *testing.T) {
	h, _ := newRelay(t, nil)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all", "/api/rooms", []string{"general", "random", "tech"}},
		{"limit", "/api/rooms?limit=2", []string{"general", "random"}},
		{"offset", "/api/rooms?offset=1&limit=1", []string{"random"}},
		{"offset past end", "/api/rooms?offset=10", []string{}},
		{"bad limit ignored", "/api/rooms?limit=x", []string{"general", "random", "tech"}},
		{"huge limit", "/api/rooms?offset=1&limit=9223372036854775807", []string{"random", "tech"}},
		{"limit beyond int", "/api/rooms?limit=99999999999999999999", []string{"general", "random", "tech"}},
		{"negative offset", "/api/rooms?offset=-4&limit=1", []string{"general"}},
		{"negative limit", "/api/rooms?limit=-1", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp roomsResponse
			require.Equal(t, http.StatusOK, get(t, h.ListRooms, tt.query, &resp))
			ids := []string{}
			for _, r := range resp.Rooms {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, 3, resp.Total)
		})
	}
}

func TestListOnline(t *testing.T) {
	h, users := newRelay(t, nil)
	_, _, err := users.Authenticate("alice", "alice@example.com", "c1")
	require.NoError(t, err)
	_, _, err = users.Authenticate("bob", "", "c2")
	require.NoError(t, err)
	users.DetachConnection("c2")

	rec := httptest.NewRecorder()
	h.ListOnline(rec, httptest.NewRequest(http.MethodGet, "/api/users/online", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "alice@example.com", "emails stay private")

	var resp usersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 1)
	assert.Equal(t, "alice", resp.Users[0].DisplayName)
	assert.Equal(t, model.StatusOnline, resp.Users[0].Status)
}

func TestListPresence(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h, _ := newRelay(t, nil)
		assert.Equal(t, http.StatusServiceUnavailable, get(t, h.ListPresence, "/api/presence", nil))
	})

	t.Run("store error", func(t *testing.T) {
		h, _ := newRelay(t, failingLister{})
		var resp errorResponse
		assert.Equal(t, http.StatusBadGateway, get(t, h.ListPresence, "/api/presence", &resp))
		assert.Equal(t, "presence store unavailable", resp.Error)
	})

	t.Run("mirrored", func(t *testing.T) {
		store := memory.New()
		require.NoError(t, store.SetPresence(context.Background(), model.Presence{
			UserID: "u1", DisplayName: "alice", Status: model.StatusAway, LastSeen: time.Now(),
		}, time.Minute))
		h, _ := newRelay(t, presence.NewMirror(store, time.Minute))

		var resp presenceResponse
		require.Equal(t, http.StatusOK, get(t, h.ListPresence, "/api/presence", &resp))
		require.Equal(t, 1, resp.Total)
		assert.Equal(t, model.StatusAway, resp.Users[0].Status)
	})
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?a=5&b=x&c=-3&d=500&e=99999999999999999999", nil)
	assert.Equal(t, 5, queryInt(r, "a", 1, 100))
	assert.Equal(t, 1, queryInt(r, "b", 1, 100))
	assert.Equal(t, 0, queryInt(r, "c", 1, 100))
	assert.Equal(t, 100, queryInt(r, "d", 1, 100))
	assert.Equal(t, 100, queryInt(r, "e", 1, 100))
	assert.Equal(t, 7, queryInt(r, "missing", 7, 100))
}

func TestGetRoom(t *testing.T) {
	h, _ := newRelay(t, nil)
	r := chi.NewRouter()
	r.Get("/api/rooms/{roomID}", h.GetRoom)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/tech", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rm model.Room
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rm))
	assert.Equal(t, "tech", rm.ID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Room not found"}`, rec.Body.String())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", errs.Validation("Room name is required"), http.StatusBadRequest, "Room name is required"},
		{"not found", errs.NotFound("User"), http.StatusNotFound, "User not found"},
		{"unauthenticated", errs.Unauthenticated(), http.StatusUnauthorized, "User not authenticated"},
		{"wrapped", fmt.Errorf("lookup: %w", errs.NotFound("Room")), http.StatusNotFound, "Room not found"},
		{"transport", errForbidden, http.StatusForbidden, "forbidden"},
		{"unknown", errors.New("dial tcp: refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.msg, resp.Error)
		})
	}
}
