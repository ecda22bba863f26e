package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/errs"
	"github.com/chatrelay/internal/model"
)

func TestAuthenticateIsIdempotentPerName(t *testing.T) {
	r := NewRegistry()

	first, evicted, err := r.Authenticate("alice", "", "c1")
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, model.StatusOnline, first.Status)
	assert.Equal(t, "c1", first.ConnectionID)

	second, evicted, err := r.Authenticate("alice", "", "c2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "c1", evicted)
	assert.Equal(t, 1, r.Count())

	_, ok := r.LookupByConnection("c1")
	assert.False(t, ok, "old connection must be orphaned")
	u, ok := r.LookupByConnection("c2")
	require.True(t, ok)
	assert.Equal(t, first.ID, u.ID)
}

func TestAuthenticateValidation(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name, displayName, email string
	}{
		{"short name", "a", ""},
		{"bad chars", "al ice", ""},
		{"bad email", "alice", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Authenticate(tt.displayName, tt.email, "c1")
			assert.True(t, errors.Is(err, errs.ErrValidation))
		})
	}
	assert.Equal(t, 0, r.Count())
}

func TestDetachConnectionIsIdempotent(t *testing.T) {
	r := NewRegistry()
	u, _, err := r.Authenticate("bob", "bob@example.com", "c1")
	require.NoError(t, err)

	detached, ok := r.DetachConnection("c1")
	require.True(t, ok)
	assert.Equal(t, u.ID, detached.ID)
	assert.Equal(t, model.StatusOffline, detached.Status)
	assert.Empty(t, detached.ConnectionID)

	_, ok = r.DetachConnection("c1")
	assert.False(t, ok)

	still, err := r.LookupByID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", still.DisplayName)
	assert.Empty(t, r.ListOnline())
}

func TestDetachOrphanedConnectionKeepsNewSession(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Authenticate("carol", "", "old")
	require.NoError(t, err)
	_, _, err = r.Authenticate("carol", "", "new")
	require.NoError(t, err)

	_, ok := r.DetachConnection("old")
	assert.False(t, ok)
	u, ok := r.LookupByConnection("new")
	require.True(t, ok)
	assert.Equal(t, model.StatusOnline, u.Status)
}

func TestConnectionRebindUnbindsPreviousIdentity(t *testing.T) {
	r := NewRegistry()
	alice, _, err := r.Authenticate("alice", "", "c1")
	require.NoError(t, err)
	_, _, err = r.Authenticate("bob", "", "c1")
	require.NoError(t, err)

	a, err := r.LookupByID(alice.ID)
	require.NoError(t, err)
	assert.Empty(t, a.ConnectionID)
	assert.Equal(t, model.StatusOffline, a.Status)
	u, ok := r.LookupByConnection("c1")
	require.True(t, ok)
	assert.Equal(t, "bob", u.DisplayName)
}

func TestSetStatusAndRoomCursor(t *testing.T) {
	r := NewRegistry()
	u, _, err := r.Authenticate("dave", "", "c1")
	require.NoError(t, err)

	updated, err := r.SetStatus(u.ID, model.StatusAway)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAway, updated.Status)

	_, err = r.SetStatus(u.ID, "gone")
	assert.True(t, errors.Is(err, errs.ErrValidation))
	_, err = r.SetStatus("missing", model.StatusBusy)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	require.NoError(t, r.SetCurrentRoom(u.ID, "general"))
	require.NoError(t, r.SetTypingRoom(u.ID, "general"))
	got, err := r.LookupByID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "general", got.CurrentRoom)
	assert.Equal(t, "general", got.TypingRoom)
}

func TestListOnlineSorted(t *testing.T) {
	r := NewRegistry()
	for i, name := range []string{"zed", "amy", "kim"} {
		_, _, err := r.Authenticate(name, "", string(rune('a'+i)))
		require.NoError(t, err)
	}
	online := r.ListOnline()
	require.Len(t, online, 3)
	assert.Equal(t, "amy", online[0].DisplayName)
	assert.Equal(t, "zed", online[2].DisplayName)
}

func TestAttachConnection(t *testing.T) {
	r := NewRegistry()
	u, _, err := r.Authenticate("erin", "", "c1")
	require.NoError(t, err)

	evicted, err := r.AttachConnection(u.ID, "c2")
	require.NoError(t, err)
	assert.Equal(t, "c1", evicted)

	_, err = r.AttachConnection("missing", "c3")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}
