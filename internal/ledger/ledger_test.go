package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/errs"
	"github.com/chatrelay/internal/model"
)

func newTestLedger() *Ledger {
	l := New()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return l
}

func roomMsg(t *testing.T, l *Ledger, room, sender, content string) model.Message {
	t.Helper()
	m, err := l.Append(model.MessageSpec{SenderID: sender, SenderName: sender, Content: content, RoomID: room})
	require.NoError(t, err)
	return m
}

func privateMsg(t *testing.T, l *Ledger, from, to, content string) model.Message {
	t.Helper()
	m, err := l.Append(model.MessageSpec{SenderID: from, SenderName: from, Content: content, RecipientID: to})
	require.NoError(t, err)
	return m
}

func TestAppendTargetRule(t *testing.T) {
	l := newTestLedger()
	tests := []struct {
		name string
		spec model.MessageSpec
		kind error
	}{
		{"neither target", model.MessageSpec{SenderID: "u1", Content: "hi"}, errs.ErrValidation},
		{"both targets", model.MessageSpec{SenderID: "u1", Content: "hi", RoomID: "general", RecipientID: "u2"}, errs.ErrValidation},
		{"blank content", model.MessageSpec{SenderID: "u1", Content: "   ", RoomID: "general"}, errs.ErrValidation},
		{"unknown kind", model.MessageSpec{SenderID: "u1", Content: "hi", RoomID: "general", Kind: "video"}, errs.ErrValidation},
		{"unknown reply", model.MessageSpec{SenderID: "u1", Content: "hi", RoomID: "general", ReplyTo: "missing"}, errs.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(tt.spec)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
	assert.Zero(t, l.Count())

	m := roomMsg(t, l, "general", "u1", "hello")
	assert.Equal(t, model.KindText, m.Kind)
	assert.False(t, m.IsPrivate)
	assert.NotEmpty(t, m.ID)
	assert.NotNil(t, m.Reactions)
	assert.Empty(t, m.ReadBy)
}

func TestByRoomNewestFirst(t *testing.T) {
	l := newTestLedger()
	for i := 0; i < 10; i++ {
		roomMsg(t, l, "general", "u1", fmt.Sprintf("m%d", i))
	}
	latest := roomMsg(t, l, "general", "u1", "latest")
	roomMsg(t, l, "random", "u1", "elsewhere")

	got := l.ByRoom("general", 1, 0)
	require.Len(t, got, 1)
	assert.Equal(t, latest.ID, got[0].ID)

	tests := []struct {
		limit, offset int
		want          []string
	}{
		{3, 0, []string{"latest", "m9", "m8"}},
		{3, 1, []string{"m9", "m8", "m7"}},
		{2, 9, []string{"m1", "m0"}},
		{5, 10, []string{"m0"}},
		{5, 11, nil},
		{0, 0, nil},
		{2, -4, []string{"latest", "m9"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit=%d offset=%d", tt.limit, tt.offset), func(t *testing.T) {
			page := l.ByRoom("general", tt.limit, tt.offset)
			assert.LessOrEqual(t, len(page), max(tt.limit, 0))
			var contents []string
			for _, m := range page {
				contents = append(contents, m.Content)
			}
			assert.Equal(t, tt.want, contents)
		})
	}
	assert.Empty(t, l.ByRoom("nope", 10, 0))
}

func TestConversationSymmetry(t *testing.T) {
	l := newTestLedger()
	ab := privateMsg(t, l, "alice", "bob", "hi bob")
	ba := privateMsg(t, l, "bob", "alice", "hi alice")
	privateMsg(t, l, "alice", "carol", "hi carol")

	assert.Equal(t, ConversationKey("alice", "bob"), ConversationKey("bob", "alice"))
	assert.Equal(t, "alice_bob", ConversationKey("bob", "alice"))

	fromA := l.ByConversation("alice", "bob", 10, 0)
	fromB := l.ByConversation("bob", "alice", 10, 0)
	require.Len(t, fromA, 2)
	assert.Equal(t, fromA, fromB)
	assert.Equal(t, ba.ID, fromA[0].ID)
	assert.Equal(t, ab.ID, fromA[1].ID)
	assert.True(t, fromA[0].IsPrivate)

	convA := l.ConversationsFor("alice")
	require.Len(t, convA, 2)
	assert.Equal(t, "carol", convA[0].OtherUserID, "most recent first")
	assert.Equal(t, "bob", convA[1].OtherUserID)
	assert.Equal(t, 1, convA[1].UnreadCount)

	convB := l.ConversationsFor("bob")
	require.Len(t, convB, 1)
	assert.Equal(t, convA[1].ConversationID, convB[0].ConversationID)
	assert.Equal(t, "alice", convB[0].OtherUserID)
	assert.Equal(t, ba.ID, convB[0].LastMessage.ID)
	assert.Equal(t, 1, convB[0].UnreadCount)

	_, _, err := l.MarkRead(ab.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, l.ConversationsFor("bob")[0].UnreadCount)
	assert.Equal(t, 0, l.UnreadCount("bob", ""))
	assert.Equal(t, 1, l.UnreadCount("alice", ""))
}

func TestReactionRoundTrip(t *testing.T) {
	l := newTestLedger()
	m := roomMsg(t, l, "general", "u1", "react to me")

	_, err := l.AddReaction(m.ID, "👍", "u2")
	require.NoError(t, err)
	_, err = l.AddReaction(m.ID, "👍", "u2")
	require.NoError(t, err)
	_, err = l.AddReaction(m.ID, "🎉", "u3")
	require.NoError(t, err)

	got, err := l.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, got.Reactions["👍"])

	got, err = l.RemoveReaction(m.ID, "👍", "u2")
	require.NoError(t, err)
	_, present := got.Reactions["👍"]
	assert.False(t, present)
	assert.Equal(t, []string{"u3"}, got.Reactions["🎉"])

	_, err = l.AddReaction("missing", "👍", "u2")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	_, err = l.AddReaction(m.ID, "", "u2")
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestMarkReadIdempotent(t *testing.T) {
	l := newTestLedger()
	m := roomMsg(t, l, "general", "u1", "read me")

	_, added, err := l.MarkRead(m.ID, "u2")
	require.NoError(t, err)
	assert.True(t, added)
	got, added, err := l.MarkRead(m.ID, "u2")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"u2"}, got.ReadBy)

	assert.Equal(t, 0, l.UnreadCount("u2", "general"))
	assert.Equal(t, 0, l.UnreadCount("u1", "general"), "own messages are never unread")
	assert.Equal(t, 1, l.UnreadCount("u3", "general"))
}

func TestEdit(t *testing.T) {
	l := newTestLedger()
	m := roomMsg(t, l, "general", "u1", "typo")

	got, err := l.Edit(m.ID, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", got.Content)
	assert.True(t, got.Edited)
	require.NotNil(t, got.EditedAt)
	assert.True(t, got.EditedAt.After(m.CreatedAt))
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.CreatedAt, got.CreatedAt)

	_, err = l.Edit(m.ID, "")
	assert.True(t, errors.Is(err, errs.ErrValidation))
	_, err = l.Edit("missing", "x")
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestSearch(t *testing.T) {
	l := newTestLedger()
	roomMsg(t, l, "general", "alice", "Hello World")
	roomMsg(t, l, "random", "bob", "hello there")
	roomMsg(t, l, "general", "Hellboy", "nothing to see")
	privateMsg(t, l, "alice", "bob", "hello secret")

	all, err := l.Search("HELL", SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4, "sender name matches too")

	inGeneral, err := l.Search("hel", SearchOptions{RoomID: "general"})
	require.NoError(t, err)
	assert.Len(t, inGeneral, 2)

	byBob, err := l.Search("hello", SearchOptions{SenderID: "bob"})
	require.NoError(t, err)
	require.Len(t, byBob, 1)
	assert.Equal(t, "random", byBob[0].RoomID)

	asCarol, err := l.Search("secret", SearchOptions{ViewerID: "carol"})
	require.NoError(t, err)
	assert.Empty(t, asCarol)
	asBob, err := l.Search("secret", SearchOptions{ViewerID: "bob"})
	require.NoError(t, err)
	assert.Len(t, asBob, 1)

	_, err = l.Search("  ", SearchOptions{})
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestDelete(t *testing.T) {
	l := newTestLedger()
	keep := roomMsg(t, l, "general", "u1", "keep")
	drop := roomMsg(t, l, "general", "u1", "drop")
	dm := privateMsg(t, l, "u1", "u2", "private drop")

	assert.True(t, l.Delete(drop.ID))
	assert.False(t, l.Delete(drop.ID))
	assert.True(t, l.Delete(dm.ID))

	page := l.ByRoom("general", 10, 0)
	require.Len(t, page, 1)
	assert.Equal(t, keep.ID, page[0].ID)
	assert.Empty(t, l.ByConversation("u1", "u2", 10, 0))
	assert.Empty(t, l.ConversationsFor("u1"))
	_, err := l.Get(drop.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestReturnedMessagesAreCopies(t *testing.T) {
	l := newTestLedger()
	m := roomMsg(t, l, "general", "u1", "original")
	m.Reactions["x"] = []string{"u9"}
	m.ReadBy = append(m.ReadBy, "u9")

	got, err := l.Get(m.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Reactions)
	assert.Empty(t, got.ReadBy)
}
