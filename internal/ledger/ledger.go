// Package ledger keeps every message of the process lifetime: one log per
// room, one log per private conversation, and an id index over both.
// Pages are taken from the newest end of a log and returned newest first.
package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/internal/errs"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/validate"
)

// ConversationKey is the order-independent key of the conversation between a and b.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

type conversation struct {
	a, b string
	msgs []*model.Message
}

func (c *conversation) other(userID string) string {
	if c.a == userID {
		return c.b
	}
	return c.a
}

type Ledger struct {
	mu    sync.RWMutex
	byID  map[string]*model.Message
	all   []*model.Message
	rooms map[string][]*model.Message
	convs map[string]*conversation
	seq   uint64
	now   func() time.Time
}

func New() *Ledger {
	return &Ledger{
		byID:  make(map[string]*model.Message),
		rooms: make(map[string][]*model.Message),
		convs: make(map[string]*conversation),
		now:   time.Now,
	}
}

// Append stores a new message. Exactly one of spec.RoomID and
// spec.RecipientID must be set.
func (l *Ledger) Append(spec model.MessageSpec) (model.Message, error) {
	if (spec.RoomID == "") == (spec.RecipientID == "") {
		return model.Message{}, errs.Validation("Message must target either a room or a recipient")
	}
	if spec.SenderID == "" {
		return model.Message{}, errs.Validation("Message sender is required")
	}
	if err := validate.MessageContent(spec.Content); err != nil {
		return model.Message{}, err
	}
	kind := spec.Kind
	if kind == "" {
		kind = model.KindText
	}
	if !kind.Valid() {
		return model.Message{}, errs.Validationf("Unknown message type %q", string(kind))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if spec.ReplyTo != "" {
		if _, ok := l.byID[spec.ReplyTo]; !ok {
			return model.Message{}, errs.NotFound("Replied message")
		}
	}
	l.seq++
	m := &model.Message{
		ID:          uuid.New().String(),
		SenderID:    spec.SenderID,
		SenderName:  spec.SenderName,
		Content:     spec.Content,
		Kind:        kind,
		RoomID:      spec.RoomID,
		RecipientID: spec.RecipientID,
		IsPrivate:   spec.RecipientID != "",
		CreatedAt:   l.now().UTC(),
		Reactions:   make(map[string][]string),
		ReadBy:      []string{},
		ReplyTo:     spec.ReplyTo,
		Seq:         l.seq,
	}
	if spec.Attachment != nil {
		a := *spec.Attachment
		m.Attachment = &a
	}

	l.byID[m.ID] = m
	l.all = append(l.all, m)
	if m.IsPrivate {
		key := ConversationKey(m.SenderID, m.RecipientID)
		c, ok := l.convs[key]
		if !ok {
			c = &conversation{a: m.SenderID, b: m.RecipientID}
			l.convs[key] = c
		}
		c.msgs = append(c.msgs, m)
	} else {
		l.rooms[m.RoomID] = append(l.rooms[m.RoomID], m)
	}
	return m.Clone(), nil
}

func (l *Ledger) Get(messageID string) (model.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.byID[messageID]
	if !ok {
		return model.Message{}, errs.NotFound("Message")
	}
	return m.Clone(), nil
}

// ByRoom returns at most limit messages of roomID, skipping the offset most
// recent ones.
func (l *Ledger) ByRoom(roomID string, limit, offset int) []model.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return page(l.rooms[roomID], limit, offset)
}

// ByConversation pages the private log between a and b like ByRoom.
func (l *Ledger) ByConversation(a, b string, limit, offset int) []model.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.convs[ConversationKey(a, b)]
	if !ok {
		return []model.Message{}
	}
	return page(c.msgs, limit, offset)
}

func page(log []*model.Message, limit, offset int) []model.Message {
	if offset < 0 {
		offset = 0
	}
	out := []model.Message{}
	if limit <= 0 {
		return out
	}
	for i := len(log) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, log[i].Clone())
	}
	return out
}

// SearchOptions narrows a search. ViewerID, when set, hides private messages
// the viewer is not a participant of.
type SearchOptions struct {
	RoomID   string
	SenderID string
	ViewerID string
}

// Search matches query case-insensitively against content or sender name.
// Results are in append order.
func (l *Ledger) Search(query string, opts SearchOptions) ([]model.Message, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, errs.Validation("Search query is required")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []model.Message{}
	for _, m := range l.all {
		if opts.RoomID != "" && m.RoomID != opts.RoomID {
			continue
		}
		if opts.SenderID != "" && m.SenderID != opts.SenderID {
			continue
		}
		if m.IsPrivate && opts.ViewerID != "" && m.SenderID != opts.ViewerID && m.RecipientID != opts.ViewerID {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content), q) || strings.Contains(strings.ToLower(m.SenderName), q) {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// AddReaction adds userID to the reactor set of emoji.
func (l *Ledger) AddReaction(messageID, emoji, userID string) (model.Message, error) {
	if emoji == "" {
		return model.Message{}, errs.Validation("Emoji is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byID[messageID]
	if !ok {
		return model.Message{}, errs.NotFound("Message")
	}
	if !contains(m.Reactions[emoji], userID) {
		m.Reactions[emoji] = append(m.Reactions[emoji], userID)
	}
	return m.Clone(), nil
}

// RemoveReaction drops userID from emoji; the emoji key goes away with its
// last reactor.
func (l *Ledger) RemoveReaction(messageID, emoji, userID string) (model.Message, error) {
	if emoji == "" {
		return model.Message{}, errs.Validation("Emoji is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byID[messageID]
	if !ok {
		return model.Message{}, errs.NotFound("Message")
	}
	users := remove(m.Reactions[emoji], userID)
	if len(users) == 0 {
		delete(m.Reactions, emoji)
	} else {
		m.Reactions[emoji] = users
	}
	return m.Clone(), nil
}

// MarkRead reports whether userID was newly added to the read-by set.
func (l *Ledger) MarkRead(messageID, userID string) (model.Message, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byID[messageID]
	if !ok {
		return model.Message{}, false, errs.NotFound("Message")
	}
	if contains(m.ReadBy, userID) {
		return m.Clone(), false, nil
	}
	m.ReadBy = append(m.ReadBy, userID)
	return m.Clone(), true, nil
}

func (l *Ledger) Edit(messageID, content string) (model.Message, error) {
	if err := validate.MessageContent(content); err != nil {
		return model.Message{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byID[messageID]
	if !ok {
		return model.Message{}, errs.NotFound("Message")
	}
	at := l.now().UTC()
	m.Content = content
	m.Edited = true
	m.EditedAt = &at
	return m.Clone(), nil
}

// Delete removes a message from every log. Replies keep their reply_to id.
func (l *Ledger) Delete(messageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.byID[messageID]
	if !ok {
		return false
	}
	delete(l.byID, messageID)
	l.all = without(l.all, m)
	if m.IsPrivate {
		if c, ok := l.convs[ConversationKey(m.SenderID, m.RecipientID)]; ok {
			c.msgs = without(c.msgs, m)
		}
	} else {
		l.rooms[m.RoomID] = without(l.rooms[m.RoomID], m)
	}
	return true
}

// ConversationsFor summarizes every private conversation of userID, most
// recently active first.
func (l *Ledger) ConversationsFor(userID string) []model.ConversationSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []model.ConversationSummary{}
	for key, c := range l.convs {
		if (c.a != userID && c.b != userID) || len(c.msgs) == 0 {
			continue
		}
		last := c.msgs[len(c.msgs)-1]
		out = append(out, model.ConversationSummary{
			ConversationID: key,
			OtherUserID:    c.other(userID),
			LastMessage:    last.Clone(),
			UnreadCount:    unread(c.msgs, userID),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Seq > b.Seq
	})
	return out
}

// UnreadCount counts messages userID neither sent nor read, in roomID or,
// when roomID is empty, across the user's private conversations.
func (l *Ledger) UnreadCount(userID, roomID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if roomID != "" {
		return unread(l.rooms[roomID], userID)
	}
	n := 0
	for _, c := range l.convs {
		if c.a == userID || c.b == userID {
			n += unread(c.msgs, userID)
		}
	}
	return n
}

func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

func unread(msgs []*model.Message, userID string) int {
	n := 0
	for _, m := range msgs {
		if m.SenderID != userID && !contains(m.ReadBy, userID) {
			n++
		}
	}
	return n
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func remove(set []string, v string) []string {
	out := set[:0:0]
	for _, s := range set {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func without(log []*model.Message, m *model.Message) []*model.Message {
	for i, x := range log {
		if x == m {
			return append(log[:i:i], log[i+1:]...)
		}
	}
	return log
}
