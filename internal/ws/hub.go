package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/errs"
	"github.com/chatrelay/internal/identity"
	"github.com/chatrelay/internal/ledger"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/room"
	"github.com/chatrelay/internal/schedule"
	"github.com/chatrelay/internal/validate"
)

var errInternal = errors.New("internal error")

// Conn is one live client connection as seen by the hub.
type Conn interface {
	ID() string
	// Send queues msg and reports false when the connection cannot keep up.
	Send(msg OutgoingMessage) bool
	Close()
}

type typingKey struct {
	roomID string
	userID string
}

type connEventKind int

const (
	connRegister connEventKind = iota
	connMessage
	connUnregister
)

// connEvent shares one channel for all connection traffic so that a
// connection's register, messages and unregister are handled in order.
type connEvent struct {
	kind connEventKind
	conn Conn
	msg  IncomingMessage
}

type expiry struct {
	key typingKey
	gen uint64
}

// Hub routes client events. Every event, connection change, countdown
// expiry and sweep tick is handled on the Run goroutine, one at a time, so
// a handler sees and mutates the registries without interleaving.
type Hub struct {
	users    *identity.Registry
	rooms    *room.Registry
	ledger   *ledger.Ledger
	cfg      config.RelayConfig
	presence presence.Notifier
	maxConns int

	// Owned by Run.
	conns    map[string]Conn
	subs     map[string]map[string]struct{}
	connRoom map[string]string

	typing *schedule.Scheduler[typingKey]

	events  chan connEvent
	expired chan expiry
	done    chan struct{}
	now     func() time.Time
}

type Option func(*Hub)

func WithPresence(n presence.Notifier) Option {
	return func(h *Hub) { h.presence = n }
}

func WithMaxConnections(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxConns = n
		}
	}
}

func NewHub(users *identity.Registry, rooms *room.Registry, l *ledger.Ledger, cfg config.RelayConfig, opts ...Option) *Hub {
	h := &Hub{
		users:    users,
		rooms:    rooms,
		ledger:   l,
		cfg:      cfg,
		presence: presence.Nop{},
		maxConns: 10000,
		conns:    make(map[string]Conn),
		subs:     make(map[string]map[string]struct{}),
		connRoom: make(map[string]string),
		typing:   schedule.New[typingKey](),
		events:   make(chan connEvent, 256),
		expired:  make(chan expiry, 64),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	sweep := time.NewTicker(h.cfg.TypingSweep)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case ev := <-h.events:
			switch ev.kind {
			case connRegister:
				h.addConn(ev.conn)
			case connMessage:
				h.handle(ev.conn, ev.msg)
			case connUnregister:
				h.removeConn(ev.conn)
			}
		case e := <-h.expired:
			h.expireTyping(e)
		case <-sweep.C:
			h.sweepTyping()
		}
	}
}

func (h *Hub) Register(c Conn) {
	if !h.post(connEvent{kind: connRegister, conn: c}) {
		c.Close()
	}
}

func (h *Hub) Unregister(c Conn) {
	h.post(connEvent{kind: connUnregister, conn: c})
}

// Dispatch queues msg from c for the Run loop.
func (h *Hub) Dispatch(c Conn, msg IncomingMessage) {
	h.post(connEvent{kind: connMessage, conn: c, msg: msg})
}

func (h *Hub) post(ev connEvent) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) shutdown() {
	h.typing.Stop()
	for id, c := range h.conns {
		c.Close()
		delete(h.conns, id)
	}
	h.subs = make(map[string]map[string]struct{})
	h.connRoom = make(map[string]string)
}

func (h *Hub) addConn(c Conn) {
	if len(h.conns) >= h.maxConns {
		logger.Errorf("ws connection limit reached (%d), rejecting conn=%s", h.maxConns, c.ID())
		c.Send(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: "server is full"}})
		c.Close()
		return
	}
	h.conns[c.ID()] = c
	metrics.IncWSActive()
	logger.Debugf("ws connected conn=%s total=%d", c.ID(), len(h.conns))
}

// removeConn is the transport-level disconnect.
func (h *Hub) removeConn(c Conn) {
	if _, ok := h.conns[c.ID()]; !ok {
		return
	}
	delete(h.conns, c.ID())
	metrics.DecWSActive()

	if user, ok := h.users.LookupByConnection(c.ID()); ok {
		h.detach(c, user)
	} else {
		h.unsubscribe(c.ID())
	}
	c.Close()
	logger.Debugf("ws disconnected conn=%s total=%d", c.ID(), len(h.conns))
}

// detach takes user off connection c: leaves the current room, drops typing
// state, unbinds the identity and announces it offline.
func (h *Hub) detach(c Conn, user model.User) {
	if user.CurrentRoom != "" {
		h.leaveRoom(c, user)
	}
	if user.TypingRoom != "" {
		h.stopTyping(user.TypingRoom, user.ID)
	}
	h.typing.CancelFunc(func(k typingKey) bool { return k.userID == user.ID })
	h.unsubscribe(c.ID())

	offline, ok := h.users.DetachConnection(c.ID())
	if !ok {
		return
	}
	h.broadcastAll(OutgoingMessage{Type: EventUserOffline, Payload: presencePayload(offline)}, c.ID())
	h.presence.Publish(offline.Presence())
	logger.Infof("ws user offline user=%s conn=%s", offline.DisplayName, c.ID())
}

func (h *Hub) handle(c Conn, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws."+string(msg.Type), time.Now())()
	if _, ok := h.conns[c.ID()]; !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("ws panic event=%s conn=%s: %v", msg.Type, c.ID(), r)
			h.fail(c, msg, errInternal)
			metrics.IncWSEvent(string(msg.Type), "panic")
		}
	}()

	var err error
	switch msg.Type {
	case EventLogin:
		err = h.handleLogin(c, msg)
	case EventRoomJoin:
		err = h.handleRoomJoin(c, msg)
	case EventRoomLeave:
		err = h.handleRoomLeave(c, msg)
	case EventRoomCreate:
		err = h.handleRoomCreate(c, msg)
	case EventRoomsList:
		err = h.handleRoomsList(c, msg)
	case EventUsersOnline:
		err = h.handleUsersOnline(c, msg)
	case EventMessageSend:
		err = h.handleMessageSend(c, msg)
	case EventMessageEdit:
		err = h.handleMessageEdit(c, msg)
	case EventMessageReact:
		err = h.handleReaction(c, msg, true)
	case EventMessageUnreact:
		err = h.handleReaction(c, msg, false)
	case EventMessageRead:
		err = h.handleMessageRead(c, msg)
	case EventMessagesSearch:
		err = h.handleSearch(c, msg)
	case EventMessagesPrivate:
		err = h.handlePrivateHistory(c, msg)
	case EventConversationsGet:
		err = h.handleConversations(c, msg)
	case EventTypingStart:
		err = h.handleTypingStart(c, msg)
	case EventTypingStop:
		err = h.handleTypingStop(c, msg)
	case EventUserStatus:
		err = h.handleStatus(c, msg)
	default:
		err = errs.Validationf("Unknown event %q", string(msg.Type))
	}

	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		h.fail(c, msg, err)
	}
	metrics.IncWSEvent(string(msg.Type), outcome)
}

func outcomeOf(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return "internal"
}

// fail reports err to the originating connection only.
func (h *Hub) fail(c Conn, msg IncomingMessage, err error) {
	text := errInternal.Error()
	var e *errs.Error
	if errors.As(err, &e) {
		text = e.Error()
	} else {
		logger.Errorf("ws event=%s conn=%s: %v", msg.Type, c.ID(), err)
	}
	if expectsAck[msg.Type] {
		h.send(c, OutgoingMessage{Type: EventAck, RequestID: msg.RequestID, Payload: ErrorPayload{Error: text}})
		return
	}
	h.send(c, OutgoingMessage{Type: EventError, RequestID: msg.RequestID, Payload: ErrorPayload{Error: text, Event: msg.Type}})
}

func (h *Hub) ack(c Conn, msg IncomingMessage, payload any) {
	h.send(c, OutgoingMessage{Type: EventAck, RequestID: msg.RequestID, Payload: payload})
}

// actor resolves the identity bound to c.
func (h *Hub) actor(c Conn) (model.User, error) {
	u, ok := h.users.LookupByConnection(c.ID())
	if !ok {
		return model.User{}, errs.Unauthenticated()
	}
	return u, nil
}

func (h *Hub) handleLogin(c Conn, msg IncomingMessage) error {
	prev, bound := h.users.LookupByConnection(c.ID())
	if bound && prev.DisplayName != msg.DisplayName {
		// Validate before unbinding the previous identity.
		if err := validateLogin(msg); err != nil {
			return err
		}
		h.detach(c, prev)
	}

	user, evicted, err := h.users.Authenticate(msg.DisplayName, msg.Email, c.ID())
	if err != nil {
		return err
	}
	if evicted != "" && evicted != c.ID() {
		h.unsubscribe(evicted)
		if old, ok := h.conns[evicted]; ok {
			h.send(old, OutgoingMessage{Type: EventError, Payload: ErrorPayload{
				Error: "Signed in from another connection",
				Event: EventLogin,
			}})
		}
		logger.Infof("ws user=%s moved conn=%s -> conn=%s", user.DisplayName, evicted, c.ID())
	}

	if h.rooms.Exists(h.cfg.DefaultRoom) {
		if _, err := h.joinRoom(c, user, h.cfg.DefaultRoom); err != nil {
			logger.Errorf("ws auto-join %s user=%s: %v", h.cfg.DefaultRoom, user.DisplayName, err)
		}
	}
	if user, err = h.users.LookupByID(user.ID); err != nil {
		return err
	}

	h.ack(c, msg, UserAck{Ack: ackOK, User: user})
	h.broadcastAll(OutgoingMessage{Type: EventUserOnline, Payload: presencePayload(user)}, c.ID())
	h.send(c, OutgoingMessage{Type: EventRoomsList, Payload: h.rooms.List()})
	h.send(c, OutgoingMessage{Type: EventUsersOnline, Payload: h.onlineUsers()})
	if user.CurrentRoom == "" {
		// joinRoom publishes otherwise
		h.presence.Publish(user.Presence())
	}
	logger.Infof("ws user online user=%s conn=%s", user.DisplayName, c.ID())
	return nil
}

func (h *Hub) handleRoomJoin(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	if msg.RoomID == "" {
		return errs.Validation("Room ID is required")
	}
	r, err := h.joinRoom(c, user, msg.RoomID)
	if err != nil {
		return err
	}
	h.ack(c, msg, RoomAck{Ack: ackOK, Room: r})
	return nil
}

// joinRoom moves user into roomID: the previous room is left and announced
// first, then membership is recorded, then history and the join events go out.
func (h *Hub) joinRoom(c Conn, user model.User, roomID string) (model.Room, error) {
	if !h.rooms.Exists(roomID) {
		return model.Room{}, errs.NotFound("Room")
	}
	if user.CurrentRoom != "" && user.CurrentRoom != roomID {
		h.leaveRoom(c, user)
	}
	if err := h.rooms.Join(roomID, user.ID); err != nil {
		return model.Room{}, err
	}
	if err := h.users.SetCurrentRoom(user.ID, roomID); err != nil {
		return model.Room{}, err
	}
	h.subscribe(c.ID(), roomID)

	h.send(c, OutgoingMessage{Type: EventMessagesHistory, Payload: HistoryPayload{
		RoomID:   roomID,
		Messages: h.ledger.ByRoom(roomID, h.cfg.HistoryLimit, 0),
	}})
	h.broadcastRoom(roomID, OutgoingMessage{Type: EventRoomUserJoined, Payload: RoomMemberPayload{
		RoomID:      roomID,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	}}, c.ID())

	r, err := h.rooms.Get(roomID)
	if err != nil {
		return model.Room{}, err
	}
	h.send(c, OutgoingMessage{Type: EventRoomJoined, Payload: r})
	h.publishPresence(user.ID)
	return r, nil
}

// leaveRoom takes user out of its current room.
func (h *Hub) leaveRoom(c Conn, user model.User) {
	roomID := user.CurrentRoom
	h.stopTypingAndAnnounce(roomID, user, c.ID())
	if err := h.rooms.Leave(roomID, user.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		logger.Errorf("ws leave room=%s user=%s: %v", roomID, user.ID, err)
	}
	if err := h.users.SetCurrentRoom(user.ID, ""); err != nil {
		logger.Errorf("ws clear current room user=%s: %v", user.ID, err)
	}
	h.unsubscribe(c.ID())
	h.broadcastRoom(roomID, OutgoingMessage{Type: EventRoomUserLeft, Payload: RoomMemberPayload{
		RoomID:      roomID,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	}}, "")
}

func (h *Hub) handleRoomLeave(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	if user.CurrentRoom == "" {
		return errs.Validation("You are not in a room")
	}
	if msg.RoomID != "" && msg.RoomID != user.CurrentRoom {
		return errs.Validation("You are not in that room")
	}
	h.leaveRoom(c, user)
	h.publishPresence(user.ID)
	h.ack(c, msg, ackOK)
	return nil
}

// publishPresence mirrors the registry's current view of userID.
func (h *Hub) publishPresence(userID string) {
	u, err := h.users.LookupByID(userID)
	if err != nil {
		return
	}
	h.presence.Publish(u.Presence())
}

func (h *Hub) handleRoomCreate(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	created, err := h.rooms.Create(model.RoomSpec{
		Name:        msg.Name,
		Description: msg.Description,
		Icon:        msg.Icon,
		IsPrivate:   msg.IsPrivate,
		OwnerID:     user.ID,
	})
	if err != nil {
		return err
	}
	logger.Infof("ws room created room=%s name=%q owner=%s", created.ID, created.Name, user.DisplayName)

	r, err := h.joinRoom(c, user, created.ID)
	if err != nil {
		return err
	}
	h.broadcastAll(OutgoingMessage{Type: EventRoomCreated, Payload: created}, c.ID())
	h.ack(c, msg, RoomAck{Ack: ackOK, Room: r})
	return nil
}

func (h *Hub) handleRoomsList(c Conn, msg IncomingMessage) error {
	if _, err := h.actor(c); err != nil {
		return err
	}
	h.ack(c, msg, RoomsAck{Ack: ackOK, Rooms: h.rooms.List()})
	return nil
}

func (h *Hub) handleUsersOnline(c Conn, msg IncomingMessage) error {
	if _, err := h.actor(c); err != nil {
		return err
	}
	h.ack(c, msg, UsersAck{Ack: ackOK, Users: h.onlineUsers()})
	return nil
}

func (h *Hub) handleMessageSend(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	if msg.RoomID != "" && msg.RecipientID != "" {
		return errs.Validation("Message cannot target both a room and a recipient")
	}
	kind := msg.Kind
	if kind == "" {
		kind = model.KindText
	}
	if err := validateMessage(msg.Content, kind); err != nil {
		return err
	}
	spec := model.MessageSpec{
		SenderID:   user.ID,
		SenderName: user.DisplayName,
		Content:    msg.Content,
		Kind:       kind,
		ReplyTo:    msg.ReplyTo,
		Attachment: msg.Attachment,
	}

	if msg.RecipientID != "" {
		recipient, err := h.users.LookupByID(msg.RecipientID)
		if err != nil {
			return err
		}
		spec.RecipientID = recipient.ID
		m, err := h.ledger.Append(spec)
		if err != nil {
			return err
		}
		out := OutgoingMessage{Type: EventMessagePrivate, Payload: m}
		if recipient.ID != user.ID {
			// Offline recipients get nothing; the message waits in the ledger.
			h.sendToUser(recipient.ID, out)
		}
		h.send(c, out)
		h.ack(c, msg, MessageAck{Ack: ackOK, Message: m})
		return nil
	}

	roomID := msg.RoomID
	if roomID == "" {
		roomID = user.CurrentRoom
	}
	if roomID == "" {
		return errs.Validation("Room ID is required")
	}
	if !h.rooms.Exists(roomID) {
		return errs.NotFound("Room")
	}
	spec.RoomID = roomID
	m, err := h.ledger.Append(spec)
	if err != nil {
		return err
	}
	h.stopTypingAndAnnounce(roomID, user, c.ID())
	h.broadcastRoom(roomID, OutgoingMessage{Type: EventMessageNew, Payload: m}, "")
	h.ack(c, msg, MessageAck{Ack: ackOK, Message: m})
	return nil
}

func (h *Hub) handleMessageEdit(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	m, err := h.visibleMessage(user, msg.MessageID)
	if err != nil {
		return err
	}
	if m.SenderID != user.ID {
		return errs.Validation("You can only edit your own messages")
	}
	edited, err := h.ledger.Edit(m.ID, msg.Content)
	if err != nil {
		return err
	}
	h.deliver(edited, OutgoingMessage{Type: EventMessageEdited, Payload: edited})
	h.ack(c, msg, MessageAck{Ack: ackOK, Message: edited})
	return nil
}

func (h *Hub) handleReaction(c Conn, msg IncomingMessage, add bool) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	m, err := h.visibleMessage(user, msg.MessageID)
	if err != nil {
		return err
	}
	var updated model.Message
	if add {
		updated, err = h.ledger.AddReaction(m.ID, msg.Emoji, user.ID)
	} else {
		updated, err = h.ledger.RemoveReaction(m.ID, msg.Emoji, user.ID)
	}
	if err != nil {
		return err
	}
	h.deliver(updated, OutgoingMessage{Type: EventMessageReaction, Payload: ReactionPayload{
		MessageID: updated.ID,
		RoomID:    updated.RoomID,
		UserID:    user.ID,
		Emoji:     msg.Emoji,
		Reactions: updated.Reactions,
	}})
	h.ack(c, msg, ackOK)
	return nil
}

func (h *Hub) handleMessageRead(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	m, err := h.visibleMessage(user, msg.MessageID)
	if err != nil {
		return err
	}
	_, added, err := h.ledger.MarkRead(m.ID, user.ID)
	if err != nil {
		return err
	}
	if added && m.SenderID != user.ID {
		h.sendToUser(m.SenderID, OutgoingMessage{Type: EventReadReceipt, Payload: ReadReceiptPayload{
			MessageID: m.ID,
			UserID:    user.ID,
			ReadAt:    h.now().UTC(),
		}})
	}
	return nil
}

// visibleMessage looks up a message the user may act on. Private messages
// of other conversations are reported as not found.
func (h *Hub) visibleMessage(user model.User, messageID string) (model.Message, error) {
	if messageID == "" {
		return model.Message{}, errs.Validation("Message ID is required")
	}
	m, err := h.ledger.Get(messageID)
	if err != nil {
		return model.Message{}, err
	}
	if m.IsPrivate && m.SenderID != user.ID && m.RecipientID != user.ID {
		return model.Message{}, errs.NotFound("Message")
	}
	return m, nil
}

func (h *Hub) handleSearch(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	found, err := h.ledger.Search(msg.Query, ledger.SearchOptions{
		RoomID:   msg.RoomID,
		SenderID: msg.UserID,
		ViewerID: user.ID,
	})
	if err != nil {
		return err
	}
	h.ack(c, msg, MessagesAck{Ack: ackOK, Messages: found})
	return nil
}

func (h *Hub) handlePrivateHistory(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	if msg.OtherUserID == "" {
		return errs.Validation("Other user ID is required")
	}
	other, err := h.users.LookupByID(msg.OtherUserID)
	if err != nil {
		return err
	}
	limit := msg.Limit
	if limit <= 0 {
		limit = h.cfg.HistoryLimit
	}
	if limit > h.cfg.MaxPageSize {
		limit = h.cfg.MaxPageSize
	}
	page := h.ledger.ByConversation(user.ID, other.ID, limit, msg.Offset)
	h.ack(c, msg, MessagesAck{Ack: ackOK, Messages: page})
	return nil
}

func (h *Hub) handleConversations(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	h.ack(c, msg, ConversationsAck{Ack: ackOK, Conversations: h.ledger.ConversationsFor(user.ID)})
	return nil
}

func (h *Hub) handleStatus(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	updated, err := h.users.SetStatus(user.ID, msg.Status)
	if err != nil {
		return err
	}
	h.broadcastAll(OutgoingMessage{Type: EventStatusChange, Payload: presencePayload(updated)}, c.ID())
	h.presence.Publish(updated.Presence())
	return nil
}

// deliver sends a message-scoped event to the audience of m: its room, or
// both participants of a private message.
func (h *Hub) deliver(m model.Message, out OutgoingMessage) {
	if !m.IsPrivate {
		h.broadcastRoom(m.RoomID, out, "")
		return
	}
	h.sendToUser(m.SenderID, out)
	if m.RecipientID != m.SenderID {
		h.sendToUser(m.RecipientID, out)
	}
}

func (h *Hub) onlineUsers() []model.UserPublic {
	online := h.users.ListOnline()
	out := make([]model.UserPublic, 0, len(online))
	for i := range online {
		out = append(out, online[i].ToPublic())
	}
	return out
}

func presencePayload(u model.User) PresencePayload {
	return PresencePayload{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Status:      u.Status,
		LastSeen:    u.LastSeen,
	}
}

func validateLogin(msg IncomingMessage) error {
	if err := validate.DisplayName(msg.DisplayName); err != nil {
		return err
	}
	return validate.Email(msg.Email)
}

func validateMessage(content string, kind model.MessageKind) error {
	if err := validate.MessageKind(kind); err != nil {
		return err
	}
	return validate.MessageContent(content)
}

// String is used in log lines.
func (k typingKey) String() string {
	return fmt.Sprintf("%s/%s", k.roomID, k.userID)
}
