package ws

import (
	"time"

	"github.com/chatrelay/internal/model"
)

type EventType string

// Inbound events.
const (
	EventLogin            EventType = "user:login"
	EventRoomJoin         EventType = "room:join"
	EventRoomLeave        EventType = "room:leave"
	EventRoomCreate       EventType = "room:create"
	EventRoomsList        EventType = "rooms:list"
	EventUsersOnline      EventType = "users:online"
	EventMessageSend      EventType = "message:send"
	EventMessageEdit      EventType = "message:edit"
	EventMessageReact     EventType = "message:react"
	EventMessageUnreact   EventType = "message:unreact"
	EventMessageRead      EventType = "message:read"
	EventMessagesSearch   EventType = "messages:search"
	EventMessagesPrivate  EventType = "messages:private"
	EventConversationsGet EventType = "conversations:get"
	EventTypingStart      EventType = "typing:start"
	EventTypingStop       EventType = "typing:stop"
	EventUserStatus       EventType = "user:status"
)

// Outbound events. rooms:list, users:online and the typing events are
// used in both directions.
const (
	EventUserOnline      EventType = "user:online"
	EventUserOffline     EventType = "user:offline"
	EventStatusChange    EventType = "user:status_change"
	EventMessagesHistory EventType = "messages:history"
	EventRoomJoined      EventType = "room:joined"
	EventRoomUserJoined  EventType = "room:user_joined"
	EventRoomUserLeft    EventType = "room:user_left"
	EventRoomCreated     EventType = "room:created"
	EventMessageNew      EventType = "message:new"
	EventMessagePrivate  EventType = "message:private"
	EventMessageEdited   EventType = "message:edited"
	EventMessageReaction EventType = "message:reaction"
	EventReadReceipt     EventType = "message:read_receipt"
	EventTypingCleanup   EventType = "typing:cleanup"
	EventAck             EventType = "ack"
	EventError           EventType = "error"
)

// expectsAck lists the request/response events. Everything else is
// fire-and-forget and reports failures with an error event.
var expectsAck = map[EventType]bool{
	EventLogin:            true,
	EventRoomJoin:         true,
	EventRoomLeave:        true,
	EventRoomCreate:       true,
	EventRoomsList:        true,
	EventUsersOnline:      true,
	EventMessageSend:      true,
	EventMessageEdit:      true,
	EventMessageReact:     true,
	EventMessageUnreact:   true,
	EventMessagesSearch:   true,
	EventMessagesPrivate:  true,
	EventConversationsGet: true,
}

// IncomingMessage is what the client sends. Fields are flat; each event
// reads the ones it needs.
type IncomingMessage struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`

	// login
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`

	// rooms
	RoomID      string `json:"room_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	IsPrivate   bool   `json:"is_private,omitempty"`

	// messages
	Content     string            `json:"content,omitempty"`
	Kind        model.MessageKind `json:"kind,omitempty"`
	RecipientID string            `json:"recipient_id,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Attachment  *model.Attachment `json:"attachment,omitempty"`
	MessageID   string            `json:"message_id,omitempty"`
	Emoji       string            `json:"emoji,omitempty"`

	// search and paging
	Query       string `json:"query,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	OtherUserID string `json:"other_user_id,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`

	Status model.PresenceStatus `json:"status,omitempty"`
}

// OutgoingMessage is what the server sends. Payload uses typed structs.
type OutgoingMessage struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Payload   any       `json:"payload"`
}

// --- Acks: {success: true, ...data} ---

type Ack struct {
	Success bool `json:"success"`
}

var ackOK = Ack{Success: true}

type UserAck struct {
	Ack
	User model.User `json:"user"`
}

type RoomAck struct {
	Ack
	Room model.Room `json:"room"`
}

type RoomsAck struct {
	Ack
	Rooms []model.Room `json:"rooms"`
}

type UsersAck struct {
	Ack
	Users []model.UserPublic `json:"users"`
}

type MessageAck struct {
	Ack
	Message model.Message `json:"message"`
}

type MessagesAck struct {
	Ack
	Messages []model.Message `json:"messages"`
}

type ConversationsAck struct {
	Ack
	Conversations []model.ConversationSummary `json:"conversations"`
}

// ErrorPayload is the ack of a failed request, or the payload of an error
// event when Event is set.
type ErrorPayload struct {
	Error string    `json:"error"`
	Event EventType `json:"event,omitempty"`
}

// --- Broadcast payloads ---

// PresencePayload is sent with user:online, user:offline and user:status_change.
type PresencePayload struct {
	UserID      string               `json:"user_id"`
	DisplayName string               `json:"display_name"`
	Status      model.PresenceStatus `json:"status"`
	LastSeen    time.Time            `json:"last_seen"`
}

type HistoryPayload struct {
	RoomID   string          `json:"room_id"`
	Messages []model.Message `json:"messages"`
}

// RoomMemberPayload is sent with room:user_joined and room:user_left.
type RoomMemberPayload struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type TypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type TypingCleanupPayload struct {
	RoomID  string   `json:"room_id"`
	UserIDs []string `json:"user_ids"`
}

type ReactionPayload struct {
	MessageID string              `json:"message_id"`
	RoomID    string              `json:"room_id,omitempty"`
	UserID    string              `json:"user_id"`
	Emoji     string              `json:"emoji"`
	Reactions map[string][]string `json:"reactions"`
}

type ReadReceiptPayload struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}
