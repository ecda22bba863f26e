package model

import "time"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindSystem:
		return true
	}
	return false
}

// Attachment is the optional file payload of image and file messages.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message targets exactly one of RoomID and RecipientID.
type Message struct {
	ID          string              `json:"id"`
	SenderID    string              `json:"sender_id"`
	SenderName  string              `json:"sender_name"`
	Content     string              `json:"content"`
	Kind        MessageKind         `json:"kind"`
	RoomID      string              `json:"room_id,omitempty"`
	RecipientID string              `json:"recipient_id,omitempty"`
	IsPrivate   bool                `json:"is_private"`
	CreatedAt   time.Time           `json:"created_at"`
	Edited      bool                `json:"edited"`
	EditedAt    *time.Time          `json:"edited_at,omitempty"`
	Reactions   map[string][]string `json:"reactions"`
	ReadBy      []string            `json:"read_by"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Attachment  *Attachment         `json:"attachment,omitempty"`

	// Seq orders messages appended within the same clock tick.
	Seq uint64 `json:"-"`
}

// MessageSpec is the input for appending a message to the ledger.
type MessageSpec struct {
	SenderID    string
	SenderName  string
	Content     string
	Kind        MessageKind
	RoomID      string
	RecipientID string
	ReplyTo     string
	Attachment  *Attachment
}

// Clone returns a deep copy safe to hand out of the ledger.
func (m *Message) Clone() Message {
	c := *m
	c.Reactions = make(map[string][]string, len(m.Reactions))
	for emoji, users := range m.Reactions {
		c.Reactions[emoji] = append([]string(nil), users...)
	}
	c.ReadBy = append([]string{}, m.ReadBy...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	return c
}

// ConversationSummary describes one private conversation from the point of
// view of one participant.
type ConversationSummary struct {
	ConversationID string  `json:"conversation_id"`
	OtherUserID    string  `json:"other_user_id"`
	LastMessage    Message `json:"last_message"`
	UnreadCount    int     `json:"unread_count"`
}
