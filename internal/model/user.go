package model

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// User is a logical identity keyed by its display name. ConnectionID is the
// live connection bound to it, empty while the user is disconnected.
type User struct {
	ID           string         `json:"id"`
	DisplayName  string         `json:"display_name"`
	Email        string         `json:"email,omitempty"`
	Status       PresenceStatus `json:"status"`
	LastSeen     time.Time      `json:"last_seen"`
	JoinedAt     time.Time      `json:"joined_at"`
	CurrentRoom  string         `json:"current_room,omitempty"`
	TypingRoom   string         `json:"typing_room,omitempty"`
	ConnectionID string         `json:"-"`
}

// UserPublic is what other users see; it omits the email.
type UserPublic struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Status      PresenceStatus `json:"status"`
	LastSeen    time.Time      `json:"last_seen"`
	CurrentRoom string         `json:"current_room,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Status:      u.Status,
		LastSeen:    u.LastSeen,
		CurrentRoom: u.CurrentRoom,
	}
}

func (u *User) Connected() bool {
	return u.ConnectionID != ""
}
