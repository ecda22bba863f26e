package model

import "time"

// Presence is the snapshot of a user's state mirrored outside the process.
type Presence struct {
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name"`
	Status      PresenceStatus `json:"status"`
	RoomID      string         `json:"room_id,omitempty"`
	LastSeen    time.Time      `json:"last_seen"`
}

func (u *User) Presence() Presence {
	return Presence{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Status:      u.Status,
		RoomID:      u.CurrentRoom,
		LastSeen:    u.LastSeen,
	}
}
