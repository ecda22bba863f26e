package model

import "time"

// SystemOwner owns the rooms that exist at startup.
const SystemOwner = "system"

const DefaultRoomIcon = "📢"

type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Icon         string    `json:"icon"`
	IsPrivate    bool      `json:"is_private"`
	OwnerID      string    `json:"owner_id"`
	CreatedAt    time.Time `json:"created_at"`
	Participants []string  `json:"participants"`
	ActiveTypers []string  `json:"active_typing_users"`
}

// RoomSpec is the input for creating a room. ID is optional and only set for
// the fixed startup rooms.
type RoomSpec struct {
	ID          string
	Name        string
	Description string
	Icon        string
	IsPrivate   bool
	OwnerID     string
}
