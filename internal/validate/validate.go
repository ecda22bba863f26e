// Package validate checks the shape of client input before any state is
// touched. Every failure is an errs validation error carrying the message the
// client sees.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/chatrelay/internal/errs"
	"github.com/chatrelay/internal/model"
)

const (
	DisplayNameMin    = 2
	DisplayNameMax    = 20
	RoomNameMin       = 2
	RoomNameMax       = 50
	DescriptionMax    = 200
	MessageContentMax = 1000
)

var (
	displayNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	roomNameRe    = regexp.MustCompile(`^[a-zA-Z0-9\s_-]+$`)
	emailRe       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

func DisplayName(name string) error {
	if name == "" {
		return errs.Validation("Username is required")
	}
	if n := len(name); n < DisplayNameMin || n > DisplayNameMax {
		return errs.Validationf("Username must be between %d and %d characters", DisplayNameMin, DisplayNameMax)
	}
	if !displayNameRe.MatchString(name) {
		return errs.Validation("Username can only contain letters, numbers, and underscores")
	}
	return nil
}

// Email accepts the empty string; the address is optional.
func Email(email string) error {
	if email == "" {
		return nil
	}
	if !emailRe.MatchString(email) {
		return errs.Validation("Invalid email format")
	}
	return nil
}

func RoomName(name string) error {
	if name == "" {
		return errs.Validation("Room name is required")
	}
	if n := utf8.RuneCountInString(name); n < RoomNameMin || n > RoomNameMax {
		return errs.Validationf("Room name must be between %d and %d characters", RoomNameMin, RoomNameMax)
	}
	if !roomNameRe.MatchString(name) {
		return errs.Validation("Room name can only contain letters, numbers, spaces, underscores, and hyphens")
	}
	return nil
}

func Description(desc string) error {
	if utf8.RuneCountInString(desc) > DescriptionMax {
		return errs.Validationf("Room description too long (max %d characters)", DescriptionMax)
	}
	return nil
}

func MessageContent(content string) error {
	if content == "" {
		return errs.Validation("Message content is required")
	}
	if utf8.RuneCountInString(content) > MessageContentMax {
		return errs.Validationf("Message too long (max %d characters)", MessageContentMax)
	}
	if strings.TrimSpace(content) == "" {
		return errs.Validation("Message cannot be empty")
	}
	return nil
}

// MessageKind allows the kinds a client may send; system messages are
// produced by the server only.
func MessageKind(kind model.MessageKind) error {
	switch kind {
	case model.KindText, model.KindImage, model.KindFile:
		return nil
	case model.KindSystem:
		return errs.Validation("System messages cannot be sent by clients")
	}
	return errs.Validationf("Unknown message type %q", string(kind))
}

func Status(status model.PresenceStatus) error {
	if !status.Valid() {
		return errs.Validationf("Unknown status %q", string(status))
	}
	return nil
}
