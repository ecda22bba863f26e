package ws

import (
	"errors"
	"sort"

	"github.com/chatrelay/internal/errs"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
)

// Typing state expires two ways. A typing:start arms a countdown that
// stops the signal unless refreshed; the periodic sweep clears any entry
// older than the staleness window that a countdown failed to clear.

func (h *Hub) handleTypingStart(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
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
	if user.TypingRoom != "" && user.TypingRoom != roomID {
		h.stopTypingAndAnnounce(user.TypingRoom, user, c.ID())
	}
	if err := h.rooms.SetTyping(roomID, user.ID); err != nil {
		return err
	}
	if err := h.users.SetTypingRoom(user.ID, roomID); err != nil {
		return err
	}
	h.typing.Schedule(typingKey{roomID: roomID, userID: user.ID}, h.cfg.TypingCountdown, h.onCountdown)
	h.broadcastRoom(roomID, OutgoingMessage{Type: EventTypingStart, Payload: typingPayload(roomID, user)}, c.ID())
	return nil
}

func (h *Hub) handleTypingStop(c Conn, msg IncomingMessage) error {
	user, err := h.actor(c)
	if err != nil {
		return err
	}
	roomID := msg.RoomID
	if roomID == "" {
		roomID = user.TypingRoom
	}
	if roomID == "" {
		roomID = user.CurrentRoom
	}
	if roomID == "" {
		return errs.Validation("Room ID is required")
	}
	if !h.rooms.Exists(roomID) {
		return errs.NotFound("Room")
	}
	h.stopTyping(roomID, user.ID)
	h.broadcastRoom(roomID, OutgoingMessage{Type: EventTypingStop, Payload: typingPayload(roomID, user)}, c.ID())
	return nil
}

// onCountdown runs on a timer goroutine and only hands the expiry to Run.
func (h *Hub) onCountdown(key typingKey, gen uint64) {
	select {
	case h.expired <- expiry{key: key, gen: gen}:
	case <-h.done:
	}
}

func (h *Hub) expireTyping(e expiry) {
	if !h.typing.Complete(e.key, e.gen) {
		logger.Debugf("ws typing countdown superseded key=%s", e.key)
		return
	}
	h.clearTyping(e.key.roomID, e.key.userID)
	user, err := h.users.LookupByID(e.key.userID)
	if err != nil {
		return
	}
	h.broadcastRoom(e.key.roomID, OutgoingMessage{Type: EventTypingStop, Payload: typingPayload(e.key.roomID, user)}, user.ConnectionID)
	metrics.IncTypingExpired("countdown", 1)
	logger.Debugf("ws typing countdown fired key=%s", e.key)
}

func (h *Hub) sweepTyping() {
	stale := h.rooms.StaleTypers(h.now())
	if len(stale) == 0 {
		return
	}
	cleared := make(map[string][]string)
	for _, entry := range stale {
		h.typing.Cancel(typingKey{roomID: entry.RoomID, userID: entry.UserID})
		h.clearTyping(entry.RoomID, entry.UserID)
		cleared[entry.RoomID] = append(cleared[entry.RoomID], entry.UserID)
	}
	roomIDs := make([]string, 0, len(cleared))
	for roomID := range cleared {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Strings(roomIDs)
	for _, roomID := range roomIDs {
		h.broadcastRoom(roomID, OutgoingMessage{Type: EventTypingCleanup, Payload: TypingCleanupPayload{
			RoomID:  roomID,
			UserIDs: cleared[roomID],
		}}, "")
	}
	metrics.IncTypingExpired("sweep", len(stale))
	logger.Infof("ws typing sweep cleared %d stale entries", len(stale))
}

// stopTyping cancels the countdown and clears the entry. It reports whether
// there was anything to stop.
func (h *Hub) stopTyping(roomID, userID string) bool {
	cancelled := h.typing.Cancel(typingKey{roomID: roomID, userID: userID})
	had := h.clearTyping(roomID, userID)
	return cancelled || had
}

// stopTypingAndAnnounce tells the room, except exclude, when a signal was stopped.
func (h *Hub) stopTypingAndAnnounce(roomID string, user model.User, exclude string) {
	if h.stopTyping(roomID, user.ID) {
		h.broadcastRoom(roomID, OutgoingMessage{Type: EventTypingStop, Payload: typingPayload(roomID, user)}, exclude)
	}
}

func (h *Hub) clearTyping(roomID, userID string) bool {
	had, err := h.rooms.ClearTyping(roomID, userID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		logger.Errorf("ws clear typing room=%s user=%s: %v", roomID, userID, err)
	}
	if u, err := h.users.LookupByID(userID); err == nil && u.TypingRoom == roomID {
		if err := h.users.SetTypingRoom(userID, ""); err != nil {
			logger.Errorf("ws clear typing room user=%s: %v", userID, err)
		}
	}
	return had
}

func typingPayload(roomID string, user model.User) TypingPayload {
	return TypingPayload{RoomID: roomID, UserID: user.ID, Username: user.DisplayName}
}
