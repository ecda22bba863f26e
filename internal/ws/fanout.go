package ws

import (
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
)

// A connection is subscribed to at most one room, the current room of the
// identity bound to it.

func (h *Hub) subscribe(connID, roomID string) {
	h.unsubscribe(connID)
	set, ok := h.subs[roomID]
	if !ok {
		set = make(map[string]struct{})
		h.subs[roomID] = set
	}
	set[connID] = struct{}{}
	h.connRoom[connID] = roomID
}

func (h *Hub) unsubscribe(connID string) {
	roomID, ok := h.connRoom[connID]
	if !ok {
		return
	}
	delete(h.connRoom, connID)
	if set, ok := h.subs[roomID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.subs, roomID)
		}
	}
}

func (h *Hub) send(c Conn, msg OutgoingMessage) {
	if c.Send(msg) {
		return
	}
	// Backpressure: send buffer full, close slow client.
	metrics.IncSlowClientClosed()
	logger.Errorf("ws send buffer full, closing slow client conn=%s", c.ID())
	c.Close()
}

// sendToUser delivers to the connection bound to userID, if any.
func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	u, err := h.users.LookupByID(userID)
	if err != nil || u.ConnectionID == "" {
		return
	}
	if c, ok := h.conns[u.ConnectionID]; ok {
		h.send(c, msg)
	}
}

// broadcastRoom sends to every connection subscribed to roomID except exclude.
func (h *Hub) broadcastRoom(roomID string, msg OutgoingMessage, exclude string) {
	for connID := range h.subs[roomID] {
		if connID == exclude {
			continue
		}
		if c, ok := h.conns[connID]; ok {
			h.send(c, msg)
		}
	}
}

func (h *Hub) broadcastAll(msg OutgoingMessage, exclude string) {
	for connID, c := range h.conns {
		if connID != exclude {
			h.send(c, msg)
		}
	}
}
