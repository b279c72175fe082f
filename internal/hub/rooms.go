package hub

import (
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/protocol"
)

// Join adds c to room. Rooms exist only while they have members.
func (h *Hub) Join(c Client, room string) error {
	if strings.TrimSpace(room) == "" {
		return ErrEmptyRoom
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cs, ok := h.conns[c.ID()]
	if !ok {
		return ErrNotConnected
	}
	if _, joined := cs.rooms[room]; joined {
		return nil
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[c.ID()] = struct{}{}
	cs.rooms[room] = struct{}{}

	h.log.Debug("client joined room", "conn_id", c.ID(), "room", room, "members", len(members))
	return nil
}

func (h *Hub) Leave(c Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cs, ok := h.conns[c.ID()]; ok {
		h.leaveLocked(c.ID(), cs, room)
	}
}

func (h *Hub) leaveLocked(handle string, cs *conn, room string) {
	delete(cs.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, handle)
	if len(members) == 0 {
		delete(h.rooms, room)
		h.log.Debug("room removed", "room", room)
	}
}

// Members returns the number of connections joined to room.
func (h *Hub) Members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// SendMessage relays a chat line to every connection joined to msg.RoomID,
// the sender included when it is a member. It returns the number of
// connections the message was queued for.
func (h *Hub) SendMessage(sender Client, msg protocol.SendMessage) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[sender.ID()]; !ok {
		return 0
	}
	members := h.rooms[msg.RoomID]
	if len(members) == 0 {
		return 0
	}

	payload, err := protocol.Encode(protocol.EventReceiveMessage, protocol.ReceiveMessage{
		Text:           msg.Text,
		Sender:         msg.Sender,
		Timestamp:      msg.Timestamp,
		SenderSocketID: sender.ID(),
	})
	if err != nil {
		h.log.Error("failed to encode chat message", "room", msg.RoomID, "err", err)
		return 0
	}

	delivered := 0
	for handle := range members {
		cs, ok := h.conns[handle]
		if !ok {
			continue
		}
		if h.deliverLocked(cs.client, payload) {
			delivered++
		}
	}
	h.metrics.Inc(metrics.MessagesBroadcast)
	return delivered
}
