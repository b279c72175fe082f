package hub

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
)

// Connect starts tracking c. From now on c receives presence broadcasts.
// Connecting an already tracked client is a no-op.
func (h *Hub) Connect(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.ID()]; ok {
		return
	}
	h.conns[c.ID()] = &conn{
		client: c,
		state:  StateConnected,
		rooms:  make(map[string]struct{}),
	}
	h.metrics.Inc(metrics.ConnectionsOpened)
	h.log.Info("client connected", "conn_id", c.ID(), "connections", len(h.conns))
}

// Register binds userID to c (last registration wins) and pushes the new user
// list to every connection.
func (h *Hub) Register(c Client, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cs, ok := h.conns[c.ID()]
	if !ok {
		return ErrNotConnected
	}

	prev, replaced := h.registry.Register(userID, c.ID())
	cs.state = StateRegistered
	h.metrics.Inc(metrics.UsersRegistered)

	if replaced {
		h.metrics.Inc(metrics.UsersReplaced)
		if old, ok := h.conns[prev]; ok && len(h.registry.UserIDs(prev)) == 0 {
			old.state = StateConnected
		}
		h.log.Info("user registered on a new connection", "user_id", userID, "conn_id", c.ID(), "previous_conn_id", prev)
	} else {
		h.log.Info("user registered", "user_id", userID, "conn_id", c.ID())
	}

	h.broadcastPresenceLocked()
	return nil
}

// Disconnect tears down all state held for c and pushes the updated user list
// to the remaining connections. It is safe to call from any state and more
// than once; only the first call has an effect.
func (h *Hub) Disconnect(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs, ok := h.conns[c.ID()]
	if !ok {
		return
	}

	removed := h.registry.Remove(c.ID())
	for room := range cs.rooms {
		h.leaveLocked(c.ID(), cs, room)
	}
	delete(h.conns, c.ID())
	cs.state = StateDisconnected

	h.metrics.Inc(metrics.ConnectionsClosed)
	h.log.Info("client disconnected", "conn_id", c.ID(), "user_ids", removed, "connections", len(h.conns))

	h.broadcastPresenceLocked()
}
