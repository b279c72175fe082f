package hub

import (
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/protocol"
)

// broadcastPresenceLocked pushes the full user list to every connection.
// Full-state pushes cost O(users) per message but need no client-side merge.
func (h *Hub) broadcastPresenceLocked() {
	payload, err := protocol.Encode(protocol.EventUserList, h.registry.Snapshot())
	if err != nil {
		h.log.Error("failed to encode user list", "err", err)
		return
	}
	for _, cs := range h.conns {
		h.deliverLocked(cs.client, payload)
	}
	h.metrics.Inc(metrics.PresenceBroadcasts)
}
