package hub

import (
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/protocol"
)

// Call forwards an offer to msg.To as incoming_call. It reports whether the
// event was queued; unreachable destinations are dropped without notifying
// the caller.
func (h *Hub) Call(sender Client, msg protocol.Call) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	from, ok := h.callerIDLocked(sender, msg.From)
	if !ok {
		h.metrics.Inc(metrics.SignalsDroppedUnbound)
		h.log.Debug("dropping call from unregistered connection", "conn_id", sender.ID(), "to", msg.To)
		return false
	}
	return h.forwardLocked(sender, protocol.EventIncomingCall, msg.To, protocol.IncomingCall{
		From:         from,
		Offer:        msg.Offer,
		FromSocketID: sender.ID(),
	})
}

func (h *Hub) AnswerCall(sender Client, msg protocol.AnswerCall) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.forwardLocked(sender, protocol.EventCallAnswered, msg.To, protocol.CallAnswered{
		Answer:       msg.Answer,
		FromSocketID: sender.ID(),
	})
}

func (h *Hub) ICECandidate(sender Client, msg protocol.ICECandidate) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.forwardLocked(sender, protocol.EventICECandidate, msg.To, protocol.RelayedICECandidate{
		Candidate:    msg.Candidate,
		FromSocketID: sender.ID(),
	})
}

func (h *Hub) EndCall(sender Client, msg protocol.EndCall) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.forwardLocked(sender, protocol.EventCallEnded, msg.To, protocol.CallEnded{
		FromSocketID: sender.ID(),
	})
}

// callerIDLocked decides which user id an incoming_call claims to come from.
// Unless client-supplied ids are trusted, it must be one the sender actually
// registered; a claimed id is honoured only if it is among them.
func (h *Hub) callerIDLocked(sender Client, claimed string) (string, bool) {
	if h.trustClientFrom {
		return claimed, true
	}
	ids := h.registry.UserIDs(sender.ID())
	if len(ids) == 0 {
		return "", false
	}
	if claimed != "" && slices.Contains(ids, claimed) {
		return claimed, true
	}
	return ids[0], true
}

func (h *Hub) forwardLocked(sender Client, event protocol.Event, to string, data any) bool {
	if _, ok := h.conns[sender.ID()]; !ok {
		return false
	}

	handle, ok := h.registry.Lookup(to)
	if !ok {
		h.metrics.Inc(metrics.SignalsDroppedUnreachable)
		h.log.Debug("dropping signal for unreachable user", "event", event, "conn_id", sender.ID(), "to", to)
		return false
	}
	target, ok := h.conns[handle]
	if !ok {
		// Disconnect removes registry entries and connections together, so this
		// only happens if the registry was shared and mutated elsewhere.
		h.metrics.Inc(metrics.SignalsDroppedUnreachable)
		return false
	}

	payload, err := protocol.Encode(event, data)
	if err != nil {
		h.log.Error("failed to encode signal", "event", event, "err", err)
		return false
	}
	if !h.deliverLocked(target.client, payload) {
		return false
	}
	h.metrics.Inc(metrics.SignalsForwarded)
	return true
}
