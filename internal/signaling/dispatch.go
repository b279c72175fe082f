package signaling

import (
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/protocol"
)

// handleAuthFrame processes the first frame of a connection that did not
// authenticate in the query string. Anything but a valid auth frame closes
// the connection.
func (s *Server) handleAuthFrame(c *client, log *slog.Logger, data []byte) bool {
	frame, err := protocol.ParseFrame(data)
	if err != nil || frame.Event != protocol.EventAuth {
		c.fail(websocket.ClosePolicyViolation, "unauthorized", "authentication required")
		return false
	}
	msg, err := protocol.Decode[protocol.Auth](frame)
	if err != nil {
		c.fail(websocket.ClosePolicyViolation, "unauthorized", "missing credentials")
		return false
	}
	cred, err := auth.CredentialFromAuthMessage(s.cfg.AuthMode, msg.APIKey, msg.Token)
	if err != nil {
		c.fail(websocket.ClosePolicyViolation, "unauthorized", "missing credentials")
		return false
	}
	return s.authenticate(c, log, cred)
}

// dispatch decodes one inbound frame and applies it to the hub. Malformed
// frames and signals for unknown users are dropped; the connection stays up.
func (s *Server) dispatch(c *client, log *slog.Logger, data []byte) {
	frame, err := protocol.ParseFrame(data)
	if err != nil {
		s.dropMalformed(log, "", err)
		return
	}

	h := s.cfg.Hub
	switch frame.Event {
	case protocol.EventRegister:
		msg, err := protocol.Decode[protocol.Register](frame)
		if err != nil {
			s.dropMalformed(log, frame.Event, err)
			return
		}
		if sub := c.identity.Subject; sub != "" && sub != msg.UserID {
			s.cfg.Metrics.Inc(metrics.RegisterSubjectMismatch)
			log.Info("register rejected: user id does not match credential", "user_id", msg.UserID, "subject", sub)
			c.fail(websocket.ClosePolicyViolation, "forbidden", "user id does not match credential")
			return
		}
		if err := h.Register(c, msg.UserID); err != nil {
			log.Debug("register failed", "user_id", msg.UserID, "err", err)
		}

	case protocol.EventCall:
		if msg, ok := decode[protocol.Call](s, log, frame); ok {
			h.Call(c, msg)
		}
	case protocol.EventAnswerCall:
		if msg, ok := decode[protocol.AnswerCall](s, log, frame); ok {
			h.AnswerCall(c, msg)
		}
	case protocol.EventICECandidate:
		if msg, ok := decode[protocol.ICECandidate](s, log, frame); ok {
			h.ICECandidate(c, msg)
		}
	case protocol.EventEndCall:
		if msg, ok := decode[protocol.EndCall](s, log, frame); ok {
			h.EndCall(c, msg)
		}

	case protocol.EventSendMessage:
		if msg, ok := decode[protocol.SendMessage](s, log, frame); ok {
			h.SendMessage(c, msg)
		}
	case protocol.EventJoinRoom:
		if msg, ok := decode[protocol.JoinRoom](s, log, frame); ok {
			joinRoom(h, c, log, msg.RoomID)
		}
	case protocol.EventLeaveRoom:
		if msg, ok := decode[protocol.LeaveRoom](s, log, frame); ok {
			h.Leave(c, msg.RoomID)
		}

	case protocol.EventAuth:
		// Already authenticated.
	default:
		s.dropMalformed(log, frame.Event, nil)
	}
}

func decode[T any](s *Server, log *slog.Logger, frame protocol.Frame) (T, bool) {
	msg, err := protocol.Decode[T](frame)
	if err != nil {
		s.dropMalformed(log, frame.Event, err)
		return msg, false
	}
	return msg, true
}

func joinRoom(h *hub.Hub, c *client, log *slog.Logger, room string) {
	if err := h.Join(c, room); err != nil {
		log.Debug("join room failed", "room", room, "err", err)
	}
}

func (s *Server) dropMalformed(log *slog.Logger, event protocol.Event, err error) {
	s.cfg.Metrics.Inc(metrics.MalformedFrames)
	log.Debug("dropping malformed signaling frame", "event", event, "err", err)
}
