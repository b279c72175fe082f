// Package protocol defines the JSON frames exchanged with browser clients over
// the signaling WebSocket.
//
// Every frame is a single JSON object {"event": "...", "data": ...}. Session
// descriptions and ICE candidates are carried as raw JSON and relayed
// byte-for-byte; this package only checks that they are present.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type Event string

// Inbound events (client -> relay).
const (
	EventAuth         Event = "auth"
	EventRegister     Event = "register"
	EventCall         Event = "call"
	EventAnswerCall   Event = "answer_call"
	EventICECandidate Event = "ice_candidate"
	EventEndCall      Event = "end_call"
	EventSendMessage  Event = "send_message"
	EventJoinRoom     Event = "join_room"
	EventLeaveRoom    Event = "leave_room"
)

// Outbound events (relay -> client). EventICECandidate is used in both
// directions.
const (
	EventUserList       Event = "user_list"
	EventIncomingCall   Event = "incoming_call"
	EventCallAnswered   Event = "call_answered"
	EventReceiveMessage Event = "receive_message"
	EventCallEnded      Event = "call_ended"
	EventError          Event = "error"
)

var (
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

type Frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseFrame decodes a single inbound frame. The payload is left undecoded;
// use Decode once the event is known.
func ParseFrame(raw []byte) (Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var f Frame
	if err := dec.Decode(&f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Frame{}, fmt.Errorf("%w: unexpected trailing data", ErrMalformedFrame)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}
	return f, nil
}

// Decode unmarshals and validates the payload of f into T.
func Decode[T any](f Frame) (T, error) {
	var v T
	if len(bytes.TrimSpace(f.Data)) == 0 {
		return v, fmt.Errorf("%w: %s: missing data", ErrInvalidPayload, f.Event)
	}
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, f.Event, err)
	}
	if err := validate.Struct(v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, f.Event, err)
	}
	return v, nil
}

// Encode builds an outbound frame.
func Encode(event Event, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: payload})
}
