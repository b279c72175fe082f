package protocol

import (
	"bytes"
	"encoding/json"
)

// Auth carries a credential for AUTH_MODE=api_key|jwt when it was not
// supplied in the query string.
type Auth struct {
	APIKey string `json:"apiKey,omitempty" validate:"required_without=Token"`
	Token  string `json:"token,omitempty" validate:"required_without=APIKey"`
}

// Register is accepted either as a bare JSON string ("user_abc") or as
// {"userId": "user_abc"}.
type Register struct {
	UserID string `json:"userId" validate:"required,max=256"`
}

func (r *Register) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &r.UserID)
	}
	type plain Register
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*r = Register(p)
	return nil
}

// Call opens a call. From is advisory: unless the relay is configured to
// trust it, the caller's registered id is used instead.
type Call struct {
	From  string          `json:"from,omitempty" validate:"max=256"`
	To    string          `json:"to" validate:"required,max=256"`
	Offer json.RawMessage `json:"offer" validate:"required,opaque"`
}

type AnswerCall struct {
	To     string          `json:"to" validate:"required,max=256"`
	Answer json.RawMessage `json:"answer" validate:"required,opaque"`
}

type ICECandidate struct {
	To        string          `json:"to" validate:"required,max=256"`
	Candidate json.RawMessage `json:"candidate" validate:"required,opaque"`
}

type EndCall struct {
	To string `json:"to" validate:"required,max=256"`
}

// SendMessage is a chat line for a room. Sender and Timestamp are client
// labels relayed as-is.
type SendMessage struct {
	RoomID    string          `json:"roomId" validate:"required,max=128"`
	Text      string          `json:"text"`
	Sender    string          `json:"sender,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type JoinRoom struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

type IncomingCall struct {
	From         string          `json:"from"`
	Offer        json.RawMessage `json:"offer"`
	FromSocketID string          `json:"fromSocketId"`
}

type CallAnswered struct {
	Answer       json.RawMessage `json:"answer"`
	FromSocketID string          `json:"fromSocketId"`
}

type RelayedICECandidate struct {
	Candidate    json.RawMessage `json:"candidate"`
	FromSocketID string          `json:"fromSocketId"`
}

type CallEnded struct {
	FromSocketID string `json:"fromSocketId"`
}

type ReceiveMessage struct {
	Text           string          `json:"text"`
	Sender         string          `json:"sender"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	SenderSocketID string          `json:"senderSocketId"`
}

// Error reports transport-level failures (auth, rate limiting, subject
// mismatch) right before the relay closes the connection. Malformed frames and
// signaling drops never produce an Error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
