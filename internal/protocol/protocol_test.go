package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"end_call","data":{"to":"u2"}}`))
	require.NoError(t, err)
	require.Equal(t, EventEndCall, f.Event)
	require.JSONEq(t, `{"to":"u2"}`, string(f.Data))
}

func TestParseFrame_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":      `hello`,
		"missing event": `{"data":{}}`,
		"unknown field": `{"event":"call","data":{},"extra":1}`,
		"trailing data": `{"event":"call","data":{}} {}`,
		"array":         `[1,2]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFrame([]byte(raw))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformedFrame), "err=%v", err)
		})
	}
}

func TestDecodeRegister_StringOrObject(t *testing.T) {
	for _, data := range []string{`"user_abc"`, `{"userId":"user_abc"}`} {
		reg, err := Decode[Register](Frame{Event: EventRegister, Data: json.RawMessage(data)})
		require.NoError(t, err, data)
		require.Equal(t, "user_abc", reg.UserID)
	}
}

func TestDecodeRegister_Empty(t *testing.T) {
	for _, data := range []string{`""`, `{}`, `null`} {
		_, err := Decode[Register](Frame{Event: EventRegister, Data: json.RawMessage(data)})
		require.ErrorIs(t, err, ErrInvalidPayload, data)
	}
}

func TestDecodeCall_KeepsOfferBytes(t *testing.T) {
	offer := `{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}`
	call, err := Decode[Call](Frame{
		Event: EventCall,
		Data:  json.RawMessage(`{"from":"u1","to":"u2","offer":` + offer + `}`),
	})
	require.NoError(t, err)
	require.Equal(t, "u1", call.From)
	require.Equal(t, "u2", call.To)
	require.Equal(t, offer, string(call.Offer))
}

func TestDecode_MissingRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		fn   func() error
	}{
		{"call without to", func() error {
			_, err := Decode[Call](Frame{Event: EventCall, Data: json.RawMessage(`{"offer":{}}`)})
			return err
		}},
		{"call with null offer", func() error {
			_, err := Decode[Call](Frame{Event: EventCall, Data: json.RawMessage(`{"to":"b","offer":null}`)})
			return err
		}},
		{"answer without answer", func() error {
			_, err := Decode[AnswerCall](Frame{Event: EventAnswerCall, Data: json.RawMessage(`{"to":"b"}`)})
			return err
		}},
		{"candidate without candidate", func() error {
			_, err := Decode[ICECandidate](Frame{Event: EventICECandidate, Data: json.RawMessage(`{"to":"b"}`)})
			return err
		}},
		{"end_call without data", func() error {
			_, err := Decode[EndCall](Frame{Event: EventEndCall})
			return err
		}},
		{"message without room", func() error {
			_, err := Decode[SendMessage](Frame{Event: EventSendMessage, Data: json.RawMessage(`{"text":"hi"}`)})
			return err
		}},
		{"auth without credential", func() error {
			_, err := Decode[Auth](Frame{Event: EventAuth, Data: json.RawMessage(`{}`)})
			return err
		}},
		{"wrong type", func() error {
			_, err := Decode[EndCall](Frame{Event: EventEndCall, Data: json.RawMessage(`{"to":5}`)})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.fn(), ErrInvalidPayload)
		})
	}
}

func TestDecodeSendMessage_EmptyTextRelayed(t *testing.T) {
	msg, err := Decode[SendMessage](Frame{Event: EventSendMessage, Data: json.RawMessage(`{"roomId":"lobby","text":""}`)})
	require.NoError(t, err)
	require.Equal(t, "lobby", msg.RoomID)
	require.Empty(t, msg.Text)

	msg, err = Decode[SendMessage](Frame{Event: EventSendMessage, Data: json.RawMessage(`{"roomId":"lobby"}`)})
	require.NoError(t, err)
	require.Empty(t, msg.Text)
}

func TestDecodeICECandidate_AcceptsAnyJSONValue(t *testing.T) {
	// Candidates are opaque; even an empty end-of-candidates object is relayed.
	c, err := Decode[ICECandidate](Frame{Event: EventICECandidate, Data: json.RawMessage(`{"to":"b","candidate":{}}`)})
	require.NoError(t, err)
	require.Equal(t, "{}", string(c.Candidate))
}

func TestEncode(t *testing.T) {
	raw, err := Encode(EventIncomingCall, IncomingCall{
		From:         "u1",
		Offer:        json.RawMessage(`{"type":"offer","sdp":"x"}`),
		FromSocketID: "h1",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"incoming_call","data":{"from":"u1","offer":{"type":"offer","sdp":"x"},"fromSocketId":"h1"}}`, string(raw))

	raw, err = Encode(EventUserList, []string{"a", "b"})
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"user_list","data":["a","b"]}`, string(raw))
}
