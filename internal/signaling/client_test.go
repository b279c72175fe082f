package signaling

import (
	"encoding/json"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/protocol"
)

func TestClientSendQueue(t *testing.T) {
	c := newClient("conn-1", nil, 1)
	require.Equal(t, "conn-1", c.ID())

	require.NoError(t, c.Send([]byte("a")))
	require.ErrorIs(t, c.Send([]byte("b")), errSendQueueFull)

	c.closeWith(websocket.ClosePolicyViolation, "first")
	c.closeWith(websocket.CloseGoingAway, "second")
	require.NoError(t, c.Close())
	require.Equal(t, websocket.ClosePolicyViolation, c.closeCode)
	require.Equal(t, "first", c.closeReason)

	// Closing clients swallow frames instead of reporting overflow.
	require.NoError(t, c.Send([]byte("c")))
	require.Len(t, c.send, 1)
}

func TestClientFailQueuesErrorFrame(t *testing.T) {
	c := newClient("conn-1", nil, 4)
	c.fail(websocket.ClosePolicyViolation, "rate_limited", "rate limit exceeded")

	require.Len(t, c.send, 1)
	var f protocol.Frame
	require.NoError(t, json.Unmarshal(<-c.send, &f))
	require.Equal(t, protocol.EventError, f.Event)
	require.JSONEq(t, `{"code":"rate_limited","message":"rate limit exceeded"}`, string(f.Data))

	select {
	case <-c.closing:
	default:
		t.Fatal("client not closing after fail")
	}
}
