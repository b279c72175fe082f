package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/protocol"
)

type fakeClient struct {
	id string

	mu       sync.Mutex
	frames   []protocol.Frame
	failSend bool
	closed   int
}

func newFakeClient(id string) *fakeClient { return &fakeClient{id: id} }

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("queue full")
	}
	var f protocol.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeClient) events(event protocol.Event) []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Frame
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeClient) userLists(t *testing.T) [][]string {
	t.Helper()
	var out [][]string
	for _, f := range c.events(protocol.EventUserList) {
		var ids []string
		require.NoError(t, json.Unmarshal(f.Data, &ids))
		out = append(out, ids)
	}
	return out
}

func (c *fakeClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func newTestHub(t *testing.T, trustFrom bool) *Hub {
	t.Helper()
	return New(Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:         metrics.New(),
		TrustClientFrom: trustFrom,
	})
}

// connectAs connects a client and registers it as userID.
func connectAs(t *testing.T, h *Hub, handle, userID string) *fakeClient {
	t.Helper()
	c := newFakeClient(handle)
	h.Connect(c)
	require.NoError(t, h.Register(c, userID))
	return c
}

func decodeData[T any](t *testing.T, f protocol.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func TestHub_CallThenPeerLeavesScenario(t *testing.T) {
	h := newTestHub(t, false)
	u1 := connectAs(t, h, "c1", "u1")
	u2 := connectAs(t, h, "c2", "u2")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n..."}`)
	require.True(t, h.Call(u1, protocol.Call{From: "u1", To: "u2", Offer: offer}))

	calls := u2.events(protocol.EventIncomingCall)
	require.Len(t, calls, 1)
	got := decodeData[protocol.IncomingCall](t, calls[0])
	require.Equal(t, "u1", got.From)
	require.Equal(t, "c1", got.FromSocketID)
	require.JSONEq(t, string(offer), string(got.Offer))
	require.Empty(t, u1.events(protocol.EventIncomingCall))

	h.Disconnect(u2)
	u1.reset()
	u2.reset()

	require.False(t, h.ICECandidate(u1, protocol.ICECandidate{To: "u2", Candidate: json.RawMessage(`{"candidate":"a=1"}`)}))
	require.Empty(t, u1.frames)
	require.Empty(t, u2.frames)
	require.EqualValues(t, 1, h.Metrics().Get(metrics.SignalsDroppedUnreachable))
}

func TestHub_RoutingReachesOnlyTarget(t *testing.T) {
	h := newTestHub(t, false)
	alice := connectAs(t, h, "c-alice", "alice")
	bob := connectAs(t, h, "c-bob", "bob")
	carol := connectAs(t, h, "c-carol", "carol")

	require.True(t, h.AnswerCall(bob, protocol.AnswerCall{To: "alice", Answer: json.RawMessage(`{"type":"answer","sdp":"x"}`)}))
	require.True(t, h.ICECandidate(bob, protocol.ICECandidate{To: "alice", Candidate: json.RawMessage(`{"candidate":"c"}`)}))
	require.True(t, h.EndCall(bob, protocol.EndCall{To: "alice"}))

	answered := alice.events(protocol.EventCallAnswered)
	require.Len(t, answered, 1)
	a := decodeData[protocol.CallAnswered](t, answered[0])
	require.Equal(t, "c-bob", a.FromSocketID)
	require.JSONEq(t, `{"type":"answer","sdp":"x"}`, string(a.Answer))

	cands := alice.events(protocol.EventICECandidate)
	require.Len(t, cands, 1)
	require.JSONEq(t, `{"candidate":"c"}`, string(decodeData[protocol.RelayedICECandidate](t, cands[0]).Candidate))

	ended := alice.events(protocol.EventCallEnded)
	require.Len(t, ended, 1)
	require.Equal(t, "c-bob", decodeData[protocol.CallEnded](t, ended[0]).FromSocketID)

	for _, c := range []*fakeClient{bob, carol} {
		require.Empty(t, c.events(protocol.EventCallAnswered))
		require.Empty(t, c.events(protocol.EventICECandidate))
		require.Empty(t, c.events(protocol.EventCallEnded))
	}
	require.EqualValues(t, 3, h.Metrics().Get(metrics.SignalsForwarded))
}

func TestHub_UnknownTargetIsDroppedSilently(t *testing.T) {
	h := newTestHub(t, false)
	alice := connectAs(t, h, "c1", "alice")
	alice.reset()

	require.False(t, h.Call(alice, protocol.Call{To: "nobody", Offer: json.RawMessage(`{}`)}))
	require.False(t, h.EndCall(alice, protocol.EndCall{To: "nobody"}))
	require.Empty(t, alice.frames)
	require.EqualValues(t, 2, h.Metrics().Get(metrics.SignalsDroppedUnreachable))
}

func TestHub_SignalFromUntrackedConnectionIgnored(t *testing.T) {
	h := newTestHub(t, false)
	bob := connectAs(t, h, "c-bob", "bob")
	bob.reset()

	ghost := newFakeClient("ghost")
	require.False(t, h.AnswerCall(ghost, protocol.AnswerCall{To: "bob", Answer: json.RawMessage(`{}`)}))
	require.Zero(t, h.SendMessage(ghost, protocol.SendMessage{RoomID: "r", Text: "hi"}))
	require.Empty(t, bob.frames)
}

func TestHub_CallerIDBoundToRegistration(t *testing.T) {
	h := newTestHub(t, false)
	alice := connectAs(t, h, "c-alice", "alice")
	bob := connectAs(t, h, "c-bob", "bob")

	require.True(t, h.Call(alice, protocol.Call{From: "mallory", To: "bob", Offer: json.RawMessage(`{}`)}))
	calls := bob.events(protocol.EventIncomingCall)
	require.Len(t, calls, 1)
	require.Equal(t, "alice", decodeData[protocol.IncomingCall](t, calls[0]).From)

	// A connection registered under several ids may pick any of its own.
	require.NoError(t, h.Register(alice, "alice-work"))
	require.True(t, h.Call(alice, protocol.Call{From: "alice-work", To: "bob", Offer: json.RawMessage(`{}`)}))
	calls = bob.events(protocol.EventIncomingCall)
	require.Len(t, calls, 2)
	require.Equal(t, "alice-work", decodeData[protocol.IncomingCall](t, calls[1]).From)
}

func TestHub_UnregisteredCallerDropped(t *testing.T) {
	h := newTestHub(t, false)
	bob := connectAs(t, h, "c-bob", "bob")

	anon := newFakeClient("c-anon")
	h.Connect(anon)
	require.False(t, h.Call(anon, protocol.Call{From: "alice", To: "bob", Offer: json.RawMessage(`{}`)}))
	require.Empty(t, bob.events(protocol.EventIncomingCall))
	require.EqualValues(t, 1, h.Metrics().Get(metrics.SignalsDroppedUnbound))
}

func TestHub_TrustClientFrom(t *testing.T) {
	h := newTestHub(t, true)
	bob := connectAs(t, h, "c-bob", "bob")

	anon := newFakeClient("c-anon")
	h.Connect(anon)
	require.True(t, h.Call(anon, protocol.Call{From: "whoever", To: "bob", Offer: json.RawMessage(`{}`)}))

	calls := bob.events(protocol.EventIncomingCall)
	require.Len(t, calls, 1)
	got := decodeData[protocol.IncomingCall](t, calls[0])
	require.Equal(t, "whoever", got.From)
	require.Equal(t, "c-anon", got.FromSocketID)
}

func TestHub_PresenceChurn(t *testing.T) {
	h := newTestHub(t, false)

	a := connectAs(t, h, "c-a", "A")
	require.Equal(t, [][]string{{"A"}}, a.userLists(t))

	b := connectAs(t, h, "c-b", "B")
	require.Equal(t, [][]string{{"A"}, {"A", "B"}}, a.userLists(t))
	require.Equal(t, [][]string{{"A", "B"}}, b.userLists(t))

	h.Disconnect(a)
	require.Equal(t, [][]string{{"A", "B"}, {"B"}}, b.userLists(t))
	require.Len(t, a.userLists(t), 2)
	require.EqualValues(t, 3, h.Metrics().Get(metrics.PresenceBroadcasts))
}

func TestHub_PresenceReachesUnregisteredConnections(t *testing.T) {
	h := newTestHub(t, false)
	watcher := newFakeClient("c-watch")
	h.Connect(watcher)

	a := connectAs(t, h, "c-a", "A")
	h.Disconnect(a)

	require.Equal(t, [][]string{{"A"}, {}}, watcher.userLists(t))
	require.Equal(t, StateConnected, h.State("c-watch"))
}

func TestHub_ReRegistrationLastWins(t *testing.T) {
	h := newTestHub(t, false)
	first := connectAs(t, h, "c-1", "alice")
	second := connectAs(t, h, "c-2", "alice")
	caller := connectAs(t, h, "c-3", "carol")

	handle, ok := h.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, "c-2", handle)
	require.Equal(t, StateConnected, h.State("c-1"))
	require.Equal(t, StateRegistered, h.State("c-2"))
	require.EqualValues(t, 1, h.Metrics().Get(metrics.UsersReplaced))

	require.True(t, h.Call(caller, protocol.Call{To: "alice", Offer: json.RawMessage(`{}`)}))
	require.Empty(t, first.events(protocol.EventIncomingCall))
	require.Len(t, second.events(protocol.EventIncomingCall), 1)

	// The stale connection going away must not unregister the live one.
	h.Disconnect(first)
	handle, ok = h.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, "c-2", handle)
	require.Equal(t, []string{"alice", "carol"}, h.Users())
}

func TestHub_RegisterSameIDTwiceIsIdempotent(t *testing.T) {
	h := newTestHub(t, false)
	c := connectAs(t, h, "c-1", "alice")
	require.NoError(t, h.Register(c, "alice"))

	require.Equal(t, []string{"alice"}, h.Users())
	require.Equal(t, [][]string{{"alice"}, {"alice"}}, c.userLists(t))
	require.Zero(t, h.Metrics().Get(metrics.UsersReplaced))
}

func TestHub_RegisterErrors(t *testing.T) {
	h := newTestHub(t, false)
	c := newFakeClient("c-1")

	require.ErrorIs(t, h.Register(c, "alice"), ErrNotConnected)
	h.Connect(c)
	require.ErrorIs(t, h.Register(c, ""), ErrEmptyUserID)
	require.Empty(t, h.Users())
	require.Equal(t, StateConnected, h.State("c-1"))
}

func TestHub_UserIDsAreOpaque(t *testing.T) {
	h := newTestHub(t, false)
	c := newFakeClient("c-1")
	h.Connect(c)

	require.NoError(t, h.Register(c, "  "))
	require.Equal(t, []string{"  "}, h.Users())
	handle, ok := h.Lookup("  ")
	require.True(t, ok)
	require.Equal(t, "c-1", handle)
}

func TestHub_DisconnectIsIdempotent(t *testing.T) {
	h := newTestHub(t, false)
	a := connectAs(t, h, "c-a", "A")
	b := connectAs(t, h, "c-b", "B")
	require.NoError(t, h.Join(a, "lobby"))

	h.Disconnect(a)
	h.Disconnect(a)
	h.Disconnect(newFakeClient("never-connected"))

	require.Len(t, b.userLists(t), 2)
	require.EqualValues(t, 1, h.Metrics().Get(metrics.ConnectionsClosed))
	require.Equal(t, StateDisconnected, h.State("c-a"))
	require.Equal(t, Stats{Connections: 1, Users: 1, Rooms: 0}, h.Stats())

	_, ok := h.Lookup("A")
	require.False(t, ok)
}

func TestHub_ConnectIsIdempotent(t *testing.T) {
	h := newTestHub(t, false)
	c := newFakeClient("c-1")
	h.Connect(c)
	h.Connect(c)
	require.EqualValues(t, 1, h.Metrics().Get(metrics.ConnectionsOpened))
	require.Equal(t, 1, h.Stats().Connections)
}

func TestHub_RoomIsolation(t *testing.T) {
	h := newTestHub(t, false)
	a := connectAs(t, h, "c-a", "A")
	b := connectAs(t, h, "c-b", "B")
	c := connectAs(t, h, "c-c", "C")

	require.NoError(t, h.Join(a, "r1"))
	require.NoError(t, h.Join(a, "r1"))
	require.NoError(t, h.Join(b, "r1"))
	require.NoError(t, h.Join(c, "r2"))
	require.Equal(t, 2, h.Members("r1"))

	n := h.SendMessage(a, protocol.SendMessage{RoomID: "r1", Text: "hello", Sender: "A", Timestamp: json.RawMessage(`"12:00"`)})
	require.Equal(t, 2, n)

	for _, member := range []*fakeClient{a, b} {
		msgs := member.events(protocol.EventReceiveMessage)
		require.Len(t, msgs, 1)
		got := decodeData[protocol.ReceiveMessage](t, msgs[0])
		require.Equal(t, "hello", got.Text)
		require.Equal(t, "A", got.Sender)
		require.Equal(t, "c-a", got.SenderSocketID)
		require.JSONEq(t, `"12:00"`, string(got.Timestamp))
	}
	require.Empty(t, c.events(protocol.EventReceiveMessage))

	require.Zero(t, h.SendMessage(a, protocol.SendMessage{RoomID: "empty", Text: "anyone?"}))
}

func TestHub_LeaveRemovesEmptyRooms(t *testing.T) {
	h := newTestHub(t, false)
	a := connectAs(t, h, "c-a", "A")
	b := connectAs(t, h, "c-b", "B")

	require.NoError(t, h.Join(a, "r1"))
	require.NoError(t, h.Join(b, "r1"))
	require.ErrorIs(t, h.Join(a, ""), ErrEmptyRoom)
	require.ErrorIs(t, h.Join(newFakeClient("x"), "r1"), ErrNotConnected)

	h.Leave(a, "r1")
	require.Equal(t, 1, h.Members("r1"))
	h.Disconnect(b)
	require.Zero(t, h.Members("r1"))
	require.Zero(t, h.Stats().Rooms)

	// A member that left no longer receives the room's messages.
	c := connectAs(t, h, "c-c", "C")
	require.NoError(t, h.Join(c, "r1"))
	require.Equal(t, 1, h.SendMessage(c, protocol.SendMessage{RoomID: "r1", Text: "x"}))
	require.Empty(t, a.events(protocol.EventReceiveMessage))
}

func TestHub_SlowClientIsClosed(t *testing.T) {
	h := newTestHub(t, false)
	slow := connectAs(t, h, "c-slow", "slow")
	slow.mu.Lock()
	slow.failSend = true
	slow.mu.Unlock()

	fast := connectAs(t, h, "c-fast", "fast")

	require.Equal(t, 1, slow.closed)
	require.Zero(t, fast.closed)
	require.EqualValues(t, 1, h.Metrics().Get(metrics.SendQueueOverflow))
	require.Equal(t, [][]string{{"slow", "fast"}}, fast.userLists(t))

	require.False(t, h.Call(fast, protocol.Call{To: "slow", Offer: json.RawMessage(`{}`)}))
}

func TestHub_CloseClosesEveryClient(t *testing.T) {
	h := newTestHub(t, false)
	a := connectAs(t, h, "c-a", "A")
	b := newFakeClient("c-b")
	h.Connect(b)

	h.Close()
	require.Equal(t, 1, a.closed)
	require.Equal(t, 1, b.closed)
}

func TestHub_RegisterBroadcastsToMockClient(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newTestHub(t, false)

	peer := NewMockClient(ctrl)
	peer.EXPECT().ID().Return("c-peer").AnyTimes()
	peer.EXPECT().Close().Times(0)

	var got []protocol.Frame
	peer.EXPECT().Send(gomock.Any()).DoAndReturn(func(data []byte) error {
		f, err := protocol.ParseFrame(data)
		if err != nil {
			return err
		}
		got = append(got, f)
		return nil
	}).Times(2)

	h.Connect(peer)
	connectAs(t, h, "c-a", "A")
	connectAs(t, h, "c-b", "B")

	require.Len(t, got, 2)
	require.Equal(t, protocol.EventUserList, got[1].Event)
	require.JSONEq(t, `["A","B"]`, string(got[1].Data))
}

func TestHub_ConcurrentChurnLeavesNoState(t *testing.T) {
	h := newTestHub(t, false)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newFakeClient(fmt.Sprintf("c-%d", i))
			h.Connect(c)
			_ = h.Register(c, fmt.Sprintf("user-%d", i%8))
			_ = h.Join(c, fmt.Sprintf("room-%d", i%4))
			h.Call(c, protocol.Call{To: fmt.Sprintf("user-%d", (i+1)%8), Offer: json.RawMessage(`{}`)})
			h.SendMessage(c, protocol.SendMessage{RoomID: fmt.Sprintf("room-%d", i%4), Text: "x"})
			h.Disconnect(c)
		}()
	}
	wg.Wait()

	require.Equal(t, Stats{}, h.Stats())
	require.Empty(t, h.Users())
}
