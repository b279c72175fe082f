package metrics

import "sync"

// Event counter names.
const (
	ConnectionsOpened   = "connections_opened"
	ConnectionsClosed   = "connections_closed"
	ConnectionsRejected = "connections_rejected"

	UsersRegistered    = "users_registered"
	UsersReplaced      = "users_replaced"
	PresenceBroadcasts = "presence_broadcasts"

	SignalsForwarded          = "signals_forwarded"
	SignalsDroppedUnreachable = "signals_dropped_unreachable"
	SignalsDroppedUnbound     = "signals_dropped_unbound"
	MessagesBroadcast         = "messages_broadcast"

	MalformedFrames   = "malformed_frames"
	SendQueueOverflow = "send_queue_overflow"

	AuthFailure             = "auth_failure"
	RegisterSubjectMismatch = "register_subject_mismatch"
	DropReasonRateLimited   = "rate_limited"
	DropReasonTooLarge      = "message_too_large"
	DropReasonTooManyConns  = "too_many_connections"
)

// Metrics is a minimal, concurrency-safe counter registry exposed through
// PrometheusHandler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
