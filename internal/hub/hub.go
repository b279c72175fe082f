// Package hub owns the relay's shared state: which connections are live,
// which logical users they registered as, and which rooms they joined.
//
// Every operation takes the hub lock for its whole duration, so registry
// mutations, routing decisions and the resulting enqueues are observed by all
// clients in one global order. Client.Send must not block.
package hub

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/registry"
)

//go:generate go run go.uber.org/mock/mockgen -source=hub.go -destination=mock_client_test.go -package=hub Client

// Client is a live transport connection as seen by the hub.
type Client interface {
	// ID returns the connection handle. It is unique for the life of the
	// process and never reused.
	ID() string
	// Send enqueues an encoded frame without blocking. An error means the
	// frame was not queued.
	Send(data []byte) error
	Close() error
}

var (
	ErrNotConnected = errors.New("hub: connection not connected")
	ErrEmptyUserID  = errors.New("hub: empty user id")
	ErrEmptyRoom    = errors.New("hub: empty room id")
)

type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRegistered:
		return "registered"
	default:
		return "disconnected"
	}
}

type Config struct {
	// Registry is the session registry to use. A fresh one is created when nil.
	Registry *registry.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// TrustClientFrom relays the client-supplied `from` of a call as-is instead
	// of binding it to the caller's registered user id.
	TrustClientFrom bool
}

type Hub struct {
	log             *slog.Logger
	metrics         *metrics.Metrics
	trustClientFrom bool

	mu       sync.Mutex
	registry *registry.Registry
	conns    map[string]*conn
	rooms    map[string]map[string]struct{}
}

type conn struct {
	client Client
	state  State
	rooms  map[string]struct{}
}

func New(cfg Config) *Hub {
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		log:             logger,
		metrics:         m,
		trustClientFrom: cfg.TrustClientFrom,
		registry:        reg,
		conns:           make(map[string]*conn),
		rooms:           make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Connections: len(h.conns),
		Users:       h.registry.Len(),
		Rooms:       len(h.rooms),
	}
}

// State reports the lifecycle state of the connection with the given handle.
// Unknown handles report StateDisconnected.
func (h *Hub) State(handle string) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[handle]; ok {
		return c.state
	}
	return StateDisconnected
}

// Lookup resolves a logical user to its current connection handle.
func (h *Hub) Lookup(userID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Lookup(userID)
}

// Users returns the currently registered user ids in registration order.
func (h *Hub) Users() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Snapshot()
}

// Close closes every tracked client. Their transports are expected to call
// Disconnect as they wind down.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := lo.MapToSlice(h.conns, func(_ string, c *conn) Client { return c.client })
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.Close()
	}
}

// deliverLocked enqueues data on c. A client that cannot keep up is closed;
// its transport then runs the disconnect path.
func (h *Hub) deliverLocked(c Client, data []byte) bool {
	if err := c.Send(data); err != nil {
		h.metrics.Inc(metrics.SendQueueOverflow)
		h.log.Warn("closing slow client", "conn_id", c.ID(), "err", err)
		_ = c.Close()
		return false
	}
	return true
}
