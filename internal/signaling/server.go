// Package signaling is the WebSocket transport of the call relay. It owns the
// per-connection goroutines, limits and authentication, and hands decoded
// events to the hub.
package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

type Config struct {
	Hub     *hub.Hub
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	AuthMode config.AuthMode
	// Verifier checks credentials when AuthMode is not none.
	Verifier auth.Verifier
	Origins  origin.Policy

	AuthTimeout  time.Duration
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueLength      int
	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int

	// DefaultRoom is joined on connect when the client passes no ?room=.
	DefaultRoom string

	Clock ratelimit.Clock
}

// ConfigFromRelay maps the process configuration onto a transport Config.
func ConfigFromRelay(cfg config.Config, h *hub.Hub, logger *slog.Logger, m *metrics.Metrics) (Config, error) {
	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Hub:                  h,
		Logger:               logger,
		Metrics:              m,
		AuthMode:             cfg.AuthMode,
		Verifier:             verifier,
		Origins:              origin.NewPolicy(cfg.AllowedOrigins),
		AuthTimeout:          cfg.SignalingAuthTimeout,
		IdleTimeout:          cfg.WSIdleTimeout,
		PingInterval:         cfg.WSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueLength:      cfg.SendQueueLength,
		MaxConnections:       cfg.MaxConnections,
		DefaultRoom:          cfg.DefaultRoom,
	}, nil
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}
	if c.Hub == nil {
		c.Hub = hub.New(hub.Config{Logger: c.Logger, Metrics: c.Metrics})
	}
	if c.AuthMode == "" {
		c.AuthMode = config.AuthModeNone
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = config.DefaultSignalingAuthTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = config.DefaultWSIdleTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.IdleTimeout {
		c.PingInterval = c.IdleTimeout / 3
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if c.MaxMessagesPerSecond <= 0 {
		c.MaxMessagesPerSecond = config.DefaultMaxSignalingMessagesPerSecond
	}
	if c.SendQueueLength <= 0 {
		c.SendQueueLength = config.DefaultSendQueueLength
	}
	if c.Clock == nil {
		c.Clock = ratelimit.RealClock{}
	}
	return c
}

// Server upgrades signaling requests and runs one reader and one writer
// goroutine per connection.
//
// Endpoints:
//   - GET /ws      : signaling WebSocket
//   - GET /socket  : alias used by older clients
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader
	conns    *ratelimit.ConnLimiter

	// mu guards pending and closing. Connections sit in pending until they
	// are admitted to the hub, which closes them from then on.
	mu      sync.Mutex
	pending map[*client]struct{}
	closing bool

	wg sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		conns:   ratelimit.NewConnLimiter(cfg.MaxConnections),
		pending: make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: cfg.Origins.CheckRequest,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.ServeWS)
	mux.HandleFunc("GET /socket", s.ServeWS)
}

func (s *Server) Hub() *hub.Hub { return s.cfg.Hub }

// Active returns the number of open signaling connections.
func (s *Server) Active() int { return s.conns.Active() }

// Shutdown closes every connection, admitted or still authenticating, and
// waits for their goroutines to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	pending := make([]*client, 0, len(s.pending))
	for c := range s.pending {
		pending = append(pending, c)
	}
	s.mu.Unlock()

	s.cfg.Hub.Close()
	for _, c := range pending {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !s.conns.TryAcquire() {
		s.cfg.Metrics.Inc(metrics.ConnectionsRejected)
		s.cfg.Metrics.Inc(metrics.DropReasonTooManyConns)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer s.conns.Release()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.log.Debug("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	c := newClient(uuid.NewString(), ws, s.cfg.SendQueueLength)
	log := s.log.With("conn_id", c.id, "remote_addr", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(s.cfg.PingInterval)
	}()

	defer func() {
		s.forget(c)
		s.cfg.Hub.Disconnect(c)
		_ = c.Close()
		<-writerDone
	}()

	if !s.track(c) {
		return
	}

	authenticated := s.cfg.AuthMode == config.AuthModeNone
	if !authenticated {
		cred, err := auth.CredentialFromRequest(s.cfg.AuthMode, r)
		switch {
		case err == nil:
			if !s.authenticate(c, log, cred) {
				return
			}
			authenticated = true
		case !errors.Is(err, auth.ErrMissingCredentials):
			log.Error("invalid auth configuration", "err", err)
			c.closeWith(websocket.CloseInternalServerErr, "invalid auth configuration")
			return
		}
	}

	room := r.URL.Query().Get("room")
	if room == "" {
		room = s.cfg.DefaultRoom
	}
	if authenticated && !s.admit(c, log, room) {
		return
	}

	s.readLoop(c, log, authenticated, room)
}

// track records c as pending. It reports false when the server is already
// shutting down, in which case c has been closed.
func (s *Server) track(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		_ = c.Close()
		return false
	}
	s.pending[c] = struct{}{}
	return true
}

func (s *Server) forget(c *client) {
	s.mu.Lock()
	delete(s.pending, c)
	s.mu.Unlock()
}

// admit makes c visible to the hub: it starts receiving presence and joins
// its initial room. It reports false when the server is shutting down.
func (s *Server) admit(c *client, log *slog.Logger, room string) bool {
	// Held across Connect so Shutdown either sees c in pending or finds it in
	// the hub.
	s.mu.Lock()
	delete(s.pending, c)
	if s.closing {
		s.mu.Unlock()
		_ = c.Close()
		return false
	}
	s.cfg.Hub.Connect(c)
	s.mu.Unlock()

	if room == "" {
		return true
	}
	if err := s.cfg.Hub.Join(c, room); err != nil {
		log.Debug("initial room join failed", "room", room, "err", err)
	}
	return true
}

// authenticate verifies cred and records the resulting identity on c. On
// failure c is closed with a policy violation.
func (s *Server) authenticate(c *client, log *slog.Logger, cred string) bool {
	id, err := s.cfg.Verifier.Verify(cred)
	if err != nil {
		s.cfg.Metrics.Inc(metrics.AuthFailure)
		log.Info("signaling auth failed", "err", err)
		c.fail(websocket.ClosePolicyViolation, "unauthorized", "invalid credentials")
		return false
	}
	c.identity = id
	return true
}

func (s *Server) readLoop(c *client, log *slog.Logger, authenticated bool, room string) {
	ws := c.ws
	ws.SetReadLimit(s.cfg.MaxMessageBytes)

	deadline := s.cfg.IdleTimeout
	if !authenticated {
		deadline = s.cfg.AuthTimeout
	}
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		if !authenticated {
			return nil
		}
		return ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	rate := int64(s.cfg.MaxMessagesPerSecond)
	limiter := ratelimit.NewTokenBucket(s.cfg.Clock, rate, rate)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				s.cfg.Metrics.Inc(metrics.DropReasonTooLarge)
				c.closeWith(websocket.CloseMessageTooBig, "message too large")
			case !authenticated && isTimeout(err):
				c.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
			case isTimeout(err):
				log.Debug("closing idle connection")
				c.closeWith(websocket.CloseGoingAway, "idle timeout")
			}
			return
		}

		if !limiter.Allow(1) {
			s.cfg.Metrics.Inc(metrics.DropReasonRateLimited)
			c.fail(websocket.ClosePolicyViolation, "rate_limited", "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		if !authenticated {
			if !s.handleAuthFrame(c, log, data) {
				return
			}
			authenticated = true
			_ = ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
			if !s.admit(c, log, room) {
				return
			}
			continue
		}

		_ = ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		s.dispatch(c, log, data)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
