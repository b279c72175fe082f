package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Server struct {
	log     *slog.Logger
	cfg     config.Config
	build   BuildInfo
	origins origin.Policy
	turn    *turnrest.Generator

	ready atomic.Bool
	stats atomic.Pointer[func() hub.Stats]

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo) (*Server, error) {
	turn, err := turnrest.FromConfig(cfg.TURNREST)
	if err != nil {
		return nil, err
	}

	s := &Server{
		log:     logger,
		cfg:     cfg,
		build:   build,
		origins: origin.NewPolicy(cfg.AllowedOrigins),
		turn:    turn,
		mux:     http.NewServeMux(),
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Signaling connections are long-lived upgrades; only header reads are
		// bounded here.
	}

	return s, nil
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// SetStats installs the source for GET /stats.
func (s *Server) SetStats(fn func() hub.Stats) {
	s.stats.Store(&fn)
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":  "Server running",
			"message": "signaling server is active",
		})
	})

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		if err := s.cfg.ICEConfigError(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.HandleFunc("GET /stats", s.withOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		fn := s.stats.Load()
		if fn == nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "stats not available"})
			return
		}
		WriteJSON(w, http.StatusOK, (*fn)())
	}))

	ice := s.withOriginPolicy(s.handleICE)
	s.mux.HandleFunc("GET /webrtc/ice", ice)
	s.mux.HandleFunc("OPTIONS /webrtc/ice", ice)
}

type iceResponse struct {
	ICEServers any `json:"iceServers"`
	// ExpiresAt is set when TURN credentials were minted for this response.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}

	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	resp := iceResponse{ICEServers: servers}

	if s.turn != nil && len(servers) > 0 {
		creds, err := s.turn.Generate("")
		if err != nil {
			s.log.Error("failed to mint turn credentials", "err", err)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to mint turn credentials"})
			return
		}
		resp.ICEServers = turnrest.Apply(servers, creds)
		resp.ExpiresAt = &creds.Expires
	}

	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, resp)
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			r.Header.Set("X-Request-ID", reqID)
			w.Header().Set("X-Request-ID", reqID)
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is required by the WebSocket upgrader, which type-asserts the
// writer it is given.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpserver: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			reqID := r.Header.Get("X-Request-ID")
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", reqID,
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}
