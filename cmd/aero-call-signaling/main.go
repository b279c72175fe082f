package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-call-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_mode", cfg.AuthMode,
		"allowed_origins", cfg.AllowedOrigins,
		"max_connections", cfg.MaxConnections,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"send_queue_length", cfg.SendQueueLength,
		"default_room", cfg.DefaultRoom,
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	logStartupSecurityWarnings(logger, cfg)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("ICE server configuration is invalid; /webrtc/ice and /readyz will report it", "err", err)
	}

	m := metrics.New()
	h := hub.New(hub.Config{
		Logger:          logger,
		Metrics:         m,
		TrustClientFrom: cfg.TrustClientFrom,
	})

	sigCfg, err := signaling.ConfigFromRelay(cfg, h, logger, m)
	if err != nil {
		logger.Error("failed to configure signaling auth", "err", err)
		os.Exit(2)
	}
	sig := signaling.NewServer(sigCfg)

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)
	srv, err := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime})
	if err != nil {
		logger.Error("failed to configure http server", "err", err)
		os.Exit(2)
	}
	srv.SetStats(h.Stats)
	sig.RegisterRoutes(srv.Mux())
	srv.Mux().Handle("GET /metrics", prometheusHandler(m, h.Stats))

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		h.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// http.Server.Shutdown does not track hijacked WebSocket connections, so the
	// signaling server is drained separately.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	if err := sig.Shutdown(shutdownCtx); err != nil {
		logger.Error("signaling shutdown timed out", "err", err, "open_connections", sig.Active())
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// prometheusHandler exposes the event counters plus live hub gauges.
func prometheusHandler(m *metrics.Metrics, stats func() hub.Stats) http.Handler {
	return metrics.PrometheusHandler(m,
		metrics.Gauge{
			Name:  "aero_call_signaling_connections",
			Help:  "Open signaling connections tracked by the hub.",
			Value: func() int { return stats().Connections },
		},
		metrics.Gauge{
			Name:  "aero_call_signaling_registered_users",
			Help:  "User ids currently bound to a connection.",
			Value: func() int { return stats().Users },
		},
		metrics.Gauge{
			Name:  "aero_call_signaling_rooms",
			Help:  "Rooms with at least one member.",
			Value: func() int { return stats().Rooms },
		},
	)
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
