package main

import (
	"log/slog"

	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
)

// RFC 7518 §3.2 minimum key size for HS256.
const minJWTSecretBytes = 32

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables authentication",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthMode == config.AuthModeJWT && len(cfg.JWTSecret) < minJWTSecretBytes {
		logger.Warn("startup security warning: JWT_SECRET is shorter than 32 bytes",
			"warning_code", "jwt_secret_short",
			"jwt_secret_bytes", len(cfg.JWTSecret),
			"mode", cfg.Mode,
		)
	}

	if lo.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.TrustClientFrom {
		logger.Warn("startup security warning: TRUST_CLIENT_FROM=true lets callers claim any user id in incoming_call",
			"warning_code", "trust_client_from",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnections <= 0 {
		logger.Warn("startup security warning: MAX_CONNECTIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_connections_unlimited_in_prod",
			"max_connections", cfg.MaxConnections,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
}
