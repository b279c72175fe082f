package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/origin"
)

const (
	envVarListenAddr      = "AERO_CALL_SIGNALING_LISTEN_ADDR"
	envVarPort            = "PORT"
	envVarLogFormat       = "AERO_CALL_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "AERO_CALL_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_CALL_SIGNALING_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_CALL_SIGNALING_MODE"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarFrontendURL     = "FRONTEND_URL"

	envVarAuthMode             = "AUTH_MODE"
	envVarAPIKey               = "API_KEY"
	envVarJWTSecret            = "JWT_SECRET"
	envVarSignalingAuthTimeout = "SIGNALING_AUTH_TIMEOUT"

	envVarWSIdleTimeout                 = "WS_IDLE_TIMEOUT"
	envVarWSPingInterval                = "WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueLength               = "SEND_QUEUE_LENGTH"
	envVarMaxConnections                = "MAX_CONNECTIONS"

	envVarTrustClientFrom = "TRUST_CLIENT_FROM"
	envVarDefaultRoom     = "DEFAULT_ROOM"

	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
	envVarTURNRESTRealm          = "TURN_REST_REALM"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdown        = 15 * time.Second
	DefaultMode       Mode = ModeDev

	DefaultAuthMode AuthMode = AuthModeNone

	DefaultSignalingAuthTimeout          = 2 * time.Second
	DefaultWSIdleTimeout                 = 60 * time.Second
	DefaultWSPingInterval                = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSendQueueLength               = 256

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "aero"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Realm          string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	AuthMode             AuthMode
	APIKey               string
	JWTSecret            string
	SignalingAuthTimeout time.Duration

	WSIdleTimeout                 time.Duration
	WSPingInterval                time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SendQueueLength               int
	// MaxConnections caps concurrent signaling connections; 0 means unlimited.
	MaxConnections int

	// TrustClientFrom relays the client-supplied caller id of a call instead of
	// the id the calling connection registered.
	TrustClientFrom bool
	// DefaultRoom is joined by every connection that does not pass ?room=.
	DefaultRoom string

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

// ICEConfigError reports a malformed ICE configuration. It is kept separate
// from Load's error so the relay can still serve signaling and surface the
// problem through /webrtc/ice and a startup warning.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none are
// given) without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, _ := lookup(envVarLogFormat)
	envLogFormatSet := strings.TrimSpace(envLogFormat) != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, _ := lookup(envVarLogLevel)
	envLogLevelSet := strings.TrimSpace(envLogLevel) != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := DefaultListenAddr
	if port := envOrDefault(lookup, envVarPort, ""); port != "" {
		listenAddr = ":" + strings.TrimSpace(port)
	}
	listenAddr = envOrDefault(lookup, envVarListenAddr, listenAddr)

	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, envOrDefault(lookup, envVarFrontendURL, ""))
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTTTLSeconds, err := envInt64OrDefault(lookup, envVarTURNRESTTTLSeconds, DefaultTURNRESTTTLSeconds)
	if err != nil {
		return Config{}, err
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)
	turnRESTRealm := envOrDefault(lookup, envVarTURNRESTRealm, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	authModeDefault := envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode))
	apiKey := envOrDefault(lookup, envVarAPIKey, "")
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")

	signalingAuthTimeout, err := envDurationOrDefault(lookup, envVarSignalingAuthTimeout, DefaultSignalingAuthTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueLength, err := envIntOrDefault(lookup, envVarSendQueueLength, DefaultSendQueueLength)
	if err != nil {
		return Config{}, err
	}
	maxConnections, err := envIntOrDefault(lookup, envVarMaxConnections, 0)
	if err != nil {
		return Config{}, err
	}
	trustClientFrom, err := envBoolOrDefault(lookup, envVarTrustClientFrom, false)
	if err != nil {
		return Config{}, err
	}
	defaultRoom := envOrDefault(lookup, envVarDefaultRoom, "")

	fs := flag.NewFlagSet("aero-call-signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
		authModeStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+" or "+envVarPort+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.StringVar(&authModeStr, "auth-mode", authModeDefault, "Signaling auth mode: none, api_key, or jwt (env "+envVarAuthMode+")")
	fs.DurationVar(&signalingAuthTimeout, "signaling-auth-timeout", signalingAuthTimeout, "Time allowed for the first auth message (env "+envVarSignalingAuthTimeout+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close signaling connections idle for this long (env "+envVarWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Ping interval for signaling connections (must be < --ws-idle-timeout; env "+envVarWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling messages per second per connection (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&sendQueueLength, "send-queue-length", sendQueueLength, "Outbound frames buffered per connection before it is dropped (env "+envVarSendQueueLength+")")
	fs.IntVar(&maxConnections, "max-connections", maxConnections, "Maximum concurrent signaling connections (0 = unlimited; env "+envVarMaxConnections+")")
	fs.BoolVar(&trustClientFrom, "trust-client-from", trustClientFrom, "Relay the caller id sent by clients instead of binding it to the registered id (env "+envVarTrustClientFrom+")")
	fs.StringVar(&defaultRoom, "default-room", defaultRoom, "Room joined by connections that do not pass ?room= (env "+envVarDefaultRoom+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")
	fs.StringVar(&turnRESTRealm, "turn-rest-realm", turnRESTRealm, "TURN realm (coturn config; "+envVarTURNRESTRealm+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}
	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envVarAllowedOrigins, err)
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if authMode == AuthModeAPIKey && strings.TrimSpace(apiKey) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarAPIKey, envVarAuthMode, AuthModeAPIKey)
	}
	if authMode == AuthModeJWT && strings.TrimSpace(jwtSecret) == "" {
		return Config{}, fmt.Errorf("%s must be set when %s=%s", envVarJWTSecret, envVarAuthMode, AuthModeJWT)
	}
	if signalingAuthTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-auth-timeout must be > 0", envVarSignalingAuthTimeout)
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-idle-timeout must be > 0", envVarWSIdleTimeout)
	}
	if wsPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be > 0", envVarWSPingInterval)
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be < %s/--ws-idle-timeout", envVarWSPingInterval, envVarWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if sendQueueLength <= 0 {
		return Config{}, fmt.Errorf("%s/--send-queue-length must be > 0", envVarSendQueueLength)
	}
	if maxConnections < 0 {
		return Config{}, fmt.Errorf("%s/--max-connections must be >= 0", envVarMaxConnections)
	}
	if strings.TrimSpace(turnRESTSharedSecret) != "" {
		if turnRESTTTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s must be > 0 when %s is set", envVarTURNRESTTTLSeconds, envVarTURNRESTSharedSecret)
		}
		if strings.TrimSpace(turnRESTUsernamePrefix) == "" {
			return Config{}, fmt.Errorf("%s must be non-empty when %s is set", envVarTURNRESTUsernamePrefix, envVarTURNRESTSharedSecret)
		}
		if strings.Contains(turnRESTUsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	cfg := Config{
		ListenAddr:      strings.TrimSpace(listenAddr),
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		AuthMode:             authMode,
		APIKey:               apiKey,
		JWTSecret:            jwtSecret,
		SignalingAuthTimeout: signalingAuthTimeout,

		WSIdleTimeout:                 wsIdleTimeout,
		WSPingInterval:                wsPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SendQueueLength:               sendQueueLength,
		MaxConnections:                maxConnections,

		TrustClientFrom: trustClientFrom,
		DefaultRoom:     strings.TrimSpace(defaultRoom),

		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
			Realm:          turnRESTRealm,
		},
	}

	iceServers, err := iceServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, cfg.TURNREST.Enabled())
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s, %s, or %s)", envVarAuthMode, raw, AuthModeNone, AuthModeAPIKey, AuthModeJWT)
	}
}

// parseAllowedOrigins accepts a comma-separated list of full origins, "*" and
// "null", returning them normalized.
func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			out = append(out, entry)
			continue
		}
		o, ok := origin.Parse(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, o.String())
	}
	return out, nil
}
