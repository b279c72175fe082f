// Package turnrest mints short-lived coturn credentials (the "TURN REST API"
// scheme, use-auth-secret in coturn) for the ICE servers handed to callers.
//
//	username   = <unix expiry>:<prefix>:<label>
//	credential = base64(hmac-sha1(shared secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	Now            func() time.Time
	// NewLabel produces the per-credential suffix. Defaults to a random UUID.
	NewLabel func() string
}

// FromConfig builds a Generator from the relay configuration. It returns nil
// when TURN REST is not enabled.
func FromConfig(cfg config.TurnRESTConfig) (*Generator, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	return NewGenerator(Config{
		SharedSecret:   cfg.SharedSecret,
		TTL:            time.Duration(cfg.TTLSeconds) * time.Second,
		UsernamePrefix: cfg.UsernamePrefix,
	})
}

type Generator struct {
	secret   []byte
	ttl      time.Duration
	prefix   string
	now      func() time.Time
	newLabel func() string
}

func NewGenerator(cfg Config) (*Generator, error) {
	switch {
	case cfg.SharedSecret == "":
		return nil, errors.New("turnrest: shared secret is required")
	case cfg.TTL < time.Second:
		return nil, errors.New("turnrest: ttl must be at least 1s")
	case cfg.UsernamePrefix == "":
		return nil, errors.New("turnrest: username prefix is required")
	case strings.Contains(cfg.UsernamePrefix, ":"):
		return nil, errors.New("turnrest: username prefix must not contain ':'")
	}
	g := &Generator{
		secret:   []byte(cfg.SharedSecret),
		ttl:      cfg.TTL,
		prefix:   cfg.UsernamePrefix,
		now:      cfg.Now,
		newLabel: cfg.NewLabel,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.newLabel == nil {
		g.newLabel = func() string { return uuid.NewString() }
	}
	return g, nil
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

// Generate mints credentials for label, or for a fresh random label when
// label is empty.
func (g *Generator) Generate(label string) (Credentials, error) {
	if label == "" {
		label = g.newLabel()
	}
	if strings.Contains(label, ":") {
		return Credentials{}, errors.New("turnrest: label must not contain ':'")
	}

	expires := g.now().UTC().Add(g.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + g.prefix + ":" + label

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Expires:    expires,
	}, nil
}

// Apply returns a copy of servers with creds set on every TURN entry. STUN
// entries are left untouched.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, s := range servers {
		out[i] = s
		if config.IsTURNServer(s) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}
