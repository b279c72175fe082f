// Package auth verifies the credential a signaling client presents before it
// may register or relay anything.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
)

var (
	ErrMissingCredentials  = errors.New("missing credentials")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUnsupportedAuthMode = errors.New("unsupported auth mode")
)

// Identity is what a verified credential says about its holder. Both fields
// are empty for API keys.
type Identity struct {
	// Subject is the JWT `sub` claim. When set, the connection may only
	// register as this user id.
	Subject string
	// SessionID is the JWT `sid` claim.
	SessionID string
}

type Verifier interface {
	Verify(credential string) (Identity, error)
}

// NewVerifier returns the verifier for cfg.AuthMode. AUTH_MODE=none yields a
// nil Verifier.
func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return nil, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedAuthMode, cfg.AuthMode)
	}
}

// CredentialFromQuery reads ?apiKey= or ?token= depending on mode.
func CredentialFromQuery(mode config.AuthMode, q url.Values) (string, error) {
	return pick(mode, strings.TrimSpace(q.Get("apiKey")), strings.TrimSpace(q.Get("token")))
}

// CredentialFromAuthMessage picks the credential out of an in-band auth frame.
func CredentialFromAuthMessage(mode config.AuthMode, apiKey, token string) (string, error) {
	return pick(mode, strings.TrimSpace(apiKey), strings.TrimSpace(token))
}

// CredentialFromRequest reads a credential from HTTP headers, falling back to
// the query string. Both modes accept `Authorization: Bearer|ApiKey <cred>` and
// `X-API-Key`.
func CredentialFromRequest(mode config.AuthMode, r *http.Request) (string, error) {
	if mode != config.AuthModeAPIKey && mode != config.AuthModeJWT {
		return "", fmt.Errorf("%w %q", ErrUnsupportedAuthMode, mode)
	}
	if scheme, cred, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " "); ok {
		if strings.EqualFold(scheme, "bearer") || strings.EqualFold(scheme, "apikey") {
			if cred = strings.TrimSpace(cred); cred != "" {
				return cred, nil
			}
		}
	}
	if cred := strings.TrimSpace(r.Header.Get("X-API-Key")); cred != "" {
		return cred, nil
	}
	return CredentialFromQuery(mode, r.URL.Query())
}

func pick(mode config.AuthMode, apiKey, token string) (string, error) {
	var cred string
	switch mode {
	case config.AuthModeAPIKey:
		cred = apiKey
	case config.AuthModeJWT:
		cred = token
	default:
		return "", fmt.Errorf("%w %q", ErrUnsupportedAuthMode, mode)
	}
	if cred == "" {
		return "", ErrMissingCredentials
	}
	return cred, nil
}
