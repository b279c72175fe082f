package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens longer than this are rejected before any parsing.
const maxTokenLen = 16 * 1024

type sessionClaims struct {
	jwt.RegisteredClaims
	SID string `json:"sid,omitempty"`
}

// JWTVerifier accepts HS256 tokens signed with a shared secret. `exp` is
// required; `iat` and `nbf` are enforced when present.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

func (v *JWTVerifier) Verify(token string) (Identity, error) {
	if token == "" || len(token) > maxTokenLen || len(v.secret) == 0 {
		return Identity{}, ErrInvalidCredentials
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	var claims sessionClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return Identity{Subject: claims.Subject, SessionID: claims.SID}, nil
}
