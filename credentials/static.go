// Package credentials implements the auth handshake step of spec §4.A
// ("optional set-keyspace" is preceded by an optional auth exchange; a
// failure here is the spec's "authentication failure" critical error).
// Grounded on the teacher's credentials/static.go static-login provider,
// generalized from an RPC login call to a SASL-PLAIN-shaped token exchange
// and kept proactively-refreshing via the JWT expiry claim exactly as the
// teacher does.
package credentials

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/booknouse/cpp-driver/internal/xerrors"
)

// Login is the capability a PooledConnector needs to complete a SASL-PLAIN
// style handshake: produce the token bytes to send. Classifying the peer's
// response is left to the handshaker.
type Login interface {
	// Token returns the bearer token to present; SASL-PLAIN credentials set
	// this to a static encoding and never rotate it, JWT/OAuth providers
	// refresh it here.
	Token() (string, error)
}

// Static implements Login with a fixed user/password pair, issuing one
// token refresh whenever the previous token's JWT expiry claim is close.
// Mirrors staticCredentials in the teacher file, minus the RPC login call
// (this core's auth exchange happens inline in the connector handshake, not
// over a separate RPC client).
type Static struct {
	user     string
	password string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	issue     func(user, password string) (token string, err error)
}

func NewStatic(user, password string, issue func(user, password string) (string, error)) *Static {
	return &Static{user: user, password: password, issue: issue}
}

func (s *Static) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Now().Before(s.expiresAt) {
		return s.token, nil
	}

	token, err := s.issue(s.user, s.password)
	if err != nil {
		return "", xerrors.WithStackTrace(err)
	}

	expiresAt, err := expiryOf(token)
	if err != nil {
		// Not every handshake token is a JWT (plain SASL servers issue
		// opaque bearer tokens); fall back to a short TTL rather than
		// failing the handshake outright.
		expiresAt = time.Now().Add(time.Minute)
	}

	s.token = token
	// Refresh at the midpoint of the token's lifetime, same as the
	// teacher's staticCredentials.Token.
	s.expiresAt = time.Now().Add(time.Until(expiresAt) / 2)

	return s.token, nil
}

func expiryOf(raw string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, xerrors.WithStackTrace(err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("token carries no exp claim")
	}

	return claims.ExpiresAt.Time, nil
}
