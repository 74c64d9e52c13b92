package kling

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTTL = 30 * time.Minute
	// tokenRefreshMargin renews the token well before expiry so an
	// in-flight request never carries a stale one.
	tokenRefreshMargin = 5 * time.Minute
)

// tokenSource mints and caches the short-lived JWTs Kling expects in the
// Authorization header. Tokens are signed HS256 with the secret key; the
// issuer claim carries the access key.
type tokenSource struct {
	accessKey string
	secretKey string
	now       func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenSource(accessKey, secretKey string) *tokenSource {
	return &tokenSource{
		accessKey: accessKey,
		secretKey: secretKey,
		now:       time.Now,
	}
}

// Token returns a valid signed JWT, minting a fresh one when the cached
// token is close to expiry.
func (ts *tokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.token != "" && now.Before(ts.expiresAt.Add(-tokenRefreshMargin)) {
		return ts.token, nil
	}

	expiresAt := now.Add(tokenTTL)
	claims := jwt.MapClaims{
		"iss": ts.accessKey,
		"exp": expiresAt.Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(ts.secretKey))
	if err != nil {
		return "", fmt.Errorf("kling: sign token: %w", err)
	}

	ts.token = signed
	ts.expiresAt = expiresAt
	return signed, nil
}
