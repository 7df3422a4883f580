package gateway

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource returns the bearer token for the next request. An empty token
// sends no Authorization header.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns tok.
func StaticToken(tok string) TokenSource {
	return func(context.Context) (string, error) { return tok, nil }
}

// Claims is the JWT claim set shared by the client and the reference server.
type Claims struct {
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for userID valid for ttl.
func SignToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "feedsync",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// HS256Token mints a fresh token per request from a shared secret, for
// development setups where the daemon and the API share a key.
func HS256Token(secret []byte, userID string) TokenSource {
	return func(context.Context) (string, error) {
		return SignToken(secret, userID, 5*time.Minute)
	}
}
