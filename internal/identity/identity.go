// Package identity derives the authenticated identity from the opaque
// bearer credential. Local state (caches, gamification) is keyed by this
// identity so nothing leaks between accounts.
package identity

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/golang-jwt/jwt/v5"
)

// FromToken extracts the subject from a JWT bearer token. The token is not
// verified here — verification is the backend's job; the client only needs
// a stable key for local storage and channel names.
//
// Tokens that are not JWTs are, by contract, still opaque credentials: they
// map to a digest-derived identity instead of failing.
func FromToken(token string) string {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			return sub
		}
		if uid, ok := claims["user_id"].(string); ok && uid != "" {
			return uid
		}
	}

	sum := sha256.Sum256([]byte(token))
	return "anon-" + hex.EncodeToString(sum[:8])
}
