package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned for tokens that are not three-segment JWTs.
var ErrNotJWT = errors.New("token is not a JWT")

// ErrNoExpiry is returned when a JWT carries no exp claim.
var ErrNoExpiry = errors.New("token has no exp claim")

// Claims is the subset of access-token claims the client cares about.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Inspect decodes the claims of raw without verifying the signature.
func Inspect(raw string) (Claims, error) {
	if strings.Count(raw, ".") != 2 {
		return Claims{}, ErrNotJWT
	}

	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &rc); err != nil {
		return Claims{}, ErrNotJWT
	}

	out := Claims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		out.ExpiresAt = rc.ExpiresAt.Time
	}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time
	}
	return out, nil
}

// ExpiresWithin reports whether raw is a JWT whose exp is at or before
// now+window. Opaque tokens and tokens without exp report false.
func ExpiresWithin(raw string, window time.Duration, now time.Time) bool {
	if window <= 0 || raw == "" {
		return false
	}
	c, err := Inspect(raw)
	if err != nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !c.ExpiresAt.After(now.Add(window))
}

// Expiry returns the exp claim of raw.
func Expiry(raw string) (time.Time, error) {
	c, err := Inspect(raw)
	if err != nil {
		return time.Time{}, err
	}
	if c.ExpiresAt.IsZero() {
		return time.Time{}, ErrNoExpiry
	}
	return c.ExpiresAt, nil
}
