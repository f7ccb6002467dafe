// Package token mints and verifies the offline license credential.
//
// The credential is a standard three-segment JWT signed with HS256. The
// CLI caches it and keeps checking it locally, so everything here is a
// pure function of (claims, secret, now): no clock sampling, no I/O.
// Revocation propagates when the client comes back for a refresh and the
// server-side key lookup fails, bounded by the token lifetime.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Verification failure taxonomy. Callers branch on these, so Verify
// never collapses them into one error.
var (
	ErrMalformed         = errors.New("token: malformed token")
	ErrSignatureMismatch = errors.New("token: signature mismatch")
	ErrExpired           = errors.New("token: token expired")
)

// Claims is the payload the CLI understands. Field names match the
// client's decoder exactly (sub/tier/features/exp/iat/mid/lic).
type Claims struct {
	Subject    string   `json:"sub"`
	Tier       string   `json:"tier"`
	Features   []string `json:"features"`
	ExpiresAt  int64    `json:"exp"`
	IssuedAt   int64    `json:"iat"`
	MachineID  string   `json:"mid,omitempty"`
	LicenseKey string   `json:"lic"`
}

// Valid implements jwt.Claims. Expiry is checked in Verify against a
// caller-supplied clock, not here.
func (c *Claims) Valid() error {
	return nil
}

// Mint signs claims with the server's license secret. IssuedAt and
// ExpiresAt are whatever the caller set; identical inputs produce an
// identical token.
func Mint(claims *Claims, secret []byte) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify checks the signature and expiry of a minted token and returns
// its claims. The HMAC comparison inside the jwt library is constant
// time. Structural problems map to ErrMalformed, a bad MAC or wrong
// secret to ErrSignatureMismatch, and exp <= now to ErrExpired.
func Verify(raw string, secret []byte, now time.Time) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSignatureMismatch
		}
		return secret, nil
	})
	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) {
			if vErr.Errors&jwt.ValidationErrorMalformed != 0 {
				return nil, ErrMalformed
			}
			if vErr.Errors&(jwt.ValidationErrorSignatureInvalid|jwt.ValidationErrorUnverifiable) != 0 {
				return nil, ErrSignatureMismatch
			}
		}
		return nil, ErrMalformed
	}

	if now.Unix() >= claims.ExpiresAt {
		return nil, ErrExpired
	}
	return claims, nil
}
