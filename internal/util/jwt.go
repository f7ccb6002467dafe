// Package util holds the dashboard session token helpers. These tokens
// authenticate admin/dashboard users and are unrelated to the offline
// license tokens in internal/token.
package util

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var sessionSecret []byte

const sessionLifetime = 24 * time.Hour

// SetSessionSecret configures the signing key for session tokens. Call
// once at startup before serving requests.
func SetSessionSecret(secret string) {
	sessionSecret = []byte(secret)
}

// GenerateToken issues a session token for a dashboard user.
func GenerateToken(userID uint) (string, error) {
	if len(sessionSecret) == 0 {
		return "", errors.New("session secret not configured")
	}
	claims := jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", userID),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(sessionLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(sessionSecret)
}

// ValidateToken checks a session token and returns the user id it was
// issued for.
func ValidateToken(raw string) (uint, error) {
	claims := new(jwt.RegisteredClaims)
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return sessionSecret, nil
	})
	if err != nil || !tok.Valid {
		return 0, errors.New("invalid session token")
	}

	var userID uint
	if _, err := fmt.Sscanf(claims.Subject, "%d", &userID); err != nil {
		return 0, errors.New("invalid session subject")
	}
	return userID, nil
}
