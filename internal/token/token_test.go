package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-license-secret")

func testClaims(now time.Time) *Claims {
	return &Claims{
		Subject:    "cust_123",
		Tier:       "team",
		Features:   []string{"packages", "sbom", "team-sync"},
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(7 * 24 * time.Hour).Unix(),
		MachineID:  "machine-a",
		LicenseKey: "OMG-abc",
	}
}

func TestMintVerifyRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	claims := testClaims(now)

	signed, err := Mint(claims, testSecret)
	require.NoError(t, err)
	assert.Len(t, strings.Split(signed, "."), 3)

	got, err := Verify(signed, testSecret, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, claims.Subject, got.Subject)
	assert.Equal(t, claims.Tier, got.Tier)
	assert.Equal(t, claims.Features, got.Features)
	assert.Equal(t, claims.MachineID, got.MachineID)
	assert.Equal(t, claims.LicenseKey, got.LicenseKey)
	assert.Equal(t, claims.IssuedAt, got.IssuedAt)
	assert.Equal(t, claims.ExpiresAt, got.ExpiresAt)
}

func TestMintIsDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first, err := Mint(testClaims(now), testSecret)
	require.NoError(t, err)
	second, err := Mint(testClaims(now), testSecret)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestVerifyExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	claims := testClaims(now)

	signed, err := Mint(claims, testSecret)
	require.NoError(t, err)

	_, err = Verify(signed, testSecret, now.Add(8*24*time.Hour))
	assert.ErrorIs(t, err, ErrExpired)

	// Exactly at exp counts as expired.
	_, err = Verify(signed, testSecret, time.Unix(claims.ExpiresAt, 0))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyWrongSecret(t *testing.T) {
	now := time.Now()
	signed, err := Mint(testClaims(now), testSecret)
	require.NoError(t, err)

	_, err = Verify(signed, []byte("a-different-secret"), now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyTamperedPayload(t *testing.T) {
	now := time.Now()
	signed, err := Mint(testClaims(now), testSecret)
	require.NoError(t, err)

	parts := strings.Split(signed, ".")
	// Swap the payload for one claiming enterprise tier.
	forged := &Claims{
		Subject:    "cust_123",
		Tier:       "enterprise",
		Features:   []string{"sso"},
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(24 * time.Hour).Unix(),
		LicenseKey: "OMG-abc",
	}
	forgedToken, err := Mint(forged, testSecret)
	require.NoError(t, err)
	forgedParts := strings.Split(forgedToken, ".")

	tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]
	_, err = Verify(tampered, testSecret, now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyMalformed(t *testing.T) {
	now := time.Now()

	for _, raw := range []string{
		"",
		"not-a-token",
		"one.two",
		"a.b.c.d",
		"!!!.###.$$$",
	} {
		_, err := Verify(raw, testSecret, now)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", raw)
	}
}
