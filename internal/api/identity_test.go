package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpick/trade-engine/internal/apperr"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func TestParseBearer(t *testing.T) {
	tok := sign(t, jwt.MapClaims{
		"sub":            "u-1",
		"email":          "u1@example.com",
		"cognito:groups": []string{"Players", "Admin"},
	})

	id, err := ParseBearer("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.Equal(t, "u1@example.com", id.Name, "name falls back to email")
	assert.True(t, id.InGroup("Admin"))
	assert.False(t, id.InGroup("admin"))
}

func TestParseBearer_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"basic auth": "Basic dTpw",
		"no token":   "Bearer ",
		"garbage":    "Bearer a.b.c",
		"no subject": "Bearer " + sign(t, jwt.MapClaims{"email": "x@example.com"}),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBearer(header)
			assert.ErrorIs(t, err, apperr.ErrUnauthorized)
		})
	}
}

func TestTokenParser_HMAC(t *testing.T) {
	p, err := NewTokenParser(TokenOptions{HMACSecret: []byte("k"), Issuer: "https://idp.example.com"})
	require.NoError(t, err)
	require.True(t, p.Verified())

	good := sign(t, jwt.MapClaims{"sub": "u-1", "iss": "https://idp.example.com", "cognito:groups": "Admin"})
	id, err := p.Parse("Bearer " + good)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.True(t, id.InGroup("Admin"))

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1", "iss": "https://idp.example.com", "cognito:groups": "Admin",
	}).SignedString([]byte("not-the-key"))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u-1", "iss": "https://idp.example.com",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"wrong key":    forged,
		"unsigned":     unsigned,
		"other issuer": sign(t, jwt.MapClaims{"sub": "u-1", "iss": "https://evil.example.com"}),
		"expired":      sign(t, jwt.MapClaims{"sub": "u-1", "iss": "https://idp.example.com", "exp": 1}),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Parse("Bearer " + tok)
			assert.ErrorIs(t, err, apperr.ErrUnauthorized)
		})
	}
}

func TestTokenParser_PublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	p, err := NewTokenParser(TokenOptions{PublicKeyPEM: pubPEM})
	require.NoError(t, err)

	good, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u-2"}).SignedString(key)
	require.NoError(t, err)
	id, err := p.Parse("Bearer " + good)
	require.NoError(t, err)
	assert.Equal(t, "u-2", id.UserID)

	// An HMAC token keyed with the public key bytes must not pass.
	confused, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-2"}).SignedString(pubPEM)
	require.NoError(t, err)
	_, err = p.Parse("Bearer " + confused)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = NewTokenParser(TokenOptions{PublicKeyPEM: []byte("not a key")})
	assert.Error(t, err)
}

func TestNewTokenParser_NoKeyDecodesOnly(t *testing.T) {
	p, err := NewTokenParser(TokenOptions{})
	require.NoError(t, err)
	assert.False(t, p.Verified())

	id, err := p.Parse("Bearer " + sign(t, jwt.MapClaims{"sub": "u-3"}))
	require.NoError(t, err)
	assert.Equal(t, "u-3", id.UserID)
}
