package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/realm/index"
	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
)

const issuer = "https://accounts.google.com"

type fixture struct {
	key      *rsa.PrivateKey
	idx      *index.InMemory
	verifier *Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idx := index.NewInMemory()
	require.NoError(t, idx.Put(context.Background(), &models.Resource{
		ID:     "google",
		Rev:    1,
		Types:  []string{models.ResourceTypeRealm},
		Issuer: issuer,
		Keys: jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig",
		}}},
		CreatedAt: time.Now(),
	}))

	return &fixture{key: key, idx: idx, verifier: NewVerifier(idx, nil)}
}

func (f *fixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func TestCallerComposition(t *testing.T) {
	f := newFixture(t)
	raw := f.sign(t, jwt.MapClaims{
		"iss":                issuer,
		"sub":                "u1",
		"preferred_username": "alice",
		"groups":             []string{"g1", "g2"},
	})

	caller, err := f.verifier.Caller(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, id.User("alice", "google"), caller.Subject)
	assert.Len(t, caller.Identities, 5)
	assert.True(t, caller.Is(id.Anonymous()))
	assert.True(t, caller.Is(id.Authenticated("google")))
	assert.True(t, caller.Is(id.User("alice", "google")))
	assert.True(t, caller.Is(id.Group("g1", "google")))
	assert.True(t, caller.Is(id.Group("g2", "google")))
}

func TestCallerFallsBackToSub(t *testing.T) {
	f := newFixture(t)
	raw := f.sign(t, jwt.MapClaims{"iss": issuer, "sub": "u1"})

	caller, err := f.verifier.Caller(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, id.User("u1", "google"), caller.Subject)
	// No groups: anonymous, authenticated and the user itself.
	assert.Len(t, caller.Identities, 3)
}

func TestCallerGroupsFromCommaSeparatedString(t *testing.T) {
	f := newFixture(t)
	raw := f.sign(t, jwt.MapClaims{
		"iss": issuer, "sub": "u1", "groups": "g1, g2, g3",
	})

	caller, err := f.verifier.Caller(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, caller.Is(id.Group("g1", "google")))
	assert.True(t, caller.Is(id.Group("g2", "google")))
	assert.True(t, caller.Is(id.Group("g3", "google")))
	assert.Len(t, caller.Identities, 6)
}

func TestCallerMalformedGroupsAreIgnored(t *testing.T) {
	f := newFixture(t)
	raw := f.sign(t, jwt.MapClaims{
		"iss": issuer, "sub": "u1", "groups": []any{"g1", 42},
	})

	caller, err := f.verifier.Caller(context.Background(), raw)
	require.NoError(t, err)
	assert.Len(t, caller.Identities, 3)
}

func TestCallerRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	_, err := f.verifier.Caller(context.Background(), "not-a-jwt")
	assert.Equal(t, InvalidAccessTokenFormat{}, err)
}

func TestCallerRejectsMissingIssuer(t *testing.T) {
	f := newFixture(t)
	raw := f.sign(t, jwt.MapClaims{"sub": "u1"})
	_, err := f.verifier.Caller(context.Background(), raw)
	assert.Equal(t, NoIssuer{}, err)
}

func TestCallerRejectsUnknownIssuer(t *testing.T) {
	f := newFixture(t)
	raw := f.sign(t, jwt.MapClaims{"iss": "https://unknown.example.com", "sub": "u1"})
	_, err := f.verifier.Caller(context.Background(), raw)
	assert.Equal(t, UnknownIssuer{Issuer: "https://unknown.example.com"}, err)
}

func TestCallerRejectsDeprecatedRealmIssuer(t *testing.T) {
	f := newFixture(t)
	// Deprecating the realm removes its keys from verification even though
	// the signature would still check out.
	require.NoError(t, f.idx.Put(context.Background(), &models.Resource{
		ID:         "google",
		Rev:        2,
		Types:      []string{models.ResourceTypeRealm},
		Deprecated: true,
	}))
	raw := f.sign(t, jwt.MapClaims{"iss": issuer, "sub": "u1"})
	_, err := f.verifier.Caller(context.Background(), raw)
	assert.Equal(t, UnknownIssuer{Issuer: issuer}, err)
}

func TestCallerRejectsMissingSubject(t *testing.T) {
	f := newFixture(t)
	raw := f.sign(t, jwt.MapClaims{"iss": issuer})
	_, err := f.verifier.Caller(context.Background(), raw)
	assert.Equal(t, NoSubject{}, err)
}

func TestCallerRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"iss": issuer, "sub": "u1"})
	tok.Header["kid"] = "k1"
	raw, err := tok.SignedString(other)
	require.NoError(t, err)

	_, err = f.verifier.Caller(context.Background(), raw)
	var rejection InvalidAccessToken
	assert.ErrorAs(t, err, &rejection)
}

func TestCallerRejectsExpiredToken(t *testing.T) {
	f := newFixture(t)
	raw := f.sign(t, jwt.MapClaims{
		"iss": issuer, "sub": "u1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := f.verifier.Caller(context.Background(), raw)
	var rejection InvalidAccessToken
	assert.ErrorAs(t, err, &rejection)
}

func TestCallerRejectsNotYetValidToken(t *testing.T) {
	f := newFixture(t)
	raw := f.sign(t, jwt.MapClaims{
		"iss": issuer, "sub": "u1",
		"nbf": time.Now().Add(time.Hour).Unix(),
	})

	_, err := f.verifier.Caller(context.Background(), raw)
	var rejection InvalidAccessToken
	assert.ErrorAs(t, err, &rejection)
}

func TestCallerRejectsUnknownKid(t *testing.T) {
	f := newFixture(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"iss": issuer, "sub": "u1"})
	tok.Header["kid"] = "k2"
	raw, err := tok.SignedString(f.key)
	require.NoError(t, err)

	_, err = f.verifier.Caller(context.Background(), raw)
	var rejection InvalidAccessToken
	assert.ErrorAs(t, err, &rejection)
}
