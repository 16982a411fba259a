package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/acls"
	"aegis/internal/realm/aggregate"
	"aegis/internal/realm/index"
	"aegis/internal/realm/journal"
	"aegis/internal/realm/models"
	"aegis/internal/realm/token"
	"aegis/internal/realm/wellknown"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/retry"
)

// fixture assembles the full realm subsystem over in-memory collaborators
// plus a fake OpenID Connect provider.
type fixture struct {
	service *Service
	idx     *index.InMemory
	acl     *acls.InMemory
	key     *rsa.PrivateKey
	issuer  string
	admin   id.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	issuer := srv.URL

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuer,
			"jwks_uri":               srv.URL + "/jwks",
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"userinfo_endpoint":      srv.URL + "/userinfo",
			"grant_types_supported":  []string{"authorization_code", "refresh_token"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig",
		}}})
	})

	j := journal.NewInMemory()
	idx := index.NewInMemory()
	resolver := wellknown.New(srv.Client(), wellknown.WithRetry(retry.Never()))

	aggCfg := aggregate.DefaultConfig()
	aggCfg.RecoveryRetry = retry.Never()
	agg := aggregate.New(aggCfg, j, j, models.EvaluationDeps{
		Clock:    clock.WallClock,
		Resolver: resolver,
		Issuers:  idx,
	})

	acl := acls.NewInMemory()
	admin := id.NewCaller(id.User("admin", "internal"))
	acl.Grant("/", PermissionRead, id.User("admin", "internal"))
	acl.Grant("/", PermissionWrite, id.User("admin", "internal"))

	verifier := token.NewVerifier(idx, nil)
	svc := New(agg, idx, verifier, func() acls.Acls { return acl })

	return &fixture{service: svc, idx: idx, acl: acl, key: key, issuer: issuer, admin: admin}
}

func (f *fixture) create(t *testing.T, label id.Label) *models.ResourceMetadata {
	t.Helper()
	meta, err := f.service.Create(context.Background(), f.admin, label, Fields{
		Name:         "Google",
		OpenIDConfig: id.URL(f.issuer + "/.well-known/openid-configuration"),
	})
	require.NoError(t, err)
	return meta
}

func (f *fixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func TestCreateAndFetch(t *testing.T) {
	f := newFixture(t)
	meta := f.create(t, "google")

	assert.Equal(t, id.Label("google"), meta.ID)
	assert.Equal(t, int64(1), meta.Rev)
	assert.False(t, meta.Deprecated)
	assert.Equal(t, []string{models.ResourceTypeRealm}, meta.Types)

	res, err := f.service.Fetch(context.Background(), f.admin, "google")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rev)
	assert.Equal(t, "Google", res.Name)
	assert.Equal(t, f.issuer, res.Issuer)
	assert.Equal(t, []id.GrantType{id.GrantTypeAuthorizationCode, id.GrantTypeRefreshToken}, res.GrantTypes)
	require.NotNil(t, res.Endpoints)
	assert.Len(t, res.Keys.Keys, 1)
}

func TestUpdateAndFetchByRev(t *testing.T) {
	f := newFixture(t)
	f.create(t, "google")
	ctx := context.Background()

	meta, err := f.service.Update(ctx, f.admin, "google", 1, Fields{
		Name:         "Google v2",
		OpenIDConfig: id.URL(f.issuer + "/.well-known/openid-configuration"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), meta.Rev)

	res, err := f.service.Fetch(ctx, f.admin, "google")
	require.NoError(t, err)
	assert.Equal(t, "Google v2", res.Name)

	// The previous revision stays addressable.
	res, err = f.service.FetchAt(ctx, f.admin, "google", 1)
	require.NoError(t, err)
	assert.Equal(t, "Google", res.Name)
	assert.Equal(t, int64(1), res.Rev)

	_, err = f.service.FetchAt(ctx, f.admin, "google", 9)
	assert.Equal(t, models.RealmNotFound{ID: "google"}, err)
}

func TestUpdateWithStaleRev(t *testing.T) {
	f := newFixture(t)
	f.create(t, "google")
	ctx := context.Background()

	_, err := f.service.Update(ctx, f.admin, "google", 1, Fields{
		Name:         "Google v2",
		OpenIDConfig: id.URL(f.issuer + "/.well-known/openid-configuration"),
	})
	require.NoError(t, err)

	_, err = f.service.Update(ctx, f.admin, "google", 1, Fields{
		Name:         "Google v3",
		OpenIDConfig: id.URL(f.issuer + "/.well-known/openid-configuration"),
	})
	assert.Equal(t, models.IncorrectRev{Provided: 1, Expected: 2}, err)
}

func TestDeprecateStopsTokenVerification(t *testing.T) {
	f := newFixture(t)
	f.create(t, "google")
	ctx := context.Background()

	raw := f.sign(t, jwt.MapClaims{"iss": f.issuer, "sub": "u1"})
	_, err := f.service.Caller(ctx, raw)
	require.NoError(t, err)

	meta, err := f.service.Deprecate(ctx, f.admin, "google", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), meta.Rev)
	assert.True(t, meta.Deprecated)

	_, err = f.service.Caller(ctx, raw)
	var rejection token.InvalidAccessToken
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, token.UnknownIssuer{Issuer: f.issuer}, rejection.Cause)
}

func TestCallerComposition(t *testing.T) {
	f := newFixture(t)
	f.create(t, "google")

	raw := f.sign(t, jwt.MapClaims{
		"iss":                f.issuer,
		"sub":                "u1",
		"preferred_username": "alice",
		"groups":             []string{"g1", "g2"},
	})
	caller, err := f.service.Caller(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, id.User("alice", "google"), caller.Subject)
	assert.True(t, caller.Is(id.Anonymous()))
	assert.True(t, caller.Is(id.Authenticated("google")))
	assert.True(t, caller.Is(id.Group("g1", "google")))
	assert.True(t, caller.Is(id.Group("g2", "google")))
	assert.Len(t, caller.Identities, 5)
}

func TestTokenRejectionsAreWrapped(t *testing.T) {
	f := newFixture(t)
	f.create(t, "google")

	_, err := f.service.Caller(context.Background(), "garbage")
	var rejection token.InvalidAccessToken
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, token.InvalidAccessTokenFormat{}, rejection.Cause)
}

func TestAccessDenied(t *testing.T) {
	f := newFixture(t)
	stranger := id.NewCaller(id.User("stranger", "elsewhere"))

	_, err := f.service.Create(context.Background(), stranger, "google", Fields{
		Name:         "Google",
		OpenIDConfig: id.URL(f.issuer + "/.well-known/openid-configuration"),
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = f.service.List(context.Background(), stranger)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestListSortedByCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two realms cannot share an issuer, so the second one gets a
	// handcrafted resource instead of going through create.
	f.create(t, "google")
	require.NoError(t, f.idx.Put(ctx, &models.Resource{
		ID: "older", Rev: 1, Types: []string{models.ResourceTypeRealm},
		Issuer:    "https://older.example.com",
		CreatedAt: time.Now().Add(-time.Hour),
	}))

	all, err := f.service.List(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, id.Label("older"), all[0].ID)
	assert.Equal(t, id.Label("google"), all[1].ID)
}

func TestDuplicateIssuerRejected(t *testing.T) {
	f := newFixture(t)
	f.create(t, "google")

	_, err := f.service.Create(context.Background(), f.admin, "gmail", Fields{
		Name:         "Gmail",
		OpenIDConfig: id.URL(f.issuer + "/.well-known/openid-configuration"),
	})
	var rejection models.DuplicateIssuer
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, id.Label("google"), rejection.Existing)
}
