package models

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "aegis/pkg/domain"
)

var (
	now     = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	alice   = id.User("alice", "admin")
	bob     = id.User("bob", "admin")
	google  = id.Label("google")
	cfgURL  = id.URL("https://accounts.google.com/.well-known/openid-configuration")
	cfg2URL = id.URL("https://accounts.google.com/v2/.well-known/openid-configuration")
)

func testKeySet(t *testing.T) jose.JSONWebKeySet {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     "k1",
		Algorithm: "RS256",
		Use:       "sig",
	}}}
}

// staticResolver serves a fixed well-known regardless of the config URL.
type staticResolver struct {
	wk  *WellKnown
	err error
}

func (s staticResolver) Resolve(context.Context, id.URL) (*WellKnown, error) {
	return s.wk, s.err
}

// staticIssuers claims a single issuer for a fixed realm.
type staticIssuers struct {
	issuer string
	owner  id.Label
}

func (s staticIssuers) IssuerOwner(_ context.Context, issuer string) (id.Label, bool, error) {
	if issuer == s.issuer {
		return s.owner, true, nil
	}
	return "", false, nil
}

func testWellKnown(t *testing.T) *WellKnown {
	t.Helper()
	return &WellKnown{
		Issuer:                "https://accounts.google.com",
		JwksURI:               "https://accounts.google.com/jwks",
		AuthorizationEndpoint: "https://accounts.google.com/authorize",
		TokenEndpoint:         "https://accounts.google.com/token",
		UserInfoEndpoint:      "https://accounts.google.com/userinfo",
		GrantTypes:            []id.GrantType{id.GrantTypeAuthorizationCode, id.GrantTypeRefreshToken},
		Keys:                  testKeySet(t),
	}
}

func testDeps(t *testing.T) EvaluationDeps {
	t.Helper()
	return EvaluationDeps{
		Clock:    testclock.NewClock(now),
		Resolver: staticResolver{wk: testWellKnown(t)},
	}
}

func created(t *testing.T) RealmCreated {
	t.Helper()
	event, err := Evaluate(context.Background(), testDeps(t), Initial{},
		CreateRealm{ID: google, Name: "Google", OpenIDConfig: cfgURL, Subject: alice})
	require.NoError(t, err)
	return event.(RealmCreated)
}

func TestEvaluateCreate(t *testing.T) {
	event := created(t)
	assert.Equal(t, google, event.ID)
	assert.Equal(t, int64(1), event.Rev)
	assert.Equal(t, "Google", event.Name)
	assert.Equal(t, "https://accounts.google.com", event.Issuer)
	assert.Equal(t, now, event.Instant)
	assert.Equal(t, alice, event.Subject)
	assert.Len(t, event.Keys.Keys, 1)
	assert.Equal(t, []id.GrantType{id.GrantTypeAuthorizationCode, id.GrantTypeRefreshToken}, event.GrantTypes)
}

func TestEvaluateCreateOnExistingRealm(t *testing.T) {
	state := Next(Initial{}, created(t))

	_, err := Evaluate(context.Background(), testDeps(t), state,
		CreateRealm{ID: google, Name: "Google", OpenIDConfig: cfgURL, Subject: alice})
	assert.Equal(t, RealmAlreadyExists{ID: google}, err)

	deprecated := Next(state, RealmDeprecated{ID: google, Rev: 2, Instant: now, Subject: alice})
	_, err = Evaluate(context.Background(), testDeps(t), deprecated,
		CreateRealm{ID: google, Name: "Google", OpenIDConfig: cfgURL, Subject: alice})
	assert.Equal(t, RealmAlreadyExists{ID: google}, err)
}

func TestEvaluateUpdate(t *testing.T) {
	state := Next(Initial{}, created(t))

	_, err := Evaluate(context.Background(), testDeps(t), Initial{},
		UpdateRealm{ID: google, Rev: 1, Name: "Google", OpenIDConfig: cfgURL, Subject: alice})
	assert.Equal(t, RealmNotFound{ID: google}, err)

	_, err = Evaluate(context.Background(), testDeps(t), state,
		UpdateRealm{ID: google, Rev: 4, Name: "Google", OpenIDConfig: cfgURL, Subject: alice})
	assert.Equal(t, IncorrectRev{Provided: 4, Expected: 1}, err)

	event, err := Evaluate(context.Background(), testDeps(t), state,
		UpdateRealm{ID: google, Rev: 1, Name: "Google v2", OpenIDConfig: cfg2URL, Subject: bob})
	require.NoError(t, err)
	updated := event.(RealmUpdated)
	assert.Equal(t, int64(2), updated.Rev)
	assert.Equal(t, "Google v2", updated.Name)
	assert.Equal(t, cfg2URL, updated.OpenIDConfig)
	assert.Equal(t, bob, updated.Subject)
}

func TestEvaluateUpdateRevivesDeprecatedRealm(t *testing.T) {
	active := Next(Initial{}, created(t))
	deprecated := Next(active, RealmDeprecated{ID: google, Rev: 2, Instant: now, Subject: alice})

	event, err := Evaluate(context.Background(), testDeps(t), deprecated,
		UpdateRealm{ID: google, Rev: 2, Name: "Google again", OpenIDConfig: cfgURL, Subject: bob})
	require.NoError(t, err)

	state := Next(deprecated, event)
	revived, ok := state.(Active)
	require.True(t, ok)
	assert.Equal(t, int64(3), revived.Revision)
	assert.Equal(t, "Google again", revived.Name)
	assert.Equal(t, alice, revived.CreatedBy)
	assert.Equal(t, bob, revived.UpdatedBy)
}

func TestEvaluateDeprecate(t *testing.T) {
	state := Next(Initial{}, created(t))

	_, err := Evaluate(context.Background(), testDeps(t), Initial{},
		DeprecateRealm{ID: google, Rev: 1, Subject: alice})
	assert.Equal(t, RealmNotFound{ID: google}, err)

	_, err = Evaluate(context.Background(), testDeps(t), state,
		DeprecateRealm{ID: google, Rev: 2, Subject: alice})
	assert.Equal(t, IncorrectRev{Provided: 2, Expected: 1}, err)

	event, err := Evaluate(context.Background(), testDeps(t), state,
		DeprecateRealm{ID: google, Rev: 1, Subject: bob})
	require.NoError(t, err)

	next := Next(state, event)
	deprecated, ok := next.(Deprecated)
	require.True(t, ok)
	assert.Equal(t, int64(2), deprecated.Revision)
	assert.Equal(t, bob, deprecated.UpdatedBy)

	_, err = Evaluate(context.Background(), testDeps(t), next,
		DeprecateRealm{ID: google, Rev: 2, Subject: alice})
	assert.Equal(t, RealmAlreadyDeprecated{ID: google}, err)
}

func TestEvaluateRejectsDuplicateIssuer(t *testing.T) {
	deps := testDeps(t)
	deps.Issuers = staticIssuers{issuer: "https://accounts.google.com", owner: "other"}

	_, err := Evaluate(context.Background(), deps, Initial{},
		CreateRealm{ID: google, Name: "Google", OpenIDConfig: cfgURL, Subject: alice})
	assert.Equal(t, DuplicateIssuer{Issuer: "https://accounts.google.com", Existing: "other"}, err)

	// The realm that already owns the issuer may refresh itself.
	deps.Issuers = staticIssuers{issuer: "https://accounts.google.com", owner: google}
	state := Next(Initial{}, created(t))
	_, err = Evaluate(context.Background(), deps, state,
		UpdateRealm{ID: google, Rev: 1, Name: "Google", OpenIDConfig: cfgURL, Subject: alice})
	assert.NoError(t, err)
}

func TestNextIsTotal(t *testing.T) {
	create := created(t)
	active := Next(Initial{}, create)
	deprecate := RealmDeprecated{ID: google, Rev: 2, Instant: now, Subject: alice}
	deprecated := Next(active, deprecate)

	// Combinations outside the lifecycle leave the state untouched.
	assert.Equal(t, active, Next(active, create))
	assert.Equal(t, deprecated, Next(deprecated, deprecate))
	assert.Equal(t, Initial{}, Next(Initial{}, deprecate))
	update := RealmUpdated{ID: google, Rev: 2, Name: "x", OpenIDConfig: cfgURL, Instant: now, Subject: alice}
	assert.Equal(t, Initial{}, Next(Initial{}, update))
}

func TestReplayIsPrefixIndependent(t *testing.T) {
	create := created(t)
	update := RealmUpdated{
		ID: google, Rev: 2, Name: "Google v2", OpenIDConfig: cfg2URL,
		Issuer: "https://accounts.google.com", Keys: create.Keys,
		AuthorizationEndpoint: create.AuthorizationEndpoint,
		TokenEndpoint:         create.TokenEndpoint,
		UserInfoEndpoint:      create.UserInfoEndpoint,
		Instant:               now.Add(time.Hour), Subject: bob,
	}
	deprecate := RealmDeprecated{ID: google, Rev: 3, Instant: now.Add(2 * time.Hour), Subject: bob}
	events := []Event{create, update, deprecate}

	var oneShot State = Initial{}
	for _, e := range events {
		oneShot = Next(oneShot, e)
	}

	// Replaying through an intermediate materialization gives the same state.
	var prefix State = Initial{}
	prefix = Next(prefix, events[0])
	for _, e := range events[1:] {
		prefix = Next(prefix, e)
	}
	assert.Equal(t, oneShot, prefix)

	final, ok := oneShot.(Deprecated)
	require.True(t, ok)
	assert.Equal(t, int64(3), final.Revision)
	assert.Equal(t, alice, final.CreatedBy)
	assert.Equal(t, bob, final.UpdatedBy)
}

func TestResourceOf(t *testing.T) {
	active := Next(Initial{}, created(t)).(Active)
	res, ok := ResourceOf(active)
	require.True(t, ok)
	assert.False(t, res.Deprecated)
	assert.Equal(t, []string{ResourceTypeRealm}, res.Types)
	assert.Equal(t, "https://accounts.google.com", res.Issuer)
	require.NotNil(t, res.Endpoints)
	assert.Equal(t, active.TokenEndpoint, res.Endpoints.Token)
	assert.Len(t, res.Keys.Keys, 1)

	deprecated := Next(active, RealmDeprecated{ID: google, Rev: 2, Instant: now, Subject: bob}).(Deprecated)
	res, ok = ResourceOf(deprecated)
	require.True(t, ok)
	assert.True(t, res.Deprecated)
	assert.Empty(t, res.Issuer)
	assert.Nil(t, res.Endpoints)
	assert.Empty(t, res.Keys.Keys)

	_, ok = ResourceOf(Initial{})
	assert.False(t, ok)
}
