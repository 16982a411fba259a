package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/realm/journal"
	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/retry"
)

const google = id.Label("google")

var alice = id.User("alice", "admin")

type staticResolver struct {
	issuer string
}

func (s staticResolver) Resolve(context.Context, id.URL) (*models.WellKnown, error) {
	return &models.WellKnown{
		Issuer:                s.issuer,
		JwksURI:               "https://accounts.example.com/jwks",
		AuthorizationEndpoint: "https://accounts.example.com/authorize",
		TokenEndpoint:         "https://accounts.example.com/token",
		UserInfoEndpoint:      "https://accounts.example.com/userinfo",
	}, nil
}

// capturingPublisher records every published envelope.
type capturingPublisher struct {
	mu        sync.Mutex
	envelopes []*journal.Envelope
}

func (p *capturingPublisher) Publish(_ context.Context, env *journal.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, env)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RecoveryRetry = retry.Never()
	return cfg
}

func newAggregate(j *journal.InMemory, cfg Config, opts ...Option) *Aggregate {
	deps := models.EvaluationDeps{
		Clock:    clock.WallClock,
		Resolver: staticResolver{issuer: "https://accounts.example.com"},
	}
	return New(cfg, j, j, deps, opts...)
}

func create() models.CreateRealm {
	return models.CreateRealm{
		ID: google, Name: "Google",
		OpenIDConfig: "https://accounts.example.com/.well-known/openid-configuration",
		Subject:      alice,
	}
}

func TestEvaluateLifecycle(t *testing.T) {
	j := journal.NewInMemory()
	pub := &capturingPublisher{}
	agg := newAggregate(j, testConfig(), WithPublisher(pub))
	ctx := context.Background()

	state, err := agg.Evaluate(ctx, create())
	require.NoError(t, err)
	active, ok := state.(models.Active)
	require.True(t, ok)
	assert.Equal(t, int64(1), active.Revision)

	state, err = agg.Evaluate(ctx, models.UpdateRealm{
		ID: google, Rev: 1, Name: "Google v2",
		OpenIDConfig: "https://accounts.example.com/.well-known/openid-configuration",
		Subject:      alice,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Rev())

	state, err = agg.Evaluate(ctx, models.DeprecateRealm{ID: google, Rev: 2, Subject: alice})
	require.NoError(t, err)
	_, ok = state.(models.Deprecated)
	require.True(t, ok)
	assert.Equal(t, int64(3), state.Rev())

	// Revisions are persisted with no gaps, in order.
	events, err := j.Events(ctx, google, 1)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, env := range events {
		assert.Equal(t, int64(i+1), env.Rev)
		assert.Equal(t, models.TagRealm, env.Tag)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.envelopes, 3)
}

func TestEvaluateRejectionsAreNotPersisted(t *testing.T) {
	j := journal.NewInMemory()
	agg := newAggregate(j, testConfig())
	ctx := context.Background()

	_, err := agg.Evaluate(ctx, create())
	require.NoError(t, err)

	_, err = agg.Evaluate(ctx, create())
	assert.Equal(t, models.RealmAlreadyExists{ID: google}, err)

	_, err = agg.Evaluate(ctx, models.UpdateRealm{
		ID: google, Rev: 7, Name: "x",
		OpenIDConfig: "https://accounts.example.com/.well-known/openid-configuration",
		Subject:      alice,
	})
	assert.Equal(t, models.IncorrectRev{Provided: 7, Expected: 1}, err)

	events, err := j.Events(ctx, google, 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCurrentStateObservesPersistedEvents(t *testing.T) {
	j := journal.NewInMemory()
	agg := newAggregate(j, testConfig())
	ctx := context.Background()

	state, err := agg.CurrentState(ctx, google)
	require.NoError(t, err)
	assert.Equal(t, models.Initial{}, state)

	_, err = agg.Evaluate(ctx, create())
	require.NoError(t, err)

	state, err = agg.CurrentState(ctx, google)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Rev())
}

func TestRecoveryFromJournal(t *testing.T) {
	j := journal.NewInMemory()
	ctx := context.Background()

	first := newAggregate(j, testConfig())
	_, err := first.Evaluate(ctx, create())
	require.NoError(t, err)
	_, err = first.Evaluate(ctx, models.DeprecateRealm{ID: google, Rev: 1, Subject: alice})
	require.NoError(t, err)

	// A fresh runtime over the same journal reproduces the state.
	second := newAggregate(j, testConfig())
	state, err := second.CurrentState(ctx, google)
	require.NoError(t, err)
	deprecated, ok := state.(models.Deprecated)
	require.True(t, ok)
	assert.Equal(t, int64(2), deprecated.Revision)
}

func TestSnapshotEveryN(t *testing.T) {
	j := journal.NewInMemory()
	cfg := testConfig()
	cfg.SnapshotEvery = 2
	agg := newAggregate(j, cfg)
	ctx := context.Background()

	_, err := agg.Evaluate(ctx, create())
	require.NoError(t, err)
	_, err = agg.Evaluate(ctx, models.UpdateRealm{
		ID: google, Rev: 1, Name: "Google v2",
		OpenIDConfig: "https://accounts.example.com/.well-known/openid-configuration",
		Subject:      alice,
	})
	require.NoError(t, err)

	state, rev, err := j.Load(ctx, google)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
	assert.Equal(t, int64(2), state.Rev())
}

func TestStateAt(t *testing.T) {
	j := journal.NewInMemory()
	agg := newAggregate(j, testConfig())
	ctx := context.Background()

	_, err := agg.Evaluate(ctx, create())
	require.NoError(t, err)
	_, err = agg.Evaluate(ctx, models.UpdateRealm{
		ID: google, Rev: 1, Name: "Google v2",
		OpenIDConfig: "https://accounts.example.com/.well-known/openid-configuration",
		Subject:      alice,
	})
	require.NoError(t, err)

	state, err := agg.StateAt(ctx, google, 1)
	require.NoError(t, err)
	active, ok := state.(models.Active)
	require.True(t, ok)
	assert.Equal(t, "Google", active.Name)

	state, err = agg.StateAt(ctx, google, 2)
	require.NoError(t, err)
	assert.Equal(t, "Google v2", state.(models.Active).Name)
}

func TestPassivationAndReactivation(t *testing.T) {
	j := journal.NewInMemory()
	cfg := testConfig()
	cfg.PassivateAfterIdle = 20 * time.Millisecond
	agg := newAggregate(j, cfg)
	ctx := context.Background()

	_, err := agg.Evaluate(ctx, create())
	require.NoError(t, err)

	// Wait for the idle window to pass, then confirm the realm is
	// rehydrated from the journal on the next interaction.
	require.Eventually(t, func() bool {
		agg.mu.Lock()
		defer agg.mu.Unlock()
		return len(agg.entities) == 0
	}, time.Second, 5*time.Millisecond)

	state, err := agg.CurrentState(ctx, google)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Rev())
}

// failingJournal wraps the in-memory journal and fails appends on demand.
type failingJournal struct {
	*journal.InMemory
	mu   sync.Mutex
	fail bool
}

func (f *failingJournal) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *failingJournal) Append(ctx context.Context, env *journal.Envelope) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("journal unavailable")
	}
	return f.InMemory.Append(ctx, env)
}

func TestAppendFailureFailsCommandAndRecovers(t *testing.T) {
	j := &failingJournal{InMemory: journal.NewInMemory()}
	deps := models.EvaluationDeps{
		Clock:    clock.WallClock,
		Resolver: staticResolver{issuer: "https://accounts.example.com"},
	}
	agg := New(testConfig(), j, j.InMemory, deps)
	ctx := context.Background()

	_, err := agg.Evaluate(ctx, create())
	require.NoError(t, err)

	j.setFail(true)
	_, err = agg.Evaluate(ctx, models.DeprecateRealm{ID: google, Rev: 1, Subject: alice})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))

	// The failed command left no event behind and the entity still
	// serves the journal-backed state.
	j.setFail(false)
	state, err := agg.CurrentState(ctx, google)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Rev())

	_, err = agg.Evaluate(ctx, models.DeprecateRealm{ID: google, Rev: 1, Subject: alice})
	require.NoError(t, err)
}
