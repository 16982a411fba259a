// Package aggregate hosts the per-realm single-writer actors. Each realm
// label owns one entity that serializes command evaluation, appends events
// to the journal before acknowledging, snapshots periodically and
// passivates when idle.
package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"aegis/internal/realm/journal"
	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/retry"
)

// Publisher broadcasts persisted events. Publication is best-effort; the
// journal is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, env *journal.Envelope) error
}

// Config carries the aggregate runtime tunables.
type Config struct {
	// AskTimeout bounds how long a caller waits for the entity to pick up
	// and answer a request.
	AskTimeout time.Duration
	// EvaluationTimeout bounds a single command evaluation, including the
	// discovery fetch.
	EvaluationTimeout time.Duration
	// SnapshotEvery takes a snapshot after this many events. Zero disables
	// snapshotting.
	SnapshotEvery int
	// PassivateAfterIdle stops an entity once no interaction happened for
	// this long. Zero disables idle passivation.
	PassivateAfterIdle time.Duration
	// PassivateAfterAge stops an entity this long after recovery
	// completed, regardless of traffic. Zero disables it.
	PassivateAfterAge time.Duration
	// RecoveryRetry is applied to journal and snapshot reads during
	// entity recovery.
	RecoveryRetry retry.Strategy
}

// DefaultConfig returns the runtime defaults.
func DefaultConfig() Config {
	return Config{
		AskTimeout:         5 * time.Second,
		EvaluationTimeout:  15 * time.Second,
		SnapshotEvery:      50,
		PassivateAfterIdle: 10 * time.Minute,
		PassivateAfterAge:  2 * time.Hour,
		RecoveryRetry:      retry.Exponential(100*time.Millisecond, 5*time.Second, 5),
	}
}

// Aggregate dispatches commands to per-label entities.
type Aggregate struct {
	cfg       Config
	journal   journal.EventJournal
	snapshots journal.SnapshotStore
	deps      models.EvaluationDeps
	publisher Publisher
	logger    *slog.Logger

	mu       sync.Mutex
	entities map[id.Label]*entity
}

// Option configures the Aggregate.
type Option func(*Aggregate)

// WithPublisher sets the post-append event publisher.
func WithPublisher(p Publisher) Option {
	return func(a *Aggregate) {
		a.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregate) {
		a.logger = l
	}
}

// New creates the aggregate runtime.
func New(cfg Config, j journal.EventJournal, snapshots journal.SnapshotStore, deps models.EvaluationDeps, opts ...Option) *Aggregate {
	a := &Aggregate{
		cfg:       cfg,
		journal:   j,
		snapshots: snapshots,
		deps:      deps,
		logger:    slog.Default(),
		entities:  make(map[id.Label]*entity),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// errPassivated is replied to requests caught in a passivating entity; the
// dispatcher transparently retries against a fresh one.
var errPassivated = errors.New("entity passivated")

type requestKind int

const (
	kindEvaluate requestKind = iota
	kindState
)

type request struct {
	kind  requestKind
	cmd   models.Command
	reply chan response
}

type response struct {
	state models.State
	err   error
}

// Evaluate runs the command on the realm's entity and returns the new
// state. Domain rejections come back as error values; infrastructure
// failures carry a domain-errors code.
func (a *Aggregate) Evaluate(ctx context.Context, cmd models.Command) (models.State, error) {
	return a.ask(ctx, cmd.RealmID(), request{kind: kindEvaluate, cmd: cmd})
}

// CurrentState returns the realm's state, observing every event persisted
// before the call.
func (a *Aggregate) CurrentState(ctx context.Context, realm id.Label) (models.State, error) {
	return a.ask(ctx, realm, request{kind: kindState})
}

// FoldLeft replays the realm's events from the start, folding them with f.
// It reads the journal directly and does not wake the entity.
func (a *Aggregate) FoldLeft(ctx context.Context, realm id.Label, f func(models.State, models.Event) models.State) (models.State, error) {
	events, err := a.journal.Events(ctx, realm, 1)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to replay realm "+realm.String())
	}
	var state models.State = models.Initial{}
	for _, env := range events {
		state = f(state, env.Event)
	}
	return state, nil
}

// StateAt replays the realm up to and including rev.
func (a *Aggregate) StateAt(ctx context.Context, realm id.Label, rev int64) (models.State, error) {
	return a.FoldLeft(ctx, realm, func(s models.State, e models.Event) models.State {
		if e.Revision() > rev {
			return s
		}
		return models.Next(s, e)
	})
}

// ask dispatches a request to the realm's entity, bounded by the ask
// timeout. A request caught by passivation is retried on a fresh entity.
func (a *Aggregate) ask(ctx context.Context, realm id.Label, req request) (models.State, error) {
	deadline := a.deps.Clock.Now().Add(a.cfg.AskTimeout)
	timeout := a.deps.Clock.After(a.cfg.AskTimeout)

	for {
		if !a.deps.Clock.Now().Before(deadline) {
			return nil, dErrors.New(dErrors.CodeTimeout, "realm "+realm.String()+" did not answer within the ask timeout")
		}

		e := a.entity(realm)
		req.reply = make(chan response, 1)

		select {
		case e.inbox <- req:
		case <-e.done:
			continue
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "request cancelled")
		case <-timeout:
			return nil, dErrors.New(dErrors.CodeTimeout, "realm "+realm.String()+" did not answer within the ask timeout")
		}

		select {
		case resp := <-req.reply:
			if errors.Is(resp.err, errPassivated) {
				continue
			}
			return resp.state, resp.err
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "request cancelled")
		case <-timeout:
			return nil, dErrors.New(dErrors.CodeTimeout, "realm "+realm.String()+" did not answer within the ask timeout")
		}
	}
}

// entity returns the running entity for the label, starting one on demand.
func (a *Aggregate) entity(realm id.Label) *entity {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entities[realm]; ok {
		return e
	}
	e := &entity{
		label: realm,
		inbox: make(chan request, 16),
		done:  make(chan struct{}),
	}
	a.entities[realm] = e
	go a.run(e)
	return e
}

// entity is the single writer for one realm.
type entity struct {
	label id.Label
	inbox chan request
	done  chan struct{}
}

// run recovers the entity state and serves requests until passivation.
func (a *Aggregate) run(e *entity) {
	defer a.remove(e)

	state, err := a.recover(e.label)
	if err != nil {
		a.logger.Error("realm recovery failed", "realm", e.label, "error", err)
		a.failPending(e, dErrors.Wrap(err, dErrors.CodeInternal, "failed to recover realm "+e.label.String()))
		return
	}

	eventsSinceSnapshot := 0

	var idle clockTimer
	if a.cfg.PassivateAfterIdle > 0 {
		idle = a.deps.Clock.NewTimer(a.cfg.PassivateAfterIdle)
		defer idle.Stop()
	}
	var maxAge <-chan time.Time
	if a.cfg.PassivateAfterAge > 0 {
		maxAge = a.deps.Clock.After(a.cfg.PassivateAfterAge)
	}

	for {
		var idleCh <-chan time.Time
		if idle != nil {
			idleCh = idle.Chan()
		}
		select {
		case req := <-e.inbox:
			if idle != nil {
				idle.Reset(a.cfg.PassivateAfterIdle)
			}
			switch req.kind {
			case kindState:
				req.reply <- response{state: state}
			case kindEvaluate:
				next, changed, err := a.evaluate(state, req.cmd)
				if err == nil && changed {
					state = next
					eventsSinceSnapshot++
					if a.cfg.SnapshotEvery > 0 && eventsSinceSnapshot >= a.cfg.SnapshotEvery {
						a.snapshot(e.label, state)
						eventsSinceSnapshot = 0
					}
				} else if err != nil && errors.Is(err, errRecover) {
					// Journal append failed: the in-memory state may be
					// ahead of the journal, so rebuild it.
					recovered, rerr := a.recover(e.label)
					if rerr != nil {
						a.logger.Error("realm re-recovery failed", "realm", e.label, "error", rerr)
						req.reply <- response{err: dErrors.Wrap(rerr, dErrors.CodeInternal, "failed to recover realm "+e.label.String())}
						return
					}
					state = recovered
				}
				req.reply <- response{state: next, err: unwrapRecover(err)}
			}
		case <-idleCh:
			return
		case <-maxAge:
			return
		}
	}
}

// clockTimer is the subset of the clock timer the run loop needs.
type clockTimer interface {
	Chan() <-chan time.Time
	Reset(time.Duration) bool
	Stop() bool
}

// errRecover tags evaluation errors that require rebuilding the entity
// state from the journal.
var errRecover = errors.New("recover required")

type recoverError struct {
	err error
}

func (r recoverError) Error() string      { return r.err.Error() }
func (r recoverError) Unwrap() error      { return r.err }
func (recoverError) Is(target error) bool { return target == errRecover }

func unwrapRecover(err error) error {
	var r recoverError
	if errors.As(err, &r) {
		return r.err
	}
	return err
}

// evaluate decides and persists a single command. It returns the new state
// and whether an event was appended.
func (a *Aggregate) evaluate(state models.State, cmd models.Command) (models.State, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.EvaluationTimeout)
	defer cancel()

	event, err := models.Evaluate(ctx, a.deps, state, cmd)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return state, false, dErrors.New(dErrors.CodeTimeout, "command evaluation timed out")
		}
		return state, false, err
	}

	env := journal.NewEnvelope(event)
	if err := a.journal.Append(ctx, env); err != nil {
		// Persistence failures are not retried here; the caller may retry
		// the whole command.
		a.logger.Error("event append failed", "realm", cmd.RealmID(), "rev", event.Revision(), "error", err)
		return state, false, recoverError{err: dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist event")}
	}

	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, env); err != nil {
			a.logger.Warn("event publication failed", "realm", cmd.RealmID(), "rev", event.Revision(), "error", err)
		}
	}

	return models.Next(state, event), true, nil
}

// recover rebuilds the state from the latest snapshot plus the journal
// tail, retrying transient read failures.
func (a *Aggregate) recover(realm id.Label) (models.State, error) {
	var state models.State
	err := a.cfg.RecoveryRetry.Run(context.Background(), a.deps.Clock, func(error) bool { return true }, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.EvaluationTimeout)
		defer cancel()

		snap, rev, err := a.snapshots.Load(ctx, realm)
		if err != nil {
			return err
		}
		events, err := a.journal.Events(ctx, realm, rev+1)
		if err != nil {
			return err
		}
		state = snap
		for _, env := range events {
			state = models.Next(state, env.Event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// snapshot persists the state best-effort.
func (a *Aggregate) snapshot(realm id.Label, state models.State) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.EvaluationTimeout)
	defer cancel()
	if err := a.snapshots.Save(ctx, realm, state.Rev(), state); err != nil {
		a.logger.Warn("snapshot failed", "realm", realm, "rev", state.Rev(), "error", err)
	}
}

// remove unregisters the entity and fails any queued requests so callers
// retry against a fresh entity.
func (a *Aggregate) remove(e *entity) {
	a.mu.Lock()
	if a.entities[e.label] == e {
		delete(a.entities, e.label)
	}
	a.mu.Unlock()
	close(e.done)
	a.failPending(e, errPassivated)
}

// failPending drains queued requests with the given error.
func (a *Aggregate) failPending(e *entity, err error) {
	for {
		select {
		case req := <-e.inbox:
			req.reply <- response{err: err}
		default:
			return
		}
	}
}
