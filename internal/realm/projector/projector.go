// Package projector tails the event journal and refreshes the realm read
// index. Delivery is at-least-once: the index's last-writer-wins semantics
// make replayed batches no-ops, so offset persistence stays best-effort.
package projector

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"aegis/internal/realm/index"
	"aegis/internal/realm/journal"
	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/retry"
)

// Projection is the offset-store key of the realm index projection.
const Projection = "realms-index"

// Source provides the current read-side projection of a realm, straight
// from the write side.
type Source interface {
	CurrentResource(ctx context.Context, realm id.Label) (*models.Resource, bool, error)
}

// Config carries the projector tunables.
type Config struct {
	// Batch is the maximum number of events read per poll.
	Batch int
	// BatchTimeout is the pause between polls; a short batch is flushed
	// once it elapses.
	BatchTimeout time.Duration
	// Retry is applied to a failing batch before it is retried from the
	// same offset.
	Retry retry.Strategy
	// PersistAfterProcessed persists the offset after this many events.
	PersistAfterProcessed int
	// ProgressMaxTimeWindow persists the offset after this much wallclock
	// even when few events arrived.
	ProgressMaxTimeWindow time.Duration
}

// DefaultConfig returns the projector defaults.
func DefaultConfig() Config {
	return Config{
		Batch:                 64,
		BatchTimeout:          500 * time.Millisecond,
		Retry:                 retry.Exponential(200*time.Millisecond, 10*time.Second, 10),
		PersistAfterProcessed: 500,
		ProgressMaxTimeWindow: time.Minute,
	}
}

// Projector drives one projection over the tagged journal tail.
type Projector struct {
	cfg     Config
	journal journal.EventJournal
	offsets journal.OffsetStore
	idx     index.Index
	source  Source
	clock   clock.Clock
	logger  *slog.Logger

	offset          int64
	sinceSave       int
	lastSaveAt      time.Time
	offsetRecovered bool
}

// Option configures the Projector.
type Option func(*Projector)

// WithClock sets the clock driving polling and progress windows.
func WithClock(c clock.Clock) Option {
	return func(p *Projector) {
		p.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Projector) {
		p.logger = l
	}
}

// New creates a projector over the journal tail.
func New(cfg Config, j journal.EventJournal, offsets journal.OffsetStore, idx index.Index, source Source, opts ...Option) *Projector {
	p := &Projector{
		cfg:     cfg,
		journal: j,
		offsets: offsets,
		idx:     idx,
		source:  source,
		clock:   clock.WallClock,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start polls the journal until ctx is cancelled.
func (p *Projector) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.persistOffset(true)
			return ctx.Err()
		case <-p.clock.After(p.cfg.BatchTimeout):
			if err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.ErrorContext(ctx, "projection batch failed", "offset", p.offset, "error", err)
			}
		}
	}
}

// RunOnce processes a single batch. The batch is retried as a whole; a
// replay from an older offset is harmless.
func (p *Projector) RunOnce(ctx context.Context) error {
	if !p.offsetRecovered {
		offset, err := p.offsets.Load(ctx, Projection)
		if err != nil {
			p.logger.WarnContext(ctx, "offset recovery failed, replaying from the start", "error", err)
		} else {
			p.offset = offset
		}
		p.offsetRecovered = true
		p.lastSaveAt = p.clock.Now()
	}

	return p.cfg.Retry.Run(ctx, p.clock, isTransient, func() error {
		batch, err := p.journal.Tail(ctx, models.TagRealm, p.offset, p.cfg.Batch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			p.persistOffset(false)
			return nil
		}

		for _, realm := range distinctRealms(batch) {
			res, ok, err := p.source.CurrentResource(ctx, realm)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := p.idx.Put(ctx, res); err != nil {
				return err
			}
		}

		p.offset = batch[len(batch)-1].Offset
		p.sinceSave += len(batch)
		p.persistOffset(false)
		return nil
	})
}

// persistOffset saves progress once enough events or wallclock accumulated.
// Failures are logged; replay repairs any lost progress.
func (p *Projector) persistOffset(force bool) {
	due := force ||
		(p.cfg.PersistAfterProcessed > 0 && p.sinceSave >= p.cfg.PersistAfterProcessed) ||
		(p.cfg.ProgressMaxTimeWindow > 0 && p.sinceSave > 0 && p.clock.Now().Sub(p.lastSaveAt) >= p.cfg.ProgressMaxTimeWindow)
	if !due || p.sinceSave == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.offsets.Save(ctx, Projection, p.offset); err != nil {
		p.logger.Warn("offset persistence failed", "offset", p.offset, "error", err)
		return
	}
	p.sinceSave = 0
	p.lastSaveAt = p.clock.Now()
}

// distinctRealms returns the realms touched by the batch, in first-seen
// order.
func distinctRealms(batch []*journal.Envelope) []id.Label {
	seen := make(map[id.Label]struct{}, len(batch))
	var out []id.Label
	for _, env := range batch {
		if _, ok := seen[env.RealmID]; ok {
			continue
		}
		seen[env.RealmID] = struct{}{}
		out = append(out, env.RealmID)
	}
	return out
}

// isTransient treats every batch failure as retriable; there are no domain
// rejections on this path.
func isTransient(error) bool {
	return true
}
