// Package journal defines the event journal, snapshot store and projection
// offset store backing the realm aggregates, with in-memory and postgres
// implementations.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
)

// ErrRevisionConflict is returned by Append when an event with the same
// revision was already persisted for the persistence id.
var ErrRevisionConflict = errors.New("revision already persisted")

// Envelope wraps a persisted event with its journal coordinates. Offset is
// assigned by the journal on append and is strictly increasing across the
// whole journal.
type Envelope struct {
	EventID uuid.UUID
	RealmID id.Label
	Rev     int64
	Tag     string
	Event   models.Event
	Instant time.Time
	Offset  int64
}

// NewEnvelope wraps an event for persistence, tagging it for the projector.
func NewEnvelope(e models.Event) *Envelope {
	return &Envelope{
		EventID: uuid.New(),
		RealmID: e.RealmID(),
		Rev:     e.Revision(),
		Tag:     models.TagRealm,
		Event:   e,
		Instant: e.At(),
	}
}

// EventJournal is the append-only event log. Events for one persistence id
// are totally ordered by revision; Append is the only write.
type EventJournal interface {
	// Append persists the envelope. It fails with ErrRevisionConflict when
	// the (realm, rev) pair already exists.
	Append(ctx context.Context, env *Envelope) error

	// Events replays every event of one realm in revision order, starting
	// at fromRev (inclusive, 1-based).
	Events(ctx context.Context, realm id.Label, fromRev int64) ([]*Envelope, error)

	// Tail reads up to limit events with the given tag whose offset is
	// strictly greater than fromOffset, in offset order.
	Tail(ctx context.Context, tag string, fromOffset int64, limit int) ([]*Envelope, error)
}

// SnapshotStore persists the latest state per realm so recovery does not
// replay the full journal.
type SnapshotStore interface {
	Save(ctx context.Context, realm id.Label, rev int64, state models.State) error
	// Load returns the newest snapshot, or (Initial, 0, nil) when none
	// exists.
	Load(ctx context.Context, realm id.Label) (models.State, int64, error)
}

// OffsetStore persists the projector's progress. Persistence is
// best-effort: the projection must stay correct when replayed from any
// older offset, including 0.
type OffsetStore interface {
	Save(ctx context.Context, projection string, offset int64) error
	Load(ctx context.Context, projection string) (int64, error)
}
