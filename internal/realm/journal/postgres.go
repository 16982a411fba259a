package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
)

// Postgres persists the journal, snapshots and offsets in PostgreSQL.
// Events are immutable rows keyed by (realm, rev); the bigserial ordering
// column is the global offset used by the projector.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed journal.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Append persists the envelope. The (realm, rev) unique constraint turns
// concurrent writers into ErrRevisionConflict.
func (p *Postgres) Append(ctx context.Context, env *Envelope) error {
	payload, err := models.MarshalEvent(env.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	query := `
		INSERT INTO realm_events (event_id, realm, rev, tag, payload, instant)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ordering
	`
	err = p.db.QueryRowContext(ctx, query,
		env.EventID,
		env.RealmID.String(),
		env.Rev,
		env.Tag,
		payload,
		env.Instant,
	).Scan(&env.Offset)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("realm %q rev %d: %w", env.RealmID, env.Rev, ErrRevisionConflict)
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Events replays one realm from fromRev in revision order.
func (p *Postgres) Events(ctx context.Context, realm id.Label, fromRev int64) ([]*Envelope, error) {
	query := `
		SELECT event_id, realm, rev, tag, payload, instant, ordering
		FROM realm_events
		WHERE realm = $1 AND rev >= $2
		ORDER BY rev ASC
	`
	rows, err := p.db.QueryContext(ctx, query, realm.String(), fromRev)
	if err != nil {
		return nil, fmt.Errorf("replay realm %q: %w", realm, err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// Tail reads tagged events past fromOffset in offset order.
func (p *Postgres) Tail(ctx context.Context, tag string, fromOffset int64, limit int) ([]*Envelope, error) {
	query := `
		SELECT event_id, realm, rev, tag, payload, instant, ordering
		FROM realm_events
		WHERE tag = $1 AND ordering > $2
		ORDER BY ordering ASC
		LIMIT $3
	`
	rows, err := p.db.QueryContext(ctx, query, tag, fromOffset, limit)
	if err != nil {
		return nil, fmt.Errorf("tail tag %q: %w", tag, err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

// Save upserts the newest snapshot for the realm.
func (p *Postgres) Save(ctx context.Context, realm id.Label, rev int64, state models.State) error {
	payload, err := models.MarshalState(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	query := `
		INSERT INTO realm_snapshots (realm, rev, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (realm) DO UPDATE SET rev = EXCLUDED.rev, payload = EXCLUDED.payload
		WHERE realm_snapshots.rev < EXCLUDED.rev
	`
	if _, err := p.db.ExecContext(ctx, query, realm.String(), rev, payload); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the newest snapshot, or the Initial state when none exists.
func (p *Postgres) Load(ctx context.Context, realm id.Label) (models.State, int64, error) {
	query := `SELECT rev, payload FROM realm_snapshots WHERE realm = $1`
	var rev int64
	var payload []byte
	err := p.db.QueryRowContext(ctx, query, realm.String()).Scan(&rev, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Initial{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot: %w", err)
	}
	state, err := models.UnmarshalState(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("decode snapshot: %w", err)
	}
	return state, rev, nil
}

// Offsets exposes the projection offset table.
func (p *Postgres) Offsets() OffsetStore {
	return postgresOffsets{db: p.db}
}

type postgresOffsets struct {
	db *sql.DB
}

func (p postgresOffsets) Save(ctx context.Context, projection string, offset int64) error {
	query := `
		INSERT INTO projection_offsets (projection, current_offset)
		VALUES ($1, $2)
		ON CONFLICT (projection) DO UPDATE SET current_offset = EXCLUDED.current_offset
		WHERE projection_offsets.current_offset < EXCLUDED.current_offset
	`
	if _, err := p.db.ExecContext(ctx, query, projection, offset); err != nil {
		return fmt.Errorf("save offset: %w", err)
	}
	return nil
}

func (p postgresOffsets) Load(ctx context.Context, projection string) (int64, error) {
	var offset int64
	err := p.db.QueryRowContext(ctx, `SELECT current_offset FROM projection_offsets WHERE projection = $1`, projection).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load offset: %w", err)
	}
	return offset, nil
}

func scanEnvelopes(rows *sql.Rows) ([]*Envelope, error) {
	var out []*Envelope
	for rows.Next() {
		var (
			env     Envelope
			eventID uuid.UUID
			realm   string
			payload []byte
		)
		if err := rows.Scan(&eventID, &realm, &env.Rev, &env.Tag, &payload, &env.Instant, &env.Offset); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event, err := models.UnmarshalEvent(payload)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		env.EventID = eventID
		env.RealmID = id.Label(realm)
		env.Event = event
		out = append(out, &env)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
