package journal

import (
	"context"
	"fmt"
	"sync"

	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
)

// InMemory keeps the journal, snapshots and offsets in process memory. It
// backs tests and the single-node demo environment.
type InMemory struct {
	mu         sync.RWMutex
	byRealm    map[id.Label][]*Envelope
	ordered    []*Envelope
	nextOffset int64

	snapshots map[id.Label]snapshot
	offsets   map[string]int64
}

type snapshot struct {
	state models.State
	rev   int64
}

// NewInMemory creates an empty in-memory journal.
func NewInMemory() *InMemory {
	return &InMemory{
		byRealm:    make(map[id.Label][]*Envelope),
		nextOffset: 1,
		snapshots:  make(map[id.Label]snapshot),
		offsets:    make(map[string]int64),
	}
}

// Append persists the envelope, assigning its global offset.
func (j *InMemory) Append(_ context.Context, env *Envelope) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	events := j.byRealm[env.RealmID]
	if int64(len(events)) >= env.Rev {
		return fmt.Errorf("realm %q rev %d: %w", env.RealmID, env.Rev, ErrRevisionConflict)
	}
	if env.Rev != int64(len(events))+1 {
		return fmt.Errorf("realm %q rev %d does not follow rev %d", env.RealmID, env.Rev, len(events))
	}

	stored := *env
	stored.Offset = j.nextOffset
	j.nextOffset++

	j.byRealm[env.RealmID] = append(events, &stored)
	j.ordered = append(j.ordered, &stored)
	env.Offset = stored.Offset
	return nil
}

// Events replays one realm from fromRev.
func (j *InMemory) Events(_ context.Context, realm id.Label, fromRev int64) ([]*Envelope, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	events := j.byRealm[realm]
	if fromRev < 1 {
		fromRev = 1
	}
	if fromRev > int64(len(events)) {
		return nil, nil
	}
	out := make([]*Envelope, len(events[fromRev-1:]))
	copy(out, events[fromRev-1:])
	return out, nil
}

// Tail reads tagged events past fromOffset.
func (j *InMemory) Tail(_ context.Context, tag string, fromOffset int64, limit int) ([]*Envelope, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*Envelope
	for _, env := range j.ordered {
		if env.Offset <= fromOffset || env.Tag != tag {
			continue
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Save stores the newest snapshot for the realm.
func (j *InMemory) Save(_ context.Context, realm id.Label, rev int64, state models.State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snapshots[realm] = snapshot{state: state, rev: rev}
	return nil
}

// Load returns the newest snapshot, or the Initial state.
func (j *InMemory) Load(_ context.Context, realm id.Label) (models.State, int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if s, ok := j.snapshots[realm]; ok {
		return s.state, s.rev, nil
	}
	return models.Initial{}, 0, nil
}

// SaveOffset persists projector progress.
func (j *InMemory) SaveOffset(_ context.Context, projection string, offset int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if offset > j.offsets[projection] {
		j.offsets[projection] = offset
	}
	return nil
}

// LoadOffset returns the last persisted offset, 0 when none.
func (j *InMemory) LoadOffset(_ context.Context, projection string) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.offsets[projection], nil
}

// Offsets adapts the in-memory journal to the OffsetStore interface.
func (j *InMemory) Offsets() OffsetStore {
	return memoryOffsets{j}
}

type memoryOffsets struct {
	j *InMemory
}

func (m memoryOffsets) Save(ctx context.Context, projection string, offset int64) error {
	return m.j.SaveOffset(ctx, projection, offset)
}

func (m memoryOffsets) Load(ctx context.Context, projection string) (int64, error) {
	return m.j.LoadOffset(ctx, projection)
}
