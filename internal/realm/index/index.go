// Package index holds the replicated Label → Resource read index. Writes
// are last-writer-wins by revision, so replayed projections are no-ops and
// reads never regress to a smaller revision for a given realm.
package index

import (
	"context"

	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
)

// Index is the realm read index consumed by the token verifier and the
// listing endpoints. Writes propagate eventually. Reads on the in-memory
// index are local and non-blocking; reads on the Redis index are round trips
// to Redis, each bounded by the ask timeout.
type Index interface {
	// Put upserts the resource. An equal or lower revision for the same
	// realm is a no-op.
	Put(ctx context.Context, res *models.Resource) error

	// Get returns the resource for the realm, if present.
	Get(ctx context.Context, realm id.Label) (*models.Resource, bool, error)

	// List returns every resource in the index, unordered.
	List(ctx context.Context) ([]*models.Resource, error)

	// ActiveByIssuer returns the active (non-deprecated) realm claiming
	// the issuer. Deprecated realms never match.
	ActiveByIssuer(ctx context.Context, issuer string) (*models.Resource, bool, error)
}
