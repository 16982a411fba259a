package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	psync "aegis/pkg/platform/sync"
)

const (
	resourceKeyPrefix = "realm:resource:"
	issuerKeyPrefix   = "realm:issuer:"
	labelsKey         = "realm:labels"
)

// Redis replicates the index through a shared redis deployment. Reads use
// the ask timeout; writes use the longer consistency timeout. Upserts are
// compare-and-set on the stored revision so replayed projections and
// concurrent writers keep last-writer-wins semantics.
type Redis struct {
	client             *redis.Client
	askTimeout         time.Duration
	consistencyTimeout time.Duration
	locks              *psync.ShardedMutex
}

// NewRedis creates a redis-backed index.
func NewRedis(client *redis.Client, askTimeout, consistencyTimeout time.Duration) *Redis {
	return &Redis{
		client:             client,
		askTimeout:         askTimeout,
		consistencyTimeout: consistencyTimeout,
		locks:              psync.NewShardedMutex(),
	}
}

// Put upserts the resource, last-writer-wins by revision.
func (r *Redis) Put(ctx context.Context, res *models.Resource) error {
	// Serialize same-process writers per label so concurrent WATCH
	// transactions do not starve each other.
	r.locks.Lock(res.ID.String())
	defer r.locks.Unlock(res.ID.String())

	ctx, cancel := context.WithTimeout(ctx, r.consistencyTimeout)
	defer cancel()

	key := resourceKeyPrefix + res.ID.String()
	payload, err := json.Marshal(res)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode resource")
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		var oldIssuer string
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var existing models.Resource
			if err := json.Unmarshal(current, &existing); err == nil {
				if existing.Rev >= res.Rev {
					return nil
				}
				oldIssuer = existing.Issuer
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, labelsKey, res.ID.String())
			if oldIssuer != "" && oldIssuer != res.Issuer {
				pipe.Del(ctx, issuerKeyPrefix+oldIssuer)
			}
			if res.Issuer != "" && !res.Deprecated {
				pipe.SetNX(ctx, issuerKeyPrefix+res.Issuer, res.ID.String(), 0)
			} else if oldIssuer != "" {
				pipe.Del(ctx, issuerKeyPrefix+oldIssuer)
			}
			return nil
		})
		return err
	}, key)
	return mapError(err, fmt.Sprintf("failed to replicate realm %q", res.ID))
}

// Get returns the resource for the realm.
func (r *Redis) Get(ctx context.Context, realm id.Label) (*models.Resource, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.askTimeout)
	defer cancel()

	payload, err := r.client.Get(ctx, resourceKeyPrefix+realm.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapError(err, fmt.Sprintf("failed to read realm %q", realm))
	}
	var res models.Resource
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode resource")
	}
	return &res, true, nil
}

// List returns every resource in the index, unordered.
func (r *Redis) List(ctx context.Context) ([]*models.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, r.askTimeout)
	defer cancel()

	labels, err := r.client.SMembers(ctx, labelsKey).Result()
	if err != nil {
		return nil, mapError(err, "failed to list realms")
	}
	out := make([]*models.Resource, 0, len(labels))
	for _, label := range labels {
		payload, err := r.client.Get(ctx, resourceKeyPrefix+label).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, mapError(err, fmt.Sprintf("failed to read realm %q", label))
		}
		var res models.Resource
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode resource")
		}
		out = append(out, &res)
	}
	return out, nil
}

// ActiveByIssuer returns the active realm claiming the issuer.
func (r *Redis) ActiveByIssuer(ctx context.Context, issuer string) (*models.Resource, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.askTimeout)
	defer cancel()

	label, err := r.client.Get(ctx, issuerKeyPrefix+issuer).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapError(err, fmt.Sprintf("failed to resolve issuer %q", issuer))
	}
	res, ok, err := r.Get(ctx, id.Label(label))
	if err != nil || !ok {
		return nil, false, err
	}
	if res.Deprecated || res.Issuer != issuer {
		return nil, false, nil
	}
	return res, true, nil
}

// IssuerOwner reports which realm currently claims the issuer.
func (r *Redis) IssuerOwner(ctx context.Context, issuer string) (id.Label, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.askTimeout)
	defer cancel()

	label, err := r.client.Get(ctx, issuerKeyPrefix+issuer).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapError(err, fmt.Sprintf("failed to resolve issuer %q", issuer))
	}
	return id.Label(label), true, nil
}

// mapError classifies replicator faults into the service error taxonomy.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
