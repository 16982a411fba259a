package index

import (
	"context"
	"sync"

	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
)

// InMemory is the local index used in tests and single-node deployments.
type InMemory struct {
	mu        sync.RWMutex
	resources map[id.Label]*models.Resource
	issuers   map[string]id.Label
}

// NewInMemory creates an empty index.
func NewInMemory() *InMemory {
	return &InMemory{
		resources: make(map[id.Label]*models.Resource),
		issuers:   make(map[string]id.Label),
	}
}

// Put upserts the resource, last-writer-wins by revision.
func (i *InMemory) Put(_ context.Context, res *models.Resource) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	existing, ok := i.resources[res.ID]
	if ok && existing.Rev >= res.Rev {
		return nil
	}
	if ok && existing.Issuer != "" && i.issuers[existing.Issuer] == res.ID {
		delete(i.issuers, existing.Issuer)
	}
	i.resources[res.ID] = res
	if !res.Deprecated && res.Issuer != "" {
		if _, taken := i.issuers[res.Issuer]; !taken {
			i.issuers[res.Issuer] = res.ID
		}
	}
	return nil
}

// Get returns the resource for the realm.
func (i *InMemory) Get(_ context.Context, realm id.Label) (*models.Resource, bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	res, ok := i.resources[realm]
	return res, ok, nil
}

// List returns every resource, unordered.
func (i *InMemory) List(_ context.Context) ([]*models.Resource, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*models.Resource, 0, len(i.resources))
	for _, res := range i.resources {
		out = append(out, res)
	}
	return out, nil
}

// ActiveByIssuer returns the active realm claiming the issuer.
func (i *InMemory) ActiveByIssuer(_ context.Context, issuer string) (*models.Resource, bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	label, ok := i.issuers[issuer]
	if !ok {
		return nil, false, nil
	}
	res, ok := i.resources[label]
	if !ok || res.Deprecated || res.Issuer != issuer {
		return nil, false, nil
	}
	return res, true, nil
}

// IssuerOwner reports which realm currently claims the issuer; it backs
// the issuer uniqueness check run by command evaluation.
func (i *InMemory) IssuerOwner(_ context.Context, issuer string) (id.Label, bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	label, ok := i.issuers[issuer]
	return label, ok, nil
}
