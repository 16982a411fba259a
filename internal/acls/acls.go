// Package acls exposes the access-control collaborator consumed by the
// realm façade. Only the permission check is part of this service's
// contract; policy management lives elsewhere.
package acls

import (
	"context"
	"strings"
	"sync"

	id "aegis/pkg/domain"
)

// Acls answers permission checks against the hierarchical ACL tree.
type Acls interface {
	// HasPermission reports whether any of the caller's identities holds
	// the permission on the path or one of its ancestors.
	HasPermission(ctx context.Context, path string, permission string, caller id.Caller) (bool, error)
}

// InMemory is a process-local ACL tree for tests and the single-node demo
// environment.
type InMemory struct {
	mu     sync.RWMutex
	grants map[string]map[string][]id.Identity
}

// NewInMemory creates an empty ACL tree.
func NewInMemory() *InMemory {
	return &InMemory{grants: make(map[string]map[string][]id.Identity)}
}

// Grant gives the identity a permission on the path.
func (a *InMemory) Grant(path, permission string, identity id.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	perms, ok := a.grants[path]
	if !ok {
		perms = make(map[string][]id.Identity)
		a.grants[path] = perms
	}
	perms[permission] = append(perms[permission], identity)
}

// HasPermission walks from the path up to the root, matching the caller's
// identities against each level's grants.
func (a *InMemory) HasPermission(_ context.Context, path string, permission string, caller id.Caller) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, level := range ancestors(path) {
		for _, identity := range a.grants[level][permission] {
			if caller.Is(identity) {
				return true, nil
			}
		}
	}
	return false, nil
}

// ancestors lists the path and every ancestor, ending at the root.
func ancestors(path string) []string {
	path = "/" + strings.Trim(path, "/")
	out := []string{path}
	for path != "/" {
		idx := strings.LastIndex(path, "/")
		if idx <= 0 {
			path = "/"
		} else {
			path = path[:idx]
		}
		out = append(out, path)
	}
	return out
}
