package belt

import (
	"context"
	"sync/atomic"
)

// Registry holds the current Catalog and swaps it atomically on Reload.
// Readers keep the snapshot they obtained; a reload never mutates it.
type Registry struct {
	repo    Repository
	current atomic.Pointer[Catalog]
}

// NewRegistry loads the catalog from repo.
func NewRegistry(ctx context.Context, repo Repository) (*Registry, error) {
	r := &Registry{repo: repo}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// StaticRegistry wraps a fixed catalog. Reload is a no-op.
func StaticRegistry(c *Catalog) *Registry {
	r := &Registry{}
	r.current.Store(c)
	return r
}

// Current returns the catalog snapshot.
func (r *Registry) Current() *Catalog {
	return r.current.Load()
}

// Repository returns the backing repository, nil for a static registry.
func (r *Registry) Repository() Repository {
	return r.repo
}

// Reload re-reads every definition. On error the previous catalog stays.
func (r *Registry) Reload(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	c, err := LoadCatalog(ctx, r.repo)
	if err != nil {
		return err
	}
	r.current.Store(c)
	return nil
}
