/*
	Tracking of object IDs already converted or already confirmed present in
	the destination warehouse.

	The cache is the one piece of mutable state shared between conversion
	workers, so it's backed by a sharded concurrent map rather than a single
	lock-protected one.  Lifetime is one load run; nothing here persists.
	The warehouse's own existence check is the fallback, so a resumed load
	does not re-transmit objects a prior partial run already delivered.
*/
package cache

import (
	"context"

	cmap "github.com/orcaman/concurrent-map"

	"go.stowage.net/stowage/api"
)

// The slice of the warehouse API the cache needs for its fallback.
type ExistenceChecker interface {
	Exists(ctx context.Context, ids []api.ObjectID) (map[api.ObjectID]struct{}, error)
}

type IDCache struct {
	known    cmap.ConcurrentMap // id string -> struct{}{}
	fallback ExistenceChecker   // may be nil (scan-only loads).
}

func New(fallback ExistenceChecker) *IDCache {
	return &IDCache{
		known:    cmap.New(),
		fallback: fallback,
	}
}

// Mark records an ID as converted or sent.  Idempotent.
func (c *IDCache) Mark(id api.ObjectID) {
	c.known.Set(id.String(), struct{}{})
}

// Known reports whether the ID can be skipped.  Purely local; does not
// consult the warehouse.
func (c *IDCache) Known(id api.ObjectID) bool {
	return c.known.Has(id.String())
}

/*
	FilterUnknown returns the subset of ids that are neither locally marked
	nor present in the destination, preserving input order.

	IDs the fallback reports as present are marked locally on the way, so
	the (comparatively expensive) warehouse round-trip happens at most once
	per ID per run.
*/
func (c *IDCache) FilterUnknown(ctx context.Context, ids []api.ObjectID) ([]api.ObjectID, error) {
	miss := make([]api.ObjectID, 0, len(ids))
	for _, id := range ids {
		if !c.Known(id) {
			miss = append(miss, id)
		}
	}
	if len(miss) == 0 || c.fallback == nil {
		return miss, nil
	}
	present, err := c.fallback.Exists(ctx, miss)
	if err != nil {
		return nil, err
	}
	unknown := miss[:0]
	for _, id := range miss {
		if _, ok := present[id]; ok {
			c.Mark(id)
			continue
		}
		unknown = append(unknown, id)
	}
	return unknown, nil
}
