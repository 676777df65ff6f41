// Package outletcache puts a bounded, TTL-expiring cache in front of the
// outlet store for the pipeline's pre-flight lookups. Outlet edits must call
// Invalidate so a corrected location takes effect on the next validation pass.
package outletcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dwisurya/fieldvisit/internal/domain"
)

// Getter is the subset of store.OutletStore the cache fronts.
type Getter interface {
	GetByID(ctx context.Context, id int64) (*domain.Outlet, error)
}

type Cache struct {
	source Getter
	lru    *expirable.LRU[int64, *domain.Outlet]
	logger *slog.Logger
}

func New(source Getter, size int, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		source: source,
		lru:    expirable.NewLRU[int64, *domain.Outlet](size, nil, ttl),
		logger: logger,
	}
}

// GetOutlet returns the cached outlet or falls through to the source. A miss
// on the source (nil outlet) is not cached, so a just-registered outlet shows
// up without waiting out the TTL.
func (c *Cache) GetOutlet(ctx context.Context, id int64) (*domain.Outlet, error) {
	if outlet, ok := c.lru.Get(id); ok {
		return outlet, nil
	}

	outlet, err := c.source.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if outlet != nil {
		c.lru.Add(id, outlet)
	}
	return outlet, nil
}

// Invalidate drops the cached entry for an outlet. Called after any outlet
// edit.
func (c *Cache) Invalidate(id int64) {
	if c.lru.Remove(id) {
		c.logger.Debug("outlet cache entry invalidated", "outlet_id", id)
	}
}
