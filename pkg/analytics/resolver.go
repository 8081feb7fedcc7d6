package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/scality/log-analytics/pkg/enrich"
	"github.com/scality/log-analytics/pkg/store"
)

// ItemCache keeps resolved Items by key for the life of the process,
// until Invalidate is called
type ItemCache struct {
	mu    sync.RWMutex
	items map[string]store.Item
}

// NewItemCache creates an empty cache
func NewItemCache() *ItemCache {
	return &ItemCache{items: make(map[string]store.Item)}
}

// Get returns the cached Item of key
func (c *ItemCache) Get(key string) (store.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[key]
	return item, ok
}

// Put caches an Item
func (c *ItemCache) Put(item store.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.Key] = item
}

// Invalidate empties the cache
func (c *ItemCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
}

// Len returns the number of cached Items
func (c *ItemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// ItemResolverConfig holds item resolver configuration
type ItemResolverConfig struct {
	Store store.AnalyticsStore

	// Enricher defaults to no metadata
	Enricher enrich.Enricher

	// Cache defaults to a new cache
	Cache *ItemCache

	Logger  *slog.Logger
	Metrics *Metrics
}

// ItemResolver maps object keys to Items, creating them on first resolution.
// Concurrent resolutions of one key in the process share one store call; the
// store's GetOrCreateItem keeps creation atomic across processes.
type ItemResolver struct {
	store    store.AnalyticsStore
	enricher enrich.Enricher
	cache    *ItemCache
	logger   *slog.Logger
	metrics  *Metrics
	group    singleflight.Group
}

// NewItemResolver creates an item resolver
func NewItemResolver(cfg ItemResolverConfig) (*ItemResolver, error) {
	if cfg.Store == nil {
		return nil, errors.New("a store is required")
	}

	r := &ItemResolver{
		store:    cfg.Store,
		enricher: cfg.Enricher,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if r.enricher == nil {
		r.enricher = enrich.Nop{}
	}
	if r.cache == nil {
		r.cache = NewItemCache()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = NewMetricsWithRegistry(prometheus.NewRegistry())
	}
	return r, nil
}

// Cache returns the cache of resolved Items
func (r *ItemResolver) Cache() *ItemCache {
	return r.cache
}

// Resolve returns the Item of key, creating and enriching it when unseen
func (r *ItemResolver) Resolve(ctx context.Context, key string) (store.Item, error) {
	if item, ok := r.cache.Get(key); ok {
		r.metrics.Items.CacheHits.Inc()
		return item, nil
	}
	r.metrics.Items.CacheMisses.Inc()

	v, err, _ := r.group.Do(key, func() (any, error) {
		item, created, err := r.store.GetOrCreateItem(ctx, key, r.newItem)
		if err != nil {
			return store.Item{}, err
		}
		if created {
			r.metrics.Items.Created.Inc()
			r.logger.Info("created item", "key", key, "itemId", item.ID)
		}
		r.cache.Put(item)
		return item, nil
	})
	if err != nil {
		return store.Item{}, err
	}
	return v.(store.Item), nil
}

// newItem builds the Item of an unseen key. A failed lookup leaves the metadata empty.
func (r *ItemResolver) newItem(ctx context.Context, key string) (store.Item, error) {
	item := store.Item{Key: key, Name: store.DisplayName(key)}

	meta, err := r.enricher.Lookup(ctx, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return store.Item{}, ctxErr
		}
		r.metrics.Items.EnrichmentFailures.Inc()
		r.logger.Warn("item metadata unavailable", "key", key, "error", err)
		return item, nil
	}

	meta.Apply(&item)
	return item, nil
}
