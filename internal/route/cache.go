// Package route holds the computed-sequence side of the pipeline: the
// per-(tenant, date) result cache, the planning pipeline, and dispatcher
// reorders.
package route

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"tournav/internal/cache"
	"tournav/internal/model"
)

// ErrMiss signals no cached route; callers recompute. Not a failure.
var ErrMiss = errors.New("route cache miss")

// ResultCache stores the last computed OptimizedRoute and the manifest it
// was computed from, per (tenant, date). Entries default to expiring at
// local midnight of the tour date; reorders and manifest refreshes
// invalidate explicitly before installing the new value, so readers see
// either the old or the new route, never a mix.
type ResultCache struct {
	KV  cache.KV
	Loc *time.Location

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-key commit serialization
}

func NewResultCache(kv cache.KV) *ResultCache {
	return &ResultCache{KV: kv, Loc: time.Local, locks: map[string]*sync.Mutex{}}
}

func routeKey(tenantID, date string) string    { return "route:" + tenantID + "|" + date }
func manifestKey(tenantID, date string) string { return "manifest:" + tenantID + "|" + date }

func (c *ResultCache) Get(ctx context.Context, tenantID, date string) (model.OptimizedRoute, error) {
	b, ok, err := c.KV.Get(ctx, routeKey(tenantID, date))
	if err != nil {
		return model.OptimizedRoute{}, err
	}
	if !ok {
		return model.OptimizedRoute{}, ErrMiss
	}
	var r model.OptimizedRoute
	if err := json.Unmarshal(b, &r); err != nil {
		return model.OptimizedRoute{}, ErrMiss
	}
	return r, nil
}

func (c *ResultCache) Put(ctx context.Context, r model.OptimizedRoute) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.KV.Set(ctx, routeKey(r.TenantID, r.TourDate), b, c.ttlFor(r.TourDate))
}

func (c *ResultCache) Invalidate(ctx context.Context, tenantID, date string) {
	_ = c.KV.Delete(ctx, routeKey(tenantID, date))
}

// Manifest returns the current manifest for (tenant, date), or ErrMiss.
func (c *ResultCache) Manifest(ctx context.Context, tenantID, date string) (model.TourManifest, error) {
	b, ok, err := c.KV.Get(ctx, manifestKey(tenantID, date))
	if err != nil {
		return model.TourManifest{}, err
	}
	if !ok {
		return model.TourManifest{}, ErrMiss
	}
	var m model.TourManifest
	if err := json.Unmarshal(b, &m); err != nil {
		return model.TourManifest{}, ErrMiss
	}
	return m, nil
}

// PutManifest installs m as the current manifest for its (tenant, date),
// with the same midnight TTL as the route computed from it.
func (c *ResultCache) PutManifest(ctx context.Context, m model.TourManifest) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.KV.Set(ctx, manifestKey(m.TenantID, m.TourDate), b, c.ttlFor(m.TourDate))
}

// CommitLock serializes optimization/reorder commits per (tenant, date).
// Tenants never contend with each other.
func (c *ResultCache) CommitLock(tenantID, date string) *sync.Mutex {
	k := routeKey(tenantID, date)
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[k]
	if !ok {
		l = &sync.Mutex{}
		c.locks[k] = l
	}
	return l
}

// ttlFor bounds staleness to the end of the tour date in local time. Routes
// for past dates get a short grace TTL.
func (c *ResultCache) ttlFor(date string) time.Duration {
	d, err := time.ParseInLocation("2006-01-02", date, c.Loc)
	if err != nil {
		return time.Hour
	}
	midnight := d.AddDate(0, 0, 1)
	ttl := time.Until(midnight)
	if ttl <= 0 {
		return time.Minute
	}
	return ttl
}
