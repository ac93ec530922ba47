package route

import (
	"context"
	"fmt"

	"tournav/internal/geo"
	"tournav/internal/metrics"
	"tournav/internal/model"
	"tournav/internal/opt"
	"tournav/internal/provider"
)

// Planner drives the pipeline: session -> manifest -> geocoding ->
// optimizer -> result cache. The current manifest per (tenant, date) lives
// in the shared KV next to the route it produced, so every replica plans
// against the same snapshot.
type Planner struct {
	Tours       *provider.Client
	Geo         *geo.Resolver
	Results     *ResultCache
	ImproveIter int
}

func NewPlanner(tours *provider.Client, resolver *geo.Resolver, results *ResultCache) *Planner {
	return &Planner{
		Tours:       tours,
		Geo:         resolver,
		Results:     results,
		ImproveIter: 3,
	}
}

// RefreshManifest fetches the day's manifest, resolves coordinates, and
// commits it as current. The commit holds the same per-(tenant, date) lock
// that optimize and reorder commits take, so a route computed from the
// superseded manifest can never land after this invalidation. A partial
// manifest is stored too; optimization runs on whatever is resolvable.
func (p *Planner) RefreshManifest(ctx context.Context, tenantID, date string) (model.TourManifest, error) {
	m, err := p.Tours.FetchManifest(ctx, tenantID, date)
	if err != nil {
		return model.TourManifest{}, err
	}
	p.Geo.ResolveManifest(ctx, &m)

	lock := p.Results.CommitLock(tenantID, date)
	lock.Lock()
	err = p.Results.PutManifest(ctx, m)
	p.Results.Invalidate(ctx, tenantID, date)
	lock.Unlock()
	if err != nil {
		return model.TourManifest{}, fmt.Errorf("refresh %s/%s: store manifest: %w", tenantID, date, err)
	}
	return m, nil
}

// Manifest returns the current manifest, fetching once if absent.
func (p *Planner) Manifest(ctx context.Context, tenantID, date string) (model.TourManifest, error) {
	if m, err := p.Results.Manifest(ctx, tenantID, date); err == nil {
		return m, nil
	}
	return p.RefreshManifest(ctx, tenantID, date)
}

// OptimizeRoute returns the cached route for (tenant, date) or computes and
// commits one on a miss. Computation never runs implicitly on a plain read
// of a valid cache entry. The manifest is re-read under the commit lock: a
// refresh that lands while we wait for the lock supersedes the copy fetched
// outside it.
func (p *Planner) OptimizeRoute(ctx context.Context, tenantID, date string) (model.OptimizedRoute, error) {
	if r, err := p.Results.Get(ctx, tenantID, date); err == nil {
		return r, nil
	}
	// May fetch; network work stays outside the lock.
	m, err := p.Manifest(ctx, tenantID, date)
	if err != nil {
		return model.OptimizedRoute{}, fmt.Errorf("optimize %s/%s: %w", tenantID, date, err)
	}

	lock := p.Results.CommitLock(tenantID, date)
	lock.Lock()
	defer lock.Unlock()
	// A racer may have committed while we waited.
	if r, err := p.Results.Get(ctx, tenantID, date); err == nil {
		return r, nil
	}
	if cur, err := p.Results.Manifest(ctx, tenantID, date); err == nil {
		m = cur
	}
	r := opt.Optimize(m, p.ImproveIter)
	metrics.OptimizeRuns.WithLabelValues("miss").Inc()
	if err := p.Results.Put(ctx, r); err != nil {
		return model.OptimizedRoute{}, fmt.Errorf("optimize %s/%s: commit: %w", tenantID, date, err)
	}
	return r, nil
}
