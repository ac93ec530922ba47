// Package api implements HTTP handlers and helpers for the tournav service.
package api

import (
	"net/http"
	"strings"

	"tournav/internal/auth"
	"tournav/internal/cache"
	"tournav/internal/config"
	"tournav/internal/geo"
	"tournav/internal/provider"
	"tournav/internal/route"
	"tournav/internal/store"

	"golang.org/x/time/rate"
)

type Server struct {
	Cfg      config.Config
	Store    store.Store
	KV       cache.KV
	Sessions *provider.SessionManager
	Planner  *route.Planner
	Reorders *route.Coordinator
	Auth     *auth.Verifier
}

// NewServer wires the pipeline. With no DATABASE_URL/REDIS_URL it runs
// fully in-memory, which is what the tests use.
func NewServer() (*Server, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}

	var kv cache.KV
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rkv, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		kv = rkv
	} else {
		kv = cache.NewMemory()
	}

	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		_ = sp.MigrateDir("db/migrations")
		st = sp
	} else {
		st = store.NewMemory()
	}

	sessions := provider.NewSessionManager(cfg.Provider.AuthURL, kv)
	sessions.DefaultTTL = cfg.SessionTTL()
	sessions.MaxAttempts = cfg.Provider.MaxAttempts
	sessions.Backoff = cfg.ProviderBackoff()

	tours := provider.NewClient(cfg.Provider.TourURL, sessions)
	tours.MaxAttempts = cfg.Provider.MaxAttempts
	tours.Backoff = cfg.ProviderBackoff()

	resolver := geo.NewResolver(cfg.Geocoder.BaseURL, cfg.Geocoder.Token, kv)
	resolver.TTL = cfg.GeocodeTTL()
	resolver.MaxAttempts = cfg.Geocoder.MaxAttempts
	resolver.Backoff = cfg.GeocoderBackoff()
	resolver.RPS = rate.Limit(cfg.Geocoder.RPS)
	resolver.Burst = cfg.Geocoder.Burst

	results := route.NewResultCache(kv)
	planner := route.NewPlanner(tours, resolver, results)
	planner.ImproveIter = cfg.Optimizer.ImproveIterations

	return &Server{
		Cfg:      cfg,
		Store:    st,
		KV:       kv,
		Sessions: sessions,
		Planner:  planner,
		Reorders: route.NewCoordinator(planner, st),
		Auth:     auth.NewVerifierFromEnv(),
	}, nil
}

// NewRefresher creates the background session refresh worker.
func (s *Server) NewRefresher() *provider.Refresher {
	r := provider.NewRefresher(s.Sessions)
	if v := s.Cfg.Provider.RefreshEverySec; v > 0 {
		r.Every = secDuration(v)
	}
	if v := s.Cfg.Provider.RefreshAheadSec; v > 0 {
		r.Ahead = secDuration(v)
	}
	return r
}

// tenant resolves the acting tenant from a Bearer JWT when present, else
// the X-Tenant-Id header (dev).
func (s *Server) tenant(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return pr.Tenant
		}
	}
	tenant := r.Header.Get("X-Tenant-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	return tenant
}
