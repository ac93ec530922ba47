// Package geo resolves raw delivery addresses into coordinates through a
// forward-geocoding API, with a persistent fingerprint-keyed cache.
package geo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tournav/internal/cache"
	"tournav/internal/metrics"
	"tournav/internal/model"
)

// Resolver converts addresses to coordinates. Cache first, then the external
// geocoder under a per-tenant rate limit with bounded retries. Exhausted
// retries degrade to Unresolved; the pipeline always completes.
type Resolver struct {
	BaseURL     string
	Token       string
	HTTP        *http.Client
	KV          cache.KV
	TTL         time.Duration
	MaxAttempts int
	Backoff     time.Duration
	RPS         rate.Limit
	Burst       int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewResolver(baseURL, token string, kv cache.KV) *Resolver {
	return &Resolver{
		BaseURL:     baseURL,
		Token:       token,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		KV:          kv,
		TTL:         30 * 24 * time.Hour,
		MaxAttempts: 3,
		Backoff:     100 * time.Millisecond,
		RPS:         rate.Limit(10),
		Burst:       5,
		limiters:    map[string]*rate.Limiter{},
	}
}

// Fingerprint returns the cache key for an address: a hash over the
// normalized form so trivial formatting differences share one entry.
func Fingerprint(address string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(address), " "))
	sum := sha256.Sum256([]byte(norm))
	return "geo:" + hex.EncodeToString(sum[:])
}

func (r *Resolver) limiter(tenantID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(r.RPS, r.Burst)
		r.limiters[tenantID] = l
	}
	return l
}

// Resolve returns coordinates for the address, or ok=false when the address
// could not be geocoded within the retry budget. Failure to resolve is a
// degradation, not an error.
func (r *Resolver) Resolve(ctx context.Context, tenantID, address string) (model.GeoPoint, bool) {
	if strings.TrimSpace(address) == "" {
		return model.GeoPoint{}, false
	}
	key := Fingerprint(address)
	if b, ok, err := r.KV.Get(ctx, key); err == nil && ok {
		var pt model.GeoPoint
		if json.Unmarshal(b, &pt) == nil {
			metrics.GeocodeLookups.WithLabelValues("cache_hit").Inc()
			return pt, true
		}
	}

	if err := r.limiter(tenantID).Wait(ctx); err != nil {
		return model.GeoPoint{}, false
	}
	pt, ok := r.forward(ctx, address)
	if !ok {
		metrics.GeocodeLookups.WithLabelValues("unresolved").Inc()
		return model.GeoPoint{}, false
	}
	b, _ := json.Marshal(pt)
	_ = r.KV.Set(ctx, key, b, r.TTL)
	metrics.GeocodeLookups.WithLabelValues("resolved").Inc()
	return pt, true
}

// ResolveManifest fills coordinates on pending packages that lack them and
// marks the rest Unlocated.
func (r *Resolver) ResolveManifest(ctx context.Context, m *model.TourManifest) {
	for i := range m.Packages {
		p := &m.Packages[i]
		if p.Coordinates != nil || p.DeliveryState == model.StateFailed {
			continue
		}
		if pt, ok := r.Resolve(ctx, m.TenantID, p.RawAddress); ok {
			p.Coordinates = &model.GeoPoint{Lat: pt.Lat, Lng: pt.Lng}
		} else {
			p.Unlocated = true
		}
	}
}

type forwardResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
	} `json:"features"`
}

// forward calls the geocoder's forward endpoint. 5xx and network errors are
// retried with backoff; anything else resolves or degrades immediately.
func (r *Resolver) forward(ctx context.Context, address string) (model.GeoPoint, bool) {
	u := fmt.Sprintf("%s/search/geocode/v6/forward?q=%s&access_token=%s&country=fr&limit=1",
		r.BaseURL, url.QueryEscape(address), url.QueryEscape(r.Token))
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.GeoPoint{}, false
			case <-time.After(r.Backoff * (1 << (attempt - 1))):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return model.GeoPoint{}, false
		}
		resp, err := r.HTTP.Do(req)
		if err != nil {
			metrics.GeocodeLookups.WithLabelValues("error").Inc()
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			metrics.GeocodeLookups.WithLabelValues("error").Inc()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return model.GeoPoint{}, false
		}
		var fr forwardResponse
		err = json.NewDecoder(resp.Body).Decode(&fr)
		resp.Body.Close()
		if err != nil {
			continue
		}
		if len(fr.Features) == 0 || len(fr.Features[0].Geometry.Coordinates) < 2 {
			return model.GeoPoint{}, false
		}
		c := fr.Features[0].Geometry.Coordinates
		return model.GeoPoint{Lat: c[1], Lng: c[0]}, true
	}
	return model.GeoPoint{}, false
}
