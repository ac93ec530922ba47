// Package provider talks to the external logistics provider: SSO login,
// session lifecycle, and tour manifest retrieval.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tournav/internal/cache"
	"tournav/internal/metrics"
	"tournav/internal/model"
)

// SessionManager acquires and refreshes one provider session per tenant.
// Concurrent callers for the same tenant are coalesced into a single
// outbound login via singleflight; the session itself lives in the KV so
// replicas share it.
type SessionManager struct {
	AuthURL     string
	HTTP        *http.Client
	KV          cache.KV
	DefaultTTL  time.Duration
	MaxAttempts int
	Backoff     time.Duration

	sf singleflight.Group

	mu    sync.Mutex
	creds map[string]model.Credentials // last-good credentials per tenant
}

func NewSessionManager(authURL string, kv cache.KV) *SessionManager {
	return &SessionManager{
		AuthURL:     authURL,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		KV:          kv,
		DefaultTTL:  30 * time.Minute,
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
		creds:       map[string]model.Credentials{},
	}
}

func sessionKey(tenantID string) string { return "session:" + tenantID }

// GetValidSession returns the tenant's current session, logging in if none
// exists or the cached one has expired. N concurrent callers produce at
// most one outbound login.
func (m *SessionManager) GetValidSession(ctx context.Context, tenantID string, creds model.Credentials) (model.ProviderSession, error) {
	if s, ok := m.cached(ctx, tenantID); ok {
		return s, nil
	}
	v, err, _ := m.sf.Do(tenantID, func() (any, error) {
		// Re-check under the flight: a racer may have just written one.
		if s, ok := m.cached(ctx, tenantID); ok {
			return s, nil
		}
		return m.login(ctx, tenantID, creds)
	})
	if err != nil {
		return model.ProviderSession{}, err
	}
	return v.(model.ProviderSession), nil
}

// Authenticate performs a login and remembers the credentials so the
// refresher and the tour client can re-acquire sessions later.
func (m *SessionManager) Authenticate(ctx context.Context, tenantID string, creds model.Credentials) (model.ProviderSession, error) {
	m.mu.Lock()
	m.creds[tenantID] = creds
	m.mu.Unlock()
	return m.GetValidSession(ctx, tenantID, creds)
}

// Session re-acquires a session using remembered credentials.
func (m *SessionManager) Session(ctx context.Context, tenantID string) (model.ProviderSession, error) {
	m.mu.Lock()
	creds, ok := m.creds[tenantID]
	m.mu.Unlock()
	if !ok {
		return model.ProviderSession{}, fmt.Errorf("tenant %s: no credentials registered: %w", tenantID, ErrAuthentication)
	}
	return m.GetValidSession(ctx, tenantID, creds)
}

// Invalidate drops the tenant's session, forcing a fresh login on next use.
// Called by the tour client on a 401, and by explicit logout.
func (m *SessionManager) Invalidate(ctx context.Context, tenantID string) {
	_ = m.KV.Delete(ctx, sessionKey(tenantID))
}

// Tenants lists tenants with remembered credentials, for the refresher.
func (m *SessionManager) Tenants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.creds))
	for t := range m.creds {
		out = append(out, t)
	}
	return out
}

// ExpiringWithin reports whether the tenant's session is absent or expires
// inside the window.
func (m *SessionManager) ExpiringWithin(ctx context.Context, tenantID string, window time.Duration) bool {
	s, ok := m.cached(ctx, tenantID)
	if !ok {
		return true
	}
	return time.Until(s.ExpiresAt) < window
}

func (m *SessionManager) cached(ctx context.Context, tenantID string) (model.ProviderSession, bool) {
	b, ok, err := m.KV.Get(ctx, sessionKey(tenantID))
	if err != nil || !ok {
		return model.ProviderSession{}, false
	}
	var s model.ProviderSession
	if err := json.Unmarshal(b, &s); err != nil {
		return model.ProviderSession{}, false
	}
	if !s.Valid(time.Now()) {
		return model.ProviderSession{}, false
	}
	return s, true
}

type loginResponse struct {
	Token     string `json:"token"`
	Matricule string `json:"matricule"`
	ExpiresIn int    `json:"expiresIn"`
}

// login posts credentials to the SSO endpoint. 4xx is fatal; network errors
// and 5xx are retried with exponential backoff up to MaxAttempts.
func (m *SessionManager) login(ctx context.Context, tenantID string, creds model.Credentials) (model.ProviderSession, error) {
	body, _ := json.Marshal(creds)
	var lastErr error
	for attempt := 0; attempt < m.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.ProviderSession{}, ctx.Err()
			case <-time.After(m.Backoff * (1 << (attempt - 1))):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.AuthURL+"/login", bytes.NewReader(body))
		if err != nil {
			return model.ProviderSession{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := m.HTTP.Do(req)
		if err != nil {
			lastErr = err
			metrics.ProviderLogins.WithLabelValues("error").Inc()
			continue
		}
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var lr loginResponse
			if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
				resp.Body.Close()
				return model.ProviderSession{}, fmt.Errorf("tenant %s: decode login response: %w", tenantID, err)
			}
			resp.Body.Close()
			ttl := m.DefaultTTL
			if lr.ExpiresIn > 0 {
				ttl = time.Duration(lr.ExpiresIn) * time.Second
			}
			now := time.Now()
			s := model.ProviderSession{
				TenantID:  tenantID,
				Token:     lr.Token,
				Matricule: lr.Matricule,
				IssuedAt:  now,
				ExpiresAt: now.Add(ttl),
			}
			b, _ := json.Marshal(s)
			if err := m.KV.Set(ctx, sessionKey(tenantID), b, ttl); err != nil {
				return model.ProviderSession{}, fmt.Errorf("tenant %s: store session: %w", tenantID, err)
			}
			metrics.ProviderLogins.WithLabelValues("ok").Inc()
			return s, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			resp.Body.Close()
			metrics.ProviderLogins.WithLabelValues("rejected").Inc()
			return model.ProviderSession{}, fmt.Errorf("tenant %s: login rejected (%d): %w", tenantID, resp.StatusCode, ErrAuthentication)
		default:
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			metrics.ProviderLogins.WithLabelValues("error").Inc()
		}
	}
	return model.ProviderSession{}, fmt.Errorf("tenant %s: login failed after %d attempts: %v: %w", tenantID, m.MaxAttempts, lastErr, ErrUnavailable)
}
