package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tournav/internal/cache"
)

func TestRunOnceRefreshesExpiringSessions(t *testing.T) {
	var logins int32
	srv := fakeAuthServer(t, &logins, func(w http.ResponseWriter, _ int32) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok", "matricule": "m1", "expiresIn": 60})
	})

	m := NewSessionManager(srv.URL, cache.NewMemory())
	m.Backoff = time.Millisecond
	_, err := m.Authenticate(context.Background(), "t1", testCreds())
	require.NoError(t, err)

	r := NewRefresher(m) // Ahead 5m > the 60s session lifetime
	r.runOnce()
	require.Equal(t, int32(2), atomic.LoadInt32(&logins))
}

func TestRunOnceLeavesFreshSessionsAlone(t *testing.T) {
	var logins int32
	srv := fakeAuthServer(t, &logins, func(w http.ResponseWriter, _ int32) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok", "matricule": "m1", "expiresIn": 3600})
	})

	m := NewSessionManager(srv.URL, cache.NewMemory())
	_, err := m.Authenticate(context.Background(), "t1", testCreds())
	require.NoError(t, err)

	r := NewRefresher(m)
	r.runOnce()
	require.Equal(t, int32(1), atomic.LoadInt32(&logins))
}

func TestRefresherStops(t *testing.T) {
	var logins int32
	srv := fakeAuthServer(t, &logins, func(w http.ResponseWriter, _ int32) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok", "matricule": "m1", "expiresIn": 60})
	})

	m := NewSessionManager(srv.URL, cache.NewMemory())
	m.Backoff = time.Millisecond
	_, err := m.Authenticate(context.Background(), "t1", testCreds())
	require.NoError(t, err)

	r := NewRefresher(m)
	r.Every = 5 * time.Millisecond
	r.Start()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&logins) >= 2
	}, time.Second, 5*time.Millisecond, "ticker loop refreshes the expiring session")

	close(r.Stop)
	time.Sleep(20 * time.Millisecond) // let a pending tick drain
	after := atomic.LoadInt32(&logins)
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt32(&logins), "no refreshes after Stop is closed")
}
