package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tournav/internal/cache"
	"tournav/internal/model"
)

// newTestSessions returns a manager already authenticated against a fake SSO.
func newTestSessions(t *testing.T, logins *int32) *SessionManager {
	t.Helper()
	srv := fakeAuthServer(t, logins, okLogin)
	m := NewSessionManager(srv.URL, cache.NewMemory())
	m.Backoff = time.Millisecond
	_, err := m.Authenticate(context.Background(), "t1", testCreds())
	require.NoError(t, err)
	return m
}

func page(driver string, next int, pkgs ...map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{"driverRef": driver, "packages": pkgs, "nextPage": next})
	return b
}

func pkg(tn, status string) map[string]any {
	return map[string]any{"trackingNumber": tn, "address": tn + " rue de Test, Paris", "status": status}
}

func TestFetchManifestPaginates(t *testing.T) {
	var logins int32
	sessions := newTestSessions(t, &logins)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write(page("drv-7", 2, pkg("A", "pending"), pkg("B", "livre")))
		case "2":
			w.Write(page("drv-7", 0, pkg("C", "echec")))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, sessions)
	c.Backoff = time.Millisecond

	m, err := c.FetchManifest(context.Background(), "t1", "2026-08-30")
	require.NoError(t, err)
	require.False(t, m.Partial)
	require.Equal(t, "drv-7", m.DriverRef)
	require.Len(t, m.Packages, 3)
	require.Equal(t, []int{0, 1, 2}, []int{m.Packages[0].SequenceIndex, m.Packages[1].SequenceIndex, m.Packages[2].SequenceIndex})
	require.Equal(t, model.StatePending, m.Packages[0].DeliveryState)
	require.Equal(t, model.StateDelivered, m.Packages[1].DeliveryState)
	require.Equal(t, model.StateFailed, m.Packages[2].DeliveryState)
}

func TestFetchManifestReauthenticatesOnceOn401(t *testing.T) {
	var logins int32
	sessions := newTestSessions(t, &logins)

	var tourCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&tourCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(page("drv-7", 0, pkg("A", "pending")))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, sessions)
	c.Backoff = time.Millisecond

	m, err := c.FetchManifest(context.Background(), "t1", "2026-08-30")
	require.NoError(t, err)
	require.Len(t, m.Packages, 1)
	require.Equal(t, int32(2), atomic.LoadInt32(&logins), "one re-login after the 401")
}

func TestFetchManifestSecond401IsFatal(t *testing.T) {
	var logins int32
	sessions := newTestSessions(t, &logins)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, sessions)
	c.Backoff = time.Millisecond

	_, err := c.FetchManifest(context.Background(), "t1", "2026-08-30")
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestFetchManifestKeepsPartialProgress(t *testing.T) {
	var logins int32
	sessions := newTestSessions(t, &logins)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			w.Write(page("drv-7", 2, pkg("A", "pending"), pkg("B", "pending")))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, sessions)
	c.Backoff = time.Millisecond
	c.MaxAttempts = 2

	m, err := c.FetchManifest(context.Background(), "t1", "2026-08-30")
	require.NoError(t, err, "a partial manifest is not an error")
	require.True(t, m.Partial)
	require.Len(t, m.Packages, 2)
	require.Len(t, m.FetchErrors, 1)
	require.Contains(t, m.FetchErrors[0], "page 2")
}

func TestFetchPageRetriesTransientFailures(t *testing.T) {
	var logins int32
	sessions := newTestSessions(t, &logins)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(page("drv-7", 0, pkg("A", "pending")))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, sessions)
	c.Backoff = time.Millisecond

	m, err := c.FetchManifest(context.Background(), "t1", "2026-08-30")
	require.NoError(t, err)
	require.False(t, m.Partial)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchManifestCarriesCoordinatesFromProvider(t *testing.T) {
	var logins int32
	sessions := newTestSessions(t, &logins)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := pkg("A", "pending")
		p["latitude"] = 48.85
		p["longitude"] = 2.35
		w.Write(page("drv-7", 0, p))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, sessions)

	m, err := c.FetchManifest(context.Background(), "t1", "2026-08-30")
	require.NoError(t, err)
	require.NotNil(t, m.Packages[0].Coordinates)
	require.Equal(t, 48.85, m.Packages[0].Coordinates.Lat)
	require.Equal(t, 2.35, m.Packages[0].Coordinates.Lng)
}

func TestMapStatus(t *testing.T) {
	cases := map[string]model.DeliveryState{
		"delivered": model.StateDelivered,
		"LIVRE":     model.StateDelivered,
		"failed":    model.StateFailed,
		"echec":     model.StateFailed,
		"pending":   model.StatePending,
		"en_cours":  model.StatePending,
		"":          model.StatePending,
	}
	for in, want := range cases {
		require.Equal(t, want, mapStatus(in), fmt.Sprintf("status %q", in))
	}
}
