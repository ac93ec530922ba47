package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fake provider + geocoder backends for a full end-to-end pass.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok", "matricule": "m1", "expiresIn": 600})
	}))
	t.Cleanup(auth.Close)

	tours := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"driverRef": "drv-7",
			"nextPage":  0,
			"packages": []map[string]any{
				{"trackingNumber": "A", "address": "depot", "status": "livre", "latitude": 48.850, "longitude": 2.350},
				{"trackingNumber": "B", "address": "b street", "status": "pending", "latitude": 48.880, "longitude": 2.380},
				{"trackingNumber": "C", "address": "c street", "status": "pending", "latitude": 48.860, "longitude": 2.360},
			},
		})
	}))
	t.Cleanup(tours.Close)

	geocoder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"features": []any{}})
	}))
	t.Cleanup(geocoder.Close)

	t.Setenv("PROVIDER_AUTH_URL", auth.URL)
	t.Setenv("PROVIDER_TOUR_URL", tours.URL)
	t.Setenv("MAPBOX_BASE_URL", geocoder.URL)
	t.Setenv("MAPBOX_TOKEN", "test-token")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func login(t *testing.T, s *Server) {
	t.Helper()
	body := []byte(`{"username":"u","password":"good","societe":"PARIS01"}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth", bytes.NewReader(body))
	req.Header.Set("X-Tenant-Id", "t_test")
	s.AuthHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("auth: got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestAuthRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"username":"u","password":"bad","societe":"PARIS01"}`)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth", bytes.NewReader(body))
	req.Header.Set("X-Tenant-Id", "t_test")
	s.AuthHandler(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("auth: got %d, want 401", rr.Code)
	}
}

func TestAuthValidatesBody(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth", bytes.NewReader([]byte(`{"username":"u"}`)))
	s.AuthHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("auth: got %d, want 400", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.AuthHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/auth", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("auth GET: got %d, want 405", rr.Code)
	}
}

func TestToursFetchOptimizeReorder(t *testing.T) {
	s := newTestServer(t)
	login(t, s)
	date := time.Now().Format("2006-01-02")

	// GET /v1/tours
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/tours?date="+date, nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.ToursHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("tours: got %d: %s", rr.Code, rr.Body.String())
	}
	var tourResp struct {
		Manifest struct {
			DriverRef string `json:"driverRef"`
			Packages  []struct {
				TrackingNumber string `json:"trackingNumber"`
			} `json:"packages"`
		} `json:"manifest"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &tourResp); err != nil {
		t.Fatalf("tours decode: %v", err)
	}
	if tourResp.Manifest.DriverRef != "drv-7" || len(tourResp.Manifest.Packages) != 3 {
		t.Fatalf("tours: unexpected manifest: %s", rr.Body.String())
	}

	// POST /v1/tours/optimize
	b, _ := json.Marshal(map[string]string{"date": date})
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/tours/optimize", bytes.NewReader(b))
	req.Header.Set("X-Tenant-Id", "t_test")
	s.OptimizeHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("optimize: got %d: %s", rr.Code, rr.Body.String())
	}
	var route struct {
		Ordered []string `json:"ordered"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &route); err != nil {
		t.Fatalf("optimize decode: %v", err)
	}
	// A delivered first, C closer to A than B
	want := []string{"A", "C", "B"}
	for i, tn := range want {
		if route.Ordered[i] != tn {
			t.Fatalf("optimize: got %v, want %v", route.Ordered, want)
		}
	}

	// POST /v1/tours/reorder
	b, _ = json.Marshal(map[string]any{"date": date, "newSequence": []string{"B", "C"}, "issuedBy": "disp-9"})
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/tours/reorder", bytes.NewReader(b))
	req.Header.Set("X-Tenant-Id", "t_test")
	s.ReorderHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("reorder: got %d: %s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &route); err != nil {
		t.Fatalf("reorder decode: %v", err)
	}
	if route.Ordered[1] != "B" || route.Ordered[2] != "C" {
		t.Fatalf("reorder: got %v", route.Ordered)
	}

	// GET /v1/tours/reorders
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/tours/reorders", nil)
	req.Header.Set("X-Tenant-Id", "t_test")
	s.ReorderAuditHandler(rr, req)
	if rr.Code != 200 {
		t.Fatalf("reorder audit: got %d", rr.Code)
	}
	var auditResp struct {
		Audits []struct {
			IssuedBy string `json:"issuedBy"`
		} `json:"audits"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &auditResp); err != nil {
		t.Fatalf("audit decode: %v", err)
	}
	if len(auditResp.Audits) != 1 || auditResp.Audits[0].IssuedBy != "disp-9" {
		t.Fatalf("audit: %s", rr.Body.String())
	}
}

func TestReorderConflictReturns409(t *testing.T) {
	s := newTestServer(t)
	login(t, s)
	date := time.Now().Format("2006-01-02")

	// "A" is delivered and may not appear in a manual sequence.
	b, _ := json.Marshal(map[string]any{"date": date, "newSequence": []string{"A", "B", "C"}})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/tours/reorder", bytes.NewReader(b))
	req.Header.Set("X-Tenant-Id", "t_test")
	s.ReorderHandler(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("reorder: got %d, want 409: %s", rr.Code, rr.Body.String())
	}
	var conflict struct {
		Locked []string `json:"locked"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &conflict); err != nil {
		t.Fatalf("conflict decode: %v", err)
	}
	if len(conflict.Locked) != 1 || conflict.Locked[0] != "A" {
		t.Fatalf("conflict: %s", rr.Body.String())
	}
}

func TestToursInvalidDate(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/tours?date=30-08-2026", nil)
	s.ToursHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("tours: got %d, want 400", rr.Code)
	}
}

func TestToursWithoutSession(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/tours", nil)
	req.Header.Set("X-Tenant-Id", "t_never_logged_in")
	s.ToursHandler(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("tours: got %d, want 401", rr.Code)
	}
}

func TestTenantFromDevBearerToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/tours", nil)
	req.Header.Set("Authorization", "Bearer t_acme:dispatcher")
	if got := s.tenant(req); got != "t_acme" {
		t.Fatalf("tenant: got %q", got)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/tours", nil)
	if got := s.tenant(req); got != "t_demo" {
		t.Fatalf("tenant default: got %q", got)
	}
}
