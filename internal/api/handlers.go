package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"tournav/internal/buildinfo"
	"tournav/internal/model"
	"tournav/internal/provider"
	"tournav/internal/route"
	"tournav/internal/store"
)

func secDuration(sec int) time.Duration { return time.Duration(sec) * time.Second }

// dateParam validates an optional YYYY-MM-DD parameter, defaulting to today.
func dateParam(raw string) (string, bool) {
	if raw == "" {
		return time.Now().Format("2006-01-02"), true
	}
	if _, err := time.Parse("2006-01-02", raw); err != nil {
		return "", false
	}
	return raw, true
}

// providerStatus maps provider failures to HTTP statuses.
func providerStatus(err error) (int, string) {
	switch {
	case errors.Is(err, provider.ErrAuthentication):
		return http.StatusUnauthorized, "provider authentication failed"
	case errors.Is(err, provider.ErrUnavailable):
		return http.StatusBadGateway, "provider unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

type readyPinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler reports readiness of the backing KV and store when they
// expose a Ping (redis/postgres). In-memory backends are always ready.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if rp, ok := s.KV.(readyPinger); ok {
		if err := rp.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "not ready", "cache: "+err.Error(), r.URL.Path)
			return
		}
	}
	if sp, ok := s.Store.(readyPinger); ok {
		if err := sp.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "not ready", "store: "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Societe  string `json:"societe"`
}

// AuthHandler logs a tenant into the provider SSO and registers its
// credentials for background refresh. POST /v1/auth.
func (s *Server) AuthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeProblem(w, http.StatusBadRequest, "invalid body", "username and password are required", r.URL.Path)
		return
	}
	tenant := s.tenant(r)
	if req.Societe == "" {
		// Fall back to the company record's provider code.
		if c, err := s.Store.GetCompany(r.Context(), tenant); err == nil {
			req.Societe = c.Societe
		}
	}
	sess, err := s.Sessions.Authenticate(r.Context(), tenant, model.Credentials{
		Username: req.Username,
		Password: req.Password,
		Societe:  req.Societe,
	})
	if err != nil {
		code, title := providerStatus(err)
		writeProblem(w, code, title, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId":  tenant,
		"matricule": sess.Matricule,
		"expiresAt": sess.ExpiresAt,
	})
}

// ToursHandler returns the day's manifest. GET /v1/tours?date=YYYY-MM-DD.
// refresh=true forces a fresh provider fetch and drops the cached route.
func (s *Server) ToursHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	date, ok := dateParam(r.URL.Query().Get("date"))
	if !ok {
		writeProblem(w, http.StatusBadRequest, "invalid date", "expected YYYY-MM-DD", r.URL.Path)
		return
	}
	tenant := s.tenant(r)
	var (
		m   model.TourManifest
		err error
	)
	if r.URL.Query().Get("refresh") == "true" {
		m, err = s.Planner.RefreshManifest(r.Context(), tenant, date)
	} else {
		m, err = s.Planner.Manifest(r.Context(), tenant, date)
	}
	if err != nil {
		code, title := providerStatus(err)
		writeProblem(w, code, title, err.Error(), r.URL.Path)
		return
	}
	resp := map[string]any{"manifest": m}
	if m.DriverRef != "" {
		// A missing driver record is fine; the manifest stands on its own.
		if d, derr := s.Store.GetDriver(r.Context(), tenant, m.DriverRef); derr == nil {
			resp["driver"] = d
		} else if !errors.Is(derr, store.ErrNotFound) {
			log.Printf("driver lookup failed for %s/%s: %v", tenant, m.DriverRef, derr)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type optimizeRequest struct {
	Date string `json:"date"`
}

// OptimizeHandler returns the cached route for (tenant, date), computing it
// on a miss. POST /v1/tours/optimize.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
		return
	}
	date, ok := dateParam(req.Date)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "invalid date", "expected YYYY-MM-DD", r.URL.Path)
		return
	}
	tenant := s.tenant(r)
	rt, err := s.Planner.OptimizeRoute(r.Context(), tenant, date)
	if err != nil {
		code, title := providerStatus(err)
		writeProblem(w, code, title, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

type reorderRequest struct {
	Date        string   `json:"date"`
	NewSequence []string `json:"newSequence"`
	IssuedBy    string   `json:"issuedBy"`
}

// ReorderHandler applies a dispatcher-issued manual sequence. An invalid
// sequence is rejected in full with 409 and the offending tracking numbers.
// POST /v1/tours/reorder.
func (s *Server) ReorderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
		return
	}
	date, ok := dateParam(req.Date)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "invalid date", "expected YYYY-MM-DD", r.URL.Path)
		return
	}
	if len(req.NewSequence) == 0 {
		writeProblem(w, http.StatusBadRequest, "invalid body", "newSequence is required", r.URL.Path)
		return
	}
	tenant := s.tenant(r)
	rt, err := s.Reorders.ApplyReorder(r.Context(), tenant, date, req.NewSequence, req.IssuedBy)
	if err != nil {
		var conflict *route.ConflictError
		if errors.As(err, &conflict) {
			conflictProblem(w, conflict, r.URL.Path)
			return
		}
		code, title := providerStatus(err)
		writeProblem(w, code, title, err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// ReorderAuditHandler lists recorded reorders for the tenant.
// GET /v1/tours/reorders?tourId=&limit=.
func (s *Server) ReorderAuditHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	tenant := s.tenant(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	audits, err := s.Store.ListReorderAudit(r.Context(), tenant, r.URL.Query().Get("tourId"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "internal error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": audits})
}
