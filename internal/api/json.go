package api

import (
	"encoding/json"
	"net/http"

	"tournav/internal/route"
)

// Problem is the RFC7807 body every non-2xx response carries. Provider
// failures map onto it via providerStatus; reorder conflicts extend it with
// the offending tracking numbers (see conflictProblem).
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Extension members for reorder conflicts.
	Missing    []string `json:"missing,omitempty"`
	Unknown    []string `json:"unknown,omitempty"`
	Locked     []string `json:"locked,omitempty"`
	Duplicates []string `json:"duplicates,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// conflictProblem renders a rejected manual sequence: 409 plus the tracking
// numbers in each offender bucket, so the dispatcher UI can highlight them.
func conflictProblem(w http.ResponseWriter, c *route.ConflictError, instance string) {
	writeJSON(w, http.StatusConflict, Problem{
		Type:       "about:blank",
		Title:      "reorder conflict",
		Status:     http.StatusConflict,
		Detail:     c.Error(),
		Instance:   instance,
		Missing:    c.Missing,
		Unknown:    c.Unknown,
		Locked:     c.Locked,
		Duplicates: c.Duplicates,
	})
}
