package route

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tournav/internal/metrics"
	"tournav/internal/model"
	"tournav/internal/opt"
	"tournav/internal/store"
)

// ConflictError rejects an invalid manual sequence in full, naming the
// offending tracking numbers. Nothing is partially applied.
type ConflictError struct {
	Missing    []string // pending packages absent from the new sequence
	Unknown    []string // tracking numbers not in the manifest's pending set
	Locked     []string // delivered packages illegally included
	Duplicates []string
}

func (e *ConflictError) Error() string {
	parts := []string{}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ","))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ","))
	}
	if len(e.Locked) > 0 {
		parts = append(parts, "locked: "+strings.Join(e.Locked, ","))
	}
	if len(e.Duplicates) > 0 {
		parts = append(parts, "duplicate: "+strings.Join(e.Duplicates, ","))
	}
	return "reorder conflict: " + strings.Join(parts, "; ")
}

func (e *ConflictError) empty() bool {
	return len(e.Missing) == 0 && len(e.Unknown) == 0 && len(e.Locked) == 0 && len(e.Duplicates) == 0
}

// Coordinator validates and applies dispatcher-issued sequence changes. A
// manual reorder is authoritative: the clustering step never runs on it.
type Coordinator struct {
	Planner *Planner
	Store   store.Store
}

func NewCoordinator(p *Planner, s store.Store) *Coordinator {
	return &Coordinator{Planner: p, Store: s}
}

// ApplyReorder checks that newSequence is a permutation of exactly the
// manifest's pending tracking numbers, rebuilds the full order with the
// delivered anchors untouched, recomputes the score over the new order, and
// atomically replaces the cached route. Validation runs against the
// manifest re-read under the commit lock, so a refresh that raced in while
// the dispatcher was editing rejects the now-stale sequence instead of
// silently applying it. Provenance is recorded.
func (c *Coordinator) ApplyReorder(ctx context.Context, tenantID, date string, newSequence []string, issuedBy string) (model.OptimizedRoute, error) {
	// Ensure a manifest exists; the fetch stays outside the lock.
	m, err := c.Planner.Manifest(ctx, tenantID, date)
	if err != nil {
		return model.OptimizedRoute{}, fmt.Errorf("reorder %s/%s: %w", tenantID, date, err)
	}

	lock := c.Planner.Results.CommitLock(tenantID, date)
	lock.Lock()
	defer lock.Unlock()
	if cur, err := c.Planner.Results.Manifest(ctx, tenantID, date); err == nil {
		m = cur
	}

	if conflict := validateSequence(m, newSequence); conflict != nil {
		metrics.ReorderConflicts.Inc()
		return model.OptimizedRoute{}, conflict
	}

	ordered := mergeManual(m, newSequence)
	now := time.Now().UTC()
	r := model.OptimizedRoute{
		TourID:      m.ID,
		TenantID:    tenantID,
		TourDate:    date,
		Ordered:     ordered,
		Score:       opt.SequenceScore(m, newSequence),
		GeneratedAt: now,
		IssuedBy:    issuedBy,
	}

	c.Planner.Results.Invalidate(ctx, tenantID, date)
	if err := c.Planner.Results.Put(ctx, r); err != nil {
		return model.OptimizedRoute{}, fmt.Errorf("reorder %s/%s: commit: %w", tenantID, date, err)
	}

	if c.Store != nil {
		audit := model.ReorderAudit{
			ID:       uuid.New().String(),
			TenantID: tenantID,
			TourID:   m.ID,
			IssuedBy: issuedBy,
			IssuedAt: now,
			Sequence: append([]string(nil), newSequence...),
		}
		if _, err := c.Store.InsertReorderAudit(ctx, audit); err != nil {
			// Audit is best-effort; the reorder itself already committed.
			return r, nil
		}
	}
	return r, nil
}

// validateSequence returns a ConflictError unless newSequence is exactly a
// permutation of the manifest's pending tracking numbers.
func validateSequence(m model.TourManifest, newSequence []string) *ConflictError {
	pending := map[string]bool{}
	locked := map[string]bool{}
	for _, pkg := range m.Packages {
		switch pkg.DeliveryState {
		case model.StatePending:
			pending[pkg.TrackingNumber] = false // false = not yet seen
		case model.StateDelivered:
			locked[pkg.TrackingNumber] = true
		}
	}

	conflict := &ConflictError{}
	for _, tn := range newSequence {
		if locked[tn] {
			conflict.Locked = append(conflict.Locked, tn)
			continue
		}
		seen, ok := pending[tn]
		if !ok {
			conflict.Unknown = append(conflict.Unknown, tn)
			continue
		}
		if seen {
			conflict.Duplicates = append(conflict.Duplicates, tn)
			continue
		}
		pending[tn] = true
	}
	for tn, seen := range pending {
		if !seen {
			conflict.Missing = append(conflict.Missing, tn)
		}
	}
	if conflict.empty() {
		return nil
	}
	return conflict
}

// mergeManual keeps every delivered package at its absolute slot and fills
// the remaining slots with the dispatcher's order.
func mergeManual(m model.TourManifest, newSequence []string) []string {
	included := make([]model.PackageRecord, 0, len(m.Packages))
	for _, pkg := range m.Packages {
		if pkg.DeliveryState == model.StateFailed {
			continue
		}
		included = append(included, pkg)
	}
	out := make([]string, len(included))
	filled := make([]bool, len(included))
	for i, pkg := range included {
		if pkg.DeliveryState == model.StateDelivered {
			out[i] = pkg.TrackingNumber
			filled[i] = true
		}
	}
	slot := 0
	for _, tn := range newSequence {
		for slot < len(out) && filled[slot] {
			slot++
		}
		if slot >= len(out) {
			break
		}
		out[slot] = tn
		filled[slot] = true
		slot++
	}
	return out
}
