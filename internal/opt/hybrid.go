// Package opt computes delivery sequences by combining the provider's
// native package order with geographic nearest-neighbor clustering.
package opt

import (
	"time"

	"tournav/internal/metrics"
	"tournav/internal/model"
)

type point struct {
	Lat, Lng float64
}

// partition tags every non-failed package exactly once:
//   - locked: delivered, position is immutable history
//   - movable: pending with resolved coordinates
//   - unresolved: pending without coordinates, appended last in provider order
type partition struct {
	included   []model.PackageRecord // provider order, failed packages dropped
	lockedAt   map[int]string        // slot in included order -> tracking number
	movable    []int                 // indices into included
	unresolved []int
}

func split(m model.TourManifest) partition {
	p := partition{lockedAt: map[int]string{}}
	for _, pkg := range m.Packages {
		if pkg.DeliveryState == model.StateFailed {
			continue
		}
		idx := len(p.included)
		p.included = append(p.included, pkg)
		switch {
		case pkg.DeliveryState == model.StateDelivered:
			p.lockedAt[idx] = pkg.TrackingNumber
		case pkg.Coordinates != nil:
			p.movable = append(p.movable, idx)
		default:
			p.unresolved = append(p.unresolved, idx)
		}
	}
	return p
}

// anchor is the vehicle's assumed position: the last delivered package with
// coordinates, else the first movable package (a zero-cost start).
func (p partition) anchor() (point, bool) {
	for i := len(p.included) - 1; i >= 0; i-- {
		pkg := p.included[i]
		if pkg.DeliveryState == model.StateDelivered && pkg.Coordinates != nil {
			return point{pkg.Coordinates.Lat, pkg.Coordinates.Lng}, true
		}
	}
	if len(p.movable) > 0 {
		c := p.included[p.movable[0]].Coordinates
		return point{c.Lat, c.Lng}, true
	}
	return point{}, false
}

// Optimize produces the hybrid sequence for a manifest: locked packages keep
// their absolute slots, movable packages are reordered by a greedy
// nearest-neighbor walk plus a bounded 2-opt pass, unresolved packages ride
// last in provider order. Score covers the movable+unresolved segment only.
func Optimize(m model.TourManifest, improveIterations int) model.OptimizedRoute {
	start := time.Now()
	p := split(m)

	pts := make([]point, len(p.included))
	for i, pkg := range p.included {
		if pkg.Coordinates != nil {
			pts[i] = point{pkg.Coordinates.Lat, pkg.Coordinates.Lng}
		}
	}

	movOrder := append([]int(nil), p.movable...)
	anchor, ok := p.anchor()
	if ok && len(movOrder) > 1 {
		movOrder = nearestNeighbor(anchor, pts, movOrder)
		movOrder = improve2Opt(anchor, pts, movOrder, improveIterations)
	}

	ordered := merge(p, movOrder)
	score := 0.0
	if ok {
		score = pathMeters(anchor, pts, movOrder)
	}

	metrics.OptimizeDuration.Observe(time.Since(start).Seconds())
	return model.OptimizedRoute{
		TourID:      m.ID,
		TenantID:    m.TenantID,
		TourDate:    m.TourDate,
		Ordered:     ordered,
		Score:       score,
		GeneratedAt: time.Now().UTC(),
	}
}

// nearestNeighbor walks greedily from the anchor. Candidates are scanned in
// provider order and replaced only on strictly smaller distance, so equal
// distances keep the original order (stable).
func nearestNeighbor(anchor point, pts []point, candidates []int) []int {
	remaining := append([]int(nil), candidates...)
	out := make([]int, 0, len(remaining))
	cur := anchor
	for len(remaining) > 0 {
		bestAt := 0
		bestDist := haversineMeters(cur.Lat, cur.Lng, pts[remaining[0]].Lat, pts[remaining[0]].Lng)
		for i := 1; i < len(remaining); i++ {
			d := haversineMeters(cur.Lat, cur.Lng, pts[remaining[i]].Lat, pts[remaining[i]].Lng)
			if d < bestDist {
				bestAt = i
				bestDist = d
			}
		}
		pick := remaining[bestAt]
		out = append(out, pick)
		cur = pts[pick]
		remaining = append(remaining[:bestAt], remaining[bestAt+1:]...)
	}
	return out
}

// merge lays out the final sequence: locked slots stay put, movable fill
// the remaining slots in computed order, unresolved go last.
func merge(p partition, movOrder []int) []string {
	n := len(p.included)
	out := make([]string, n)
	filled := make([]bool, n)
	for slot, tn := range p.lockedAt {
		out[slot] = tn
		filled[slot] = true
	}
	rest := make([]int, 0, len(movOrder)+len(p.unresolved))
	rest = append(rest, movOrder...)
	rest = append(rest, p.unresolved...)
	slot := 0
	for _, idx := range rest {
		for slot < n && filled[slot] {
			slot++
		}
		if slot >= n {
			break
		}
		out[slot] = p.included[idx].TrackingNumber
		filled[slot] = true
		slot++
	}
	return out
}

// SequenceScore recomputes the movable+unresolved segment distance for an
// explicit pending order, e.g. after a manual reorder. Packages without
// coordinates contribute nothing.
func SequenceScore(m model.TourManifest, pendingOrder []string) float64 {
	p := split(m)
	byTN := map[string]int{}
	for i, pkg := range p.included {
		byTN[pkg.TrackingNumber] = i
	}
	pts := make([]point, len(p.included))
	for i, pkg := range p.included {
		if pkg.Coordinates != nil {
			pts[i] = point{pkg.Coordinates.Lat, pkg.Coordinates.Lng}
		}
	}
	order := make([]int, 0, len(pendingOrder))
	for _, tn := range pendingOrder {
		idx, ok := byTN[tn]
		if !ok {
			continue
		}
		if p.included[idx].Coordinates == nil {
			continue
		}
		order = append(order, idx)
	}
	anchor, ok := p.anchor()
	if !ok || len(order) == 0 {
		return 0
	}
	return pathMeters(anchor, pts, order)
}
