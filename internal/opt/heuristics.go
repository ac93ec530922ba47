package opt

import "math"

// distance epsilon: a swap must beat the incumbent by more than this to be
// accepted, which keeps ties resolved in favor of the existing (provider)
// order.
const improveEps = 1e-3

// pathMeters sums straight-line distances from the anchor through the
// points in order.
func pathMeters(anchor point, pts []point, order []int) float64 {
	total := 0.0
	prev := anchor
	for _, i := range order {
		total += haversineMeters(prev.Lat, prev.Lng, pts[i].Lat, pts[i].Lng)
		prev = pts[i]
	}
	return total
}

// improve2Opt applies a bounded local-improvement pass over the anchored
// path: pairwise segment reversals, accepted only on strict improvement.
func improve2Opt(anchor point, pts []point, order []int, iterations int) []int {
	if iterations <= 0 {
		iterations = 1
	}
	best := append([]int(nil), order...)
	bestDist := pathMeters(anchor, pts, best)
	n := len(best)
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := reverseSegment(best, i, k)
				d := pathMeters(anchor, pts, cand)
				if d+improveEps < bestDist {
					best = cand
					bestDist = d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func reverseSegment(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
