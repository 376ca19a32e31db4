// Package match finds the closest enrolled signature to a query.
package match

import (
	"math"

	"github.com/your-org/attend/internal/gallery"
)

// DefaultTolerance is the distance threshold used when none is configured.
const DefaultTolerance = 0.6

// Result is either a match (Matched true) or NoMatch.
type Result struct {
	Matched    bool
	IdentityID string
	Distance   float64
}

// NoMatch is the result for an empty gallery or a query beyond tolerance.
var NoMatch = Result{}

// Confidence is 1 - Distance. It is only meaningful for a match.
func (r Result) Confidence() float64 {
	if !r.Matched {
		return 0
	}
	return 1 - r.Distance
}

// Match scans every entry of snap and returns the nearest one when its
// Euclidean distance is within tolerance. On equal distances the entry
// earliest in snapshot order wins.
func Match(query []float32, snap *gallery.Snapshot, tolerance float64) Result {
	if snap == nil || len(query) == 0 {
		return NoMatch
	}

	best := -1
	bestDist := math.Inf(1)
	for i, e := range snap.Entries() {
		if len(e.Vector) != len(query) {
			continue
		}
		d := Distance(query, e.Vector)
		if d < bestDist {
			best, bestDist = i, d
		}
	}

	if best < 0 || bestDist > tolerance {
		return NoMatch
	}
	return Result{
		Matched:    true,
		IdentityID: snap.Entries()[best].IdentityID,
		Distance:   bestDist,
	}
}

// Distance is the Euclidean distance between a and b, which must have equal length.
func Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
