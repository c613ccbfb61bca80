// Package matching selects response units for a target position.
package matching

import (
	"github.com/medidispatch/dispatch-core/core/geo"
	"github.com/medidispatch/dispatch-core/core/model"
)

// Candidate is a unit paired with its distance to the target.
type Candidate struct {
	Unit       model.Unit
	DistanceKm float64
}

// FindNearest scans candidates linearly and returns the closest one. Ties go
// to the first unit in iteration order, which is stable but arbitrary. The
// result is advisory: the unit may be claimed by someone else before the
// caller reserves it.
func FindNearest(target model.Coordinate, units []model.Unit) (Candidate, bool) {
	var (
		best  Candidate
		found bool
	)
	for _, u := range units {
		d := geo.Distance(target, u.Location)
		if !found || d < best.DistanceKm {
			best = Candidate{Unit: u, DistanceKm: d}
			found = true
		}
	}
	return best, found
}
