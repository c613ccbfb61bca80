package events

import (
	"math"
	"time"

	"github.com/medidispatch/dispatch-core/core/model"
)

// Type names an alert event on the wire.
type Type string

const (
	Created        Type = "created"
	LocationUpdate Type = "location_update"
	StatusChanged  Type = "status_changed"
)

// UnitView is the public projection of a unit carried by events.
type UnitView struct {
	ID         string           `json:"id"`
	Label      string           `json:"label"`
	Location   model.Coordinate `json:"location"`
	DistanceKm *float64         `json:"distance_km,omitempty"`
	ETAMinutes *int             `json:"eta_minutes,omitempty"`
}

// AlertEvent is published on the topic named after AlertID.
type AlertEvent struct {
	Type    Type      `json:"type"`
	AlertID string    `json:"alert_id"`
	Status  string    `json:"status,omitempty"`
	Unit    UnitView  `json:"unit"`
	Time    time.Time `json:"time"`
	// Origin names the instance that produced a relayed event. Empty for
	// events produced in this process.
	Origin string `json:"-"`
}

// NewUnitView builds the projection of u. A negative distance omits the
// distance and ETA fields.
func NewUnitView(u model.Unit, distanceKm float64, etaMinutes int) UnitView {
	v := UnitView{ID: u.ID, Label: u.Label, Location: u.Location}
	if distanceKm >= 0 {
		d := RoundKm(distanceKm)
		eta := etaMinutes
		v.DistanceKm = &d
		v.ETAMinutes = &eta
	}
	return v
}

// RoundKm rounds a distance to two decimals for display.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}
