package model

import (
	"fmt"
	"strings"
	"time"
)

// AlertStatus is the lifecycle position of an alert. Values are ordered and
// an alert only ever moves forward.
type AlertStatus int

const (
	AlertPending AlertStatus = iota
	AlertAssigned
	AlertEnRoute
	AlertArrived
	AlertCompleted
)

var alertStatusNames = [...]string{"PENDING", "ASSIGNED", "EN_ROUTE", "ARRIVED", "COMPLETED"}

// String returns the wire name of the status.
func (s AlertStatus) String() string {
	if s < AlertPending || s > AlertCompleted {
		return "UNKNOWN"
	}
	return alertStatusNames[s]
}

// Valid reports whether s is one of the defined statuses.
func (s AlertStatus) Valid() bool { return s >= AlertPending && s <= AlertCompleted }

// Terminal reports whether no further transition is possible.
func (s AlertStatus) Terminal() bool { return s == AlertCompleted }

// CanAdvanceTo reports whether next is strictly after s.
func (s AlertStatus) CanAdvanceTo(next AlertStatus) bool {
	return s.Valid() && next.Valid() && next > s
}

// ParseAlertStatus converts a case-insensitive wire name into an AlertStatus.
func ParseAlertStatus(v string) (AlertStatus, error) {
	name := strings.ToUpper(strings.TrimSpace(v))
	for i, n := range alertStatusNames {
		if n == name {
			return AlertStatus(i), nil
		}
	}
	return 0, fmt.Errorf("alert status %q: %w", v, ErrInvalidStatus)
}

func (s AlertStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("alert status %d: %w", int(s), ErrInvalidStatus)
	}
	return []byte(s.String()), nil
}

func (s *AlertStatus) UnmarshalText(b []byte) error {
	v, err := ParseAlertStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Alert is a persisted emergency record bound to at most one unit.
//
// AssignedUnitID is kept after completion for audit; UnitActive tells
// whether the binding still holds the unit.
type Alert struct {
	ID               string      `json:"id"`
	Location         Coordinate  `json:"location"`
	AssignedUnitID   string      `json:"assigned_unit_id,omitempty"`
	UnitActive       bool        `json:"unit_active"`
	Status           AlertStatus `json:"status"`
	DistanceKm       float64     `json:"distance_km"`
	ETAMinutes       int         `json:"eta_minutes"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	EstimatedArrival *time.Time  `json:"estimated_arrival,omitempty"`
}
