package model

import (
	"fmt"
	"strings"
	"time"
)

// UnitState is the availability of a response unit.
type UnitState string

const (
	UnitAvailable UnitState = "AVAILABLE"
	UnitBusy      UnitState = "BUSY"
)

// ParseUnitState converts a case-insensitive string into a UnitState.
func ParseUnitState(s string) (UnitState, error) {
	switch UnitState(strings.ToUpper(strings.TrimSpace(s))) {
	case UnitAvailable:
		return UnitAvailable, nil
	case UnitBusy:
		return UnitBusy, nil
	default:
		return "", fmt.Errorf("unit state %q: %w", s, ErrInvalidStatus)
	}
}

// Unit represents a response vehicle (ambulance) known to the registry.
type Unit struct {
	ID              string     `json:"id"`
	Label           string     `json:"label"`
	Location        Coordinate `json:"location"`
	State           UnitState  `json:"state"`
	AssignedAlertID string     `json:"assigned_alert_id,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	// LocatedAt is when Location was measured. Reports taken before it are
	// ignored.
	LocatedAt time.Time `json:"located_at,omitempty"`
}

// Available reports whether the unit can be claimed.
func (u Unit) Available() bool { return u.State == UnitAvailable }

// Validate checks identifier, location and the state/assignment invariant.
func (u Unit) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("unit id is required: %w", ErrInvalidInput)
	}
	if err := u.Location.Validate(); err != nil {
		return fmt.Errorf("unit %s: %w", u.ID, err)
	}
	switch u.State {
	case UnitAvailable:
		if u.AssignedAlertID != "" {
			return fmt.Errorf("unit %s is available but bound to alert %s: %w", u.ID, u.AssignedAlertID, ErrInvalidInput)
		}
	case UnitBusy:
		if u.AssignedAlertID == "" {
			return fmt.Errorf("unit %s is busy without an alert: %w", u.ID, ErrInvalidInput)
		}
	default:
		return fmt.Errorf("unit %s state %q: %w", u.ID, u.State, ErrInvalidStatus)
	}
	return nil
}
