package metrics

import (
	"time"
)

// Dispatch outcomes.
const (
	OutcomeAssigned         = "assigned"
	OutcomeNoCapacity       = "no_capacity"
	OutcomeStoreUnavailable = "store_unavailable"
	OutcomeInvalidInput     = "invalid_input"
	OutcomeCanceled         = "canceled"
)

// DispatchEvent describes one CreateAlert call.
type DispatchEvent struct {
	AlertID    string
	UnitID     string
	Outcome    string
	DistanceKm float64
	ETAMinutes int
	Attempts   int
	Latency    time.Duration
	Time       time.Time
}

// MetricsSink records dispatch outcomes.
type MetricsSink interface {
	RecordDispatch(ev DispatchEvent) error
}

// StatusEvent describes an alert status transition.
type StatusEvent struct {
	AlertID string
	UnitID  string
	From    string
	To      string
	Time    time.Time
}

// StatusRecorder records alert status transitions.
type StatusRecorder interface {
	RecordStatusChange(ev StatusEvent) error
}

// FleetEvent is a snapshot of unit availability.
type FleetEvent struct {
	Available int
	Total     int
	Time      time.Time
}

// FleetRecorder records unit availability snapshots.
type FleetRecorder interface {
	RecordFleet(ev FleetEvent) error
}

// LocationEvent is a unit position report.
type LocationEvent struct {
	UnitID  string
	AlertID string
	Lat     float64
	Lng     float64
	Time    time.Time
}

// LocationRecorder records unit position reports.
type LocationRecorder interface {
	RecordLocation(ev LocationEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordDispatch(DispatchEvent) error   { return nil }
func (NopSink) RecordStatusChange(StatusEvent) error { return nil }
func (NopSink) RecordFleet(FleetEvent) error         { return nil }
func (NopSink) RecordLocation(LocationEvent) error   { return nil }
