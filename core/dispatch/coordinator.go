// Package dispatch assigns response units to emergency alerts and drives
// the alert through its lifecycle.
//
// The Coordinator is the only component that touches both the unit
// registry and the alert lifecycle. The registry decides claim races; the
// coordinator never holds a registry or lifecycle lock while doing I/O.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medidispatch/dispatch-core/core/dispatch/logging"
	"github.com/medidispatch/dispatch-core/core/events"
	"github.com/medidispatch/dispatch-core/core/geo"
	"github.com/medidispatch/dispatch-core/core/lifecycle"
	"github.com/medidispatch/dispatch-core/core/logger"
	"github.com/medidispatch/dispatch-core/core/matching"
	"github.com/medidispatch/dispatch-core/core/metrics"
	"github.com/medidispatch/dispatch-core/core/model"
	"github.com/medidispatch/dispatch-core/core/monitoring"
	"github.com/medidispatch/dispatch-core/core/notify"
	"github.com/medidispatch/dispatch-core/core/registry"
)

// Dispatch is the result of a successful CreateAlert.
type Dispatch struct {
	Alert      model.Alert `json:"alert"`
	Unit       model.Unit  `json:"unit"`
	DistanceKm float64     `json:"distance_km"`
	ETAMinutes int         `json:"eta_minutes"`
}

// Coordinator orchestrates matching, claiming, alert creation and
// notification.
type Coordinator struct {
	units    *registry.Registry
	alerts   *lifecycle.Lifecycle
	notifier notify.Notifier
	cfg      Config
	logger   logger.Logger

	mu      sync.RWMutex
	metrics metrics.MetricsSink
	monitor monitoring.Monitor
	store   logging.LogStore

	newID func() (string, error)
	claim func(ctx context.Context, unitID, alertID string) bool
	now   func() time.Time
}

// NewCoordinator wires a Coordinator. cfg defaults are applied.
func NewCoordinator(units *registry.Registry, alerts *lifecycle.Lifecycle, notifier notify.Notifier, cfg Config, log logger.Logger) (*Coordinator, error) {
	if units == nil {
		return nil, fmt.Errorf("unit registry is nil")
	}
	if alerts == nil {
		return nil, fmt.Errorf("alert lifecycle is nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is nil")
	}
	if log == nil {
		log = logger.Nop{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		units:    units,
		alerts:   alerts,
		notifier: notifier,
		cfg:      cfg,
		logger:   log,
		metrics:  metrics.NopSink{},
		monitor:  monitoring.NopMonitor{},
		newID:    newAlertID,
		now:      time.Now,
	}
	c.claim = units.TryClaim
	return c, nil
}

func newAlertID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// SetMetrics configures the sink receiving dispatch metrics.
func (c *Coordinator) SetMetrics(sink metrics.MetricsSink) {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	c.mu.Lock()
	c.metrics = sink
	c.mu.Unlock()
}

// SetMonitor configures where unexpected failures are reported.
func (c *Coordinator) SetMonitor(m monitoring.Monitor) {
	if m == nil {
		m = monitoring.NopMonitor{}
	}
	c.mu.Lock()
	c.monitor = m
	c.mu.Unlock()
}

// SetLogStore configures the audit log.
func (c *Coordinator) SetLogStore(store logging.LogStore) {
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()
}

// LogStore returns the configured audit log, or nil.
func (c *Coordinator) LogStore() logging.LogStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

func (c *Coordinator) deps() (metrics.MetricsSink, monitoring.Monitor, logging.LogStore) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics, c.monitor, c.store
}

// CreateAlert assigns the nearest available unit to a new alert at loc.
//
// A lost claim race re-scans the registry and tries the next nearest unit
// that has not been tried yet, up to Config.ClaimAttempts claims. No alert
// is created when no unit can be claimed. If the alert cannot be persisted
// the unit is released before the error is returned.
func (c *Coordinator) CreateAlert(ctx context.Context, loc model.Coordinate) (Dispatch, error) {
	start := c.now()
	if err := loc.Validate(); err != nil {
		c.recordDispatch(metrics.DispatchEvent{Outcome: metrics.OutcomeInvalidInput, Time: start})
		return Dispatch{}, err
	}
	alertID, err := c.newID()
	if err != nil {
		return Dispatch{}, fmt.Errorf("generate alert id: %w", err)
	}

	cand, attempts, ok, err := c.claimNearest(ctx, loc, alertID)
	if err != nil {
		c.logger.Warnw("alert abandoned", map[string]any{"lat": loc.Lat, "lng": loc.Lng, "attempts": attempts, "error": err})
		c.audit(context.WithoutCancel(ctx), logging.LogRecord{Timestamp: start.UTC(), Outcome: logging.OutcomeCanceled, Lat: loc.Lat, Lng: loc.Lng,
			Attempts: attempts, Error: err.Error()})
		c.finish(start, metrics.DispatchEvent{Outcome: metrics.OutcomeCanceled, Attempts: attempts})
		return Dispatch{}, fmt.Errorf("alert at %s: %w", loc, err)
	}
	if !ok {
		c.logger.Warnw("no unit available", map[string]any{"lat": loc.Lat, "lng": loc.Lng, "attempts": attempts})
		c.audit(ctx, logging.LogRecord{Timestamp: start.UTC(), Outcome: logging.OutcomeNoCapacity, Lat: loc.Lat, Lng: loc.Lng, Attempts: attempts})
		c.finish(start, metrics.DispatchEvent{Outcome: metrics.OutcomeNoCapacity, Attempts: attempts})
		return Dispatch{}, fmt.Errorf("alert at %s: %w", loc, ErrNoCapacity)
	}

	eta := geo.ETAMinutes(cand.DistanceKm, c.cfg.AverageSpeedKmh)
	created := c.now().UTC()
	arrival := created.Add(time.Duration(eta) * time.Minute)
	alert, err := c.alerts.Create(ctx, model.Alert{
		ID:               alertID,
		Location:         loc,
		AssignedUnitID:   cand.Unit.ID,
		UnitActive:       true,
		Status:           model.AlertAssigned,
		DistanceKm:       cand.DistanceKm,
		ETAMinutes:       eta,
		CreatedAt:        created,
		EstimatedArrival: &arrival,
	})
	if err != nil {
		c.compensate(ctx, cand.Unit.ID, alertID, err)
		c.audit(ctx, logging.LogRecord{Timestamp: created, AlertID: alertID, UnitID: cand.Unit.ID, Outcome: logging.OutcomeStoreUnavailable,
			Lat: loc.Lat, Lng: loc.Lng, Attempts: attempts, Error: err.Error()})
		c.finish(start, metrics.DispatchEvent{AlertID: alertID, UnitID: cand.Unit.ID, Outcome: metrics.OutcomeStoreUnavailable, Attempts: attempts})
		return Dispatch{}, err
	}

	unit, err := c.units.Get(cand.Unit.ID)
	if err != nil {
		unit = cand.Unit
	}
	c.publish(events.AlertEvent{
		Type:    events.Created,
		AlertID: alert.ID,
		Status:  alert.Status.String(),
		Unit:    events.NewUnitView(unit, cand.DistanceKm, eta),
		Time:    created,
	})
	c.logger.Infow("alert assigned", map[string]any{
		"alert_id": alert.ID, "unit_id": unit.ID, "distance_km": events.RoundKm(cand.DistanceKm),
		"eta_minutes": eta, "attempts": attempts,
	})
	c.audit(ctx, logging.LogRecord{Timestamp: created, AlertID: alert.ID, UnitID: unit.ID, Outcome: logging.OutcomeAssigned,
		Lat: loc.Lat, Lng: loc.Lng, DistanceKm: cand.DistanceKm, ETAMinutes: eta, Attempts: attempts})
	c.finish(start, metrics.DispatchEvent{AlertID: alert.ID, UnitID: unit.ID, Outcome: metrics.OutcomeAssigned,
		DistanceKm: cand.DistanceKm, ETAMinutes: eta, Attempts: attempts})

	return Dispatch{Alert: alert, Unit: unit, DistanceKm: cand.DistanceKm, ETAMinutes: eta}, nil
}

// claimNearest returns the claimed candidate and the number of claims tried.
// The error is set only when ctx ends before a unit is claimed.
func (c *Coordinator) claimNearest(ctx context.Context, loc model.Coordinate, alertID string) (matching.Candidate, int, bool, error) {
	tried := make(map[string]struct{}, c.cfg.ClaimAttempts)
	attempts := 0
	for attempts < c.cfg.ClaimAttempts {
		if err := ctx.Err(); err != nil {
			return matching.Candidate{}, attempts, false, err
		}
		avail := c.units.ListAvailable()
		pool := avail[:0]
		for _, u := range avail {
			if _, skip := tried[u.ID]; !skip {
				pool = append(pool, u)
			}
		}
		cand, ok := matching.FindNearest(loc, pool)
		if !ok {
			return matching.Candidate{}, attempts, false, nil
		}
		attempts++
		if c.claim(ctx, cand.Unit.ID, alertID) {
			return cand, attempts, true, nil
		}
		claimConflicts.Inc()
		c.logger.Debugw("claim lost", map[string]any{"unit_id": cand.Unit.ID, "alert_id": alertID, "attempt": attempts})
		tried[cand.Unit.ID] = struct{}{}
	}
	claimsExhausted.Inc()
	return matching.Candidate{}, attempts, false, nil
}

func (c *Coordinator) compensate(ctx context.Context, unitID, alertID string, cause error) {
	_, mon, _ := c.deps()
	mon.CaptureException(cause, map[string]string{"op": "create_alert", "alert_id": alertID, "unit_id": unitID})
	if _, err := c.units.ReleaseIfBound(ctx, unitID, alertID); err != nil {
		c.logger.Errorw("release after failed alert persist", map[string]any{"unit_id": unitID, "alert_id": alertID, "error": err.Error()})
		return
	}
	c.logger.Warnw("alert not persisted, unit released", map[string]any{"unit_id": unitID, "alert_id": alertID, "error": cause.Error()})
}

// ReportUnitLocation records a position measured now. See
// ReportUnitLocationAt.
func (c *Coordinator) ReportUnitLocation(ctx context.Context, unitID string, loc model.Coordinate) (model.Unit, error) {
	return c.ReportUnitLocationAt(ctx, unitID, loc, c.now())
}

// ReportUnitLocationAt records a position measured at ts. Reports older than
// the unit's last position fail with ErrStaleReport. When the unit still
// serves an active alert, a location_update event with the distance to the
// alert and a fresh ETA is published on that alert's topic.
func (c *Coordinator) ReportUnitLocationAt(ctx context.Context, unitID string, loc model.Coordinate, ts time.Time) (model.Unit, error) {
	u, err := c.units.UpdateLocation(ctx, unitID, loc, ts)
	if err != nil {
		return u, err
	}
	sink, _, _ := c.deps()
	if rec, ok := sink.(metrics.LocationRecorder); ok {
		if err := rec.RecordLocation(metrics.LocationEvent{UnitID: u.ID, AlertID: u.AssignedAlertID, Lat: loc.Lat, Lng: loc.Lng, Time: u.LocatedAt}); err != nil {
			c.logger.Warnf("record location: %v", err)
		}
	}
	if u.State != model.UnitBusy || u.AssignedAlertID == "" || u.AssignedAlertID == registry.ManualHoldID {
		return u, nil
	}

	alert, err := c.alerts.Get(ctx, u.AssignedAlertID)
	if err != nil {
		c.logger.Debugw("location update for alert not served here", map[string]any{"unit_id": u.ID, "alert_id": u.AssignedAlertID, "error": err})
		return u, nil
	}
	if !alert.UnitActive || alert.AssignedUnitID != u.ID {
		return u, nil
	}
	km := geo.Distance(u.Location, alert.Location)
	c.publish(events.AlertEvent{
		Type:    events.LocationUpdate,
		AlertID: alert.ID,
		Status:  alert.Status.String(),
		Unit:    events.NewUnitView(u, km, geo.ETAMinutes(km, c.cfg.AverageSpeedKmh)),
		Time:    u.LocatedAt,
	})
	return u, nil
}

// AdvanceAlertStatus moves the alert strictly forward. Entering COMPLETED
// releases the assigned unit when it is still bound to this alert.
func (c *Coordinator) AdvanceAlertStatus(ctx context.Context, alertID string, status model.AlertStatus) (model.Alert, error) {
	tr, err := c.alerts.Advance(ctx, alertID, status)
	if err != nil {
		return model.Alert{}, err
	}
	alert := tr.Alert
	sink, _, _ := c.deps()
	if rec, ok := sink.(metrics.StatusRecorder); ok {
		if err := rec.RecordStatusChange(metrics.StatusEvent{AlertID: alert.ID, UnitID: alert.AssignedUnitID,
			From: tr.From.String(), To: alert.Status.String(), Time: alert.UpdatedAt}); err != nil {
			c.logger.Warnf("record status change: %v", err)
		}
	}

	var unit model.Unit
	if alert.AssignedUnitID != "" {
		unit, _ = c.units.Get(alert.AssignedUnitID)
	}
	if alert.Status.Terminal() && alert.AssignedUnitID != "" {
		released, err := c.units.ReleaseIfBound(ctx, alert.AssignedUnitID, alert.ID)
		if err != nil {
			c.logger.Errorw("release on completion", map[string]any{"alert_id": alert.ID, "unit_id": alert.AssignedUnitID, "error": err.Error()})
		}
		if released {
			unit, _ = c.units.Get(alert.AssignedUnitID)
			c.recordFleet()
		}
		c.audit(ctx, logging.LogRecord{Timestamp: alert.UpdatedAt, AlertID: alert.ID, UnitID: alert.AssignedUnitID,
			Outcome: logging.OutcomeCompleted, Lat: alert.Location.Lat, Lng: alert.Location.Lng})
	}

	c.publish(events.AlertEvent{
		Type:    events.StatusChanged,
		AlertID: alert.ID,
		Status:  alert.Status.String(),
		Unit:    events.NewUnitView(unit, -1, 0),
		Time:    alert.UpdatedAt,
	})
	c.logger.Infow("alert advanced", map[string]any{"alert_id": alert.ID, "from": tr.From.String(), "to": alert.Status.String()})
	return alert, nil
}

// SetUnitStatus is the manual override. Setting AVAILABLE clears the unit's
// assignment and detaches it from the alert it served; the alert keeps its
// status.
func (c *Coordinator) SetUnitStatus(ctx context.Context, unitID string, state model.UnitState) (model.Unit, error) {
	u, prevAlert, err := c.units.SetState(ctx, unitID, state)
	if err != nil {
		return model.Unit{}, err
	}
	c.recordFleet()
	if prevAlert == "" {
		return u, nil
	}
	alert, detached, err := c.alerts.DetachUnit(ctx, prevAlert, unitID)
	if err != nil {
		c.logger.Warnw("detach unit from alert", map[string]any{"unit_id": unitID, "alert_id": prevAlert, "error": err.Error()})
		return u, nil
	}
	if detached {
		c.audit(ctx, logging.LogRecord{Timestamp: c.now().UTC(), AlertID: prevAlert, UnitID: unitID, Outcome: logging.OutcomeReleased,
			Lat: alert.Location.Lat, Lng: alert.Location.Lng})
		c.publish(events.AlertEvent{
			Type:    events.StatusChanged,
			AlertID: prevAlert,
			Status:  alert.Status.String(),
			Unit:    events.NewUnitView(u, -1, 0),
			Time:    alert.UpdatedAt,
		})
	}
	return u, nil
}

// GetAlert returns the alert and the current state of its assigned unit.
// The unit is zero when the alert has none or it is no longer registered.
func (c *Coordinator) GetAlert(ctx context.Context, alertID string) (model.Alert, model.Unit, error) {
	alert, err := c.alerts.Get(ctx, alertID)
	if err != nil {
		return model.Alert{}, model.Unit{}, err
	}
	if alert.AssignedUnitID == "" {
		return alert, model.Unit{}, nil
	}
	unit, err := c.units.Get(alert.AssignedUnitID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return model.Alert{}, model.Unit{}, err
	}
	return alert, unit, nil
}

// ListUnits returns every registered unit ordered by id.
func (c *Coordinator) ListUnits() []model.Unit {
	return c.units.List()
}

// RegisterUnit adds or refreshes a unit.
func (c *Coordinator) RegisterUnit(ctx context.Context, u model.Unit) (model.Unit, error) {
	got, err := c.units.Register(ctx, u)
	if err != nil {
		return model.Unit{}, err
	}
	c.recordFleet()
	return got, nil
}

// Subscribe opens an event stream on an existing alert's topic.
func (c *Coordinator) Subscribe(ctx context.Context, alertID string) (<-chan events.AlertEvent, error) {
	if _, err := c.alerts.Get(ctx, alertID); err != nil {
		return nil, err
	}
	return c.notifier.Subscribe(alertID), nil
}

// Unsubscribe stops delivery on a channel returned by Subscribe.
func (c *Coordinator) Unsubscribe(alertID string, ch <-chan events.AlertEvent) {
	c.notifier.Unsubscribe(alertID, ch)
}

func (c *Coordinator) publish(ev events.AlertEvent) {
	c.notifier.Publish(ev.AlertID, ev)
	eventsPublished.WithLabelValues(string(ev.Type)).Inc()
}

func (c *Coordinator) audit(ctx context.Context, rec logging.LogRecord) {
	_, _, store := c.deps()
	if store == nil {
		return
	}
	if err := store.Append(ctx, rec); err != nil {
		c.logger.Errorf("audit log append: %v", err)
	}
}

func (c *Coordinator) finish(start time.Time, ev metrics.DispatchEvent) {
	ev.Time = start.UTC()
	ev.Latency = c.now().Sub(start)
	createLatency.WithLabelValues(ev.Outcome).Observe(ev.Latency.Seconds())
	c.recordDispatch(ev)
	if ev.Outcome == metrics.OutcomeAssigned {
		c.recordFleet()
	}
}

func (c *Coordinator) recordDispatch(ev metrics.DispatchEvent) {
	sink, _, _ := c.deps()
	if err := sink.RecordDispatch(ev); err != nil {
		c.logger.Warnf("record dispatch: %v", err)
	}
}

func (c *Coordinator) recordFleet() {
	sink, _, _ := c.deps()
	rec, ok := sink.(metrics.FleetRecorder)
	if !ok {
		return
	}
	all := c.units.List()
	avail := 0
	for _, u := range all {
		if u.Available() {
			avail++
		}
	}
	if err := rec.RecordFleet(metrics.FleetEvent{Available: avail, Total: len(all), Time: c.now().UTC()}); err != nil {
		c.logger.Warnf("record fleet: %v", err)
	}
}
