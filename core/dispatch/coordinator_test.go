package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medidispatch/dispatch-core/core/dispatch/logging"
	"github.com/medidispatch/dispatch-core/core/events"
	"github.com/medidispatch/dispatch-core/core/lifecycle"
	"github.com/medidispatch/dispatch-core/core/logger"
	"github.com/medidispatch/dispatch-core/core/metrics"
	"github.com/medidispatch/dispatch-core/core/model"
	"github.com/medidispatch/dispatch-core/core/monitoring"
	"github.com/medidispatch/dispatch-core/core/notify"
	"github.com/medidispatch/dispatch-core/core/registry"
)

type fixture struct {
	coord  *Coordinator
	units  *registry.Registry
	alerts *lifecycle.MemoryStore
	bus    *notify.Bus
	audit  *logging.MemoryStore
}

func newFixture(t *testing.T, units ...model.Unit) *fixture {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	reg := registry.New(registry.NewMemoryStore(units...), logger.Nop{})
	require.NoError(t, reg.Load(context.Background()))
	store := lifecycle.NewMemoryStore()
	bus := notify.NewBus(16)
	t.Cleanup(bus.Close)
	c, err := NewCoordinator(reg, lifecycle.New(store, logger.Nop{}), bus, Config{}, logger.Nop{})
	require.NoError(t, err)
	audit := logging.NewMemoryStore()
	c.SetLogStore(audit)
	return &fixture{coord: c, units: reg, alerts: store, bus: bus, audit: audit}
}

func ambulance(id string, lat, lng float64) model.Unit {
	return model.Unit{ID: id, Label: "Ambulance " + id, Location: model.Coordinate{Lat: lat, Lng: lng}, State: model.UnitAvailable}
}

func TestNewCoordinator_Validation(t *testing.T) {
	reg := registry.New(nil, logger.Nop{})
	lc := lifecycle.New(nil, logger.Nop{})
	bus := notify.NewBus(0)

	_, err := NewCoordinator(nil, lc, bus, Config{}, nil)
	assert.Error(t, err)
	_, err = NewCoordinator(reg, nil, bus, Config{}, nil)
	assert.Error(t, err)
	_, err = NewCoordinator(reg, lc, nil, Config{}, nil)
	assert.Error(t, err)
	_, err = NewCoordinator(reg, lc, bus, Config{AverageSpeedKmh: 1000}, nil)
	assert.Error(t, err)

	c, err := NewCoordinator(reg, lc, bus, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAverageSpeedKmh, c.cfg.AverageSpeedKmh)
	assert.Equal(t, DefaultClaimAttempts, c.cfg.ClaimAttempts)
}

func TestCreateAlert_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ambulance("amb-1", 19.0800, 72.8800))

	d, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	require.NoError(t, err)
	assert.InDelta(t, 0.51, d.DistanceKm, 0.01)
	assert.Equal(t, 1, d.ETAMinutes)
	assert.Equal(t, "amb-1", d.Unit.ID)
	assert.Equal(t, model.UnitBusy, d.Unit.State)
	assert.Equal(t, d.Alert.ID, d.Unit.AssignedAlertID)
	assert.Equal(t, model.AlertAssigned, d.Alert.Status)
	assert.True(t, d.Alert.UnitActive)
	require.NotNil(t, d.Alert.EstimatedArrival)
	assert.True(t, d.Alert.CreatedAt.Add(time.Minute).Equal(*d.Alert.EstimatedArrival))

	u, err := f.units.Get("amb-1")
	require.NoError(t, err)
	assert.Equal(t, model.UnitBusy, u.State)

	_, err = f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.Equal(t, 1, f.alerts.Len())

	recs, err := f.audit.Query(ctx, logging.LogQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, logging.OutcomeAssigned, recs[0].Outcome)
	assert.Equal(t, logging.OutcomeNoCapacity, recs[1].Outcome)
}

func TestCreateAlert_PicksNearest(t *testing.T) {
	f := newFixture(t,
		ambulance("far", 19.20, 72.90),
		ambulance("near", 19.077, 72.878),
		ambulance("mid", 19.10, 72.88),
	)
	d, err := f.coord.CreateAlert(context.Background(), model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	require.NoError(t, err)
	assert.Equal(t, "near", d.Unit.ID)
}

func TestCreateAlert_InvalidInput(t *testing.T) {
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88))
	_, err := f.coord.CreateAlert(context.Background(), model.Coordinate{Lat: 91, Lng: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, CodeInvalidInput, Code(err))
	assert.Len(t, f.units.ListAvailable(), 1)
	assert.Zero(t, f.alerts.Len())
}

func TestCreateAlert_NoUnits(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateAlert(context.Background(), model.Coordinate{Lat: 1, Lng: 1})
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.Equal(t, CodeNoCapacity, Code(err))
	assert.Zero(t, f.alerts.Len())
}

func TestCreateAlert_NoDoubleClaim(t *testing.T) {
	f := newFixture(t, ambulance("only", 19.08, 72.88))
	const n = 32
	var (
		wg      sync.WaitGroup
		success atomic.Int32
		noCap   atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.CreateAlert(context.Background(), model.Coordinate{Lat: 19.07, Lng: 72.87})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, ErrNoCapacity):
				noCap.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, success.Load())
	assert.EqualValues(t, n-1, noCap.Load())
	assert.Equal(t, 1, f.alerts.Len())
}

func TestCreateAlert_ConcurrentSpreadAcrossUnits(t *testing.T) {
	var units []model.Unit
	for i := 0; i < 8; i++ {
		units = append(units, ambulance(fmt.Sprintf("u%d", i), 19.0+float64(i)*0.01, 72.8))
	}
	f := newFixture(t, units...)
	f.coord.cfg.ClaimAttempts = 8

	var wg sync.WaitGroup
	ids := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.coord.CreateAlert(context.Background(), model.Coordinate{Lat: 19.0, Lng: 72.8})
			if err == nil {
				ids <- d.Unit.ID
			}
		}()
	}
	wg.Wait()
	close(ids)
	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "unit %s claimed twice", id)
		seen[id] = true
	}
	assert.NotEmpty(t, seen)
	for _, u := range f.units.List() {
		if u.State == model.UnitBusy {
			a, err := f.alerts.LoadAlert(context.Background(), u.AssignedAlertID)
			require.NoError(t, err)
			assert.Equal(t, u.ID, a.AssignedUnitID)
		}
	}
}

func TestCreateAlert_RetriesNextNearestAfterLostRace(t *testing.T) {
	f := newFixture(t, ambulance("near", 19.0761, 72.8777), ambulance("next", 19.09, 72.88))
	real := f.coord.claim
	f.coord.claim = func(ctx context.Context, unitID, alertID string) bool {
		if unitID == "near" {
			// a competing alert wins the race
			require.True(t, real(ctx, "near", "competitor"))
		}
		return real(ctx, unitID, alertID)
	}

	d, err := f.coord.CreateAlert(context.Background(), model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	require.NoError(t, err)
	assert.Equal(t, "next", d.Unit.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(claimConflicts))

	recs, _ := f.audit.Query(context.Background(), logging.LogQuery{Outcome: logging.OutcomeAssigned})
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Attempts)
}

func TestCreateAlert_RetryBudgetExhausted(t *testing.T) {
	f := newFixture(t, ambulance("a", 0, 0.01), ambulance("b", 0, 0.02), ambulance("c", 0, 0.03))
	f.coord.cfg.ClaimAttempts = 2
	var calls int
	f.coord.claim = func(context.Context, string, string) bool {
		calls++
		return false
	}
	_, err := f.coord.CreateAlert(context.Background(), model.Coordinate{})
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(claimsExhausted))
}

type failingAlertStore struct{}

func (failingAlertStore) PersistAlert(context.Context, model.Alert) error {
	return errors.New("connection refused")
}

func (failingAlertStore) LoadAlert(context.Context, string) (model.Alert, error) {
	return model.Alert{}, errors.New("connection refused")
}

func TestCreateAlert_StoreFailureReleasesUnit(t *testing.T) {
	ResetMetrics(prometheus.NewRegistry())
	reg := registry.New(registry.NewMemoryStore(ambulance("amb-1", 19.08, 72.88)), logger.Nop{})
	require.NoError(t, reg.Load(context.Background()))
	bus := notify.NewBus(4)
	defer bus.Close()
	c, err := NewCoordinator(reg, lifecycle.New(failingAlertStore{}, logger.Nop{}), bus, Config{}, logger.Nop{})
	require.NoError(t, err)
	mon := &monitoring.Recorder{}
	c.SetMonitor(mon)

	_, err = c.CreateAlert(context.Background(), model.Coordinate{Lat: 19.07, Lng: 72.87})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, CodeStoreUnavailable, Code(err))

	u, _ := reg.Get("amb-1")
	assert.Equal(t, model.UnitAvailable, u.State)
	assert.Empty(t, u.AssignedAlertID)
	assert.Len(t, mon.Captured(), 1)
}

func TestAdvanceAlertStatus_ReleaseOnCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88))
	d, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	require.NoError(t, err)

	for _, s := range []model.AlertStatus{model.AlertEnRoute, model.AlertArrived} {
		a, err := f.coord.AdvanceAlertStatus(ctx, d.Alert.ID, s)
		require.NoError(t, err)
		assert.Equal(t, s, a.Status)
	}
	_, err = f.coord.AdvanceAlertStatus(ctx, d.Alert.ID, model.AlertAssigned)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, CodeInvalidTransition, Code(err))

	a, err := f.coord.AdvanceAlertStatus(ctx, d.Alert.ID, model.AlertCompleted)
	require.NoError(t, err)
	assert.False(t, a.UnitActive)
	assert.Equal(t, "amb-1", a.AssignedUnitID)

	u, _ := f.units.Get("amb-1")
	assert.Equal(t, model.UnitAvailable, u.State)
	assert.Empty(t, u.AssignedAlertID)

	d2, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	require.NoError(t, err)
	assert.Equal(t, "amb-1", d2.Unit.ID)

	_, err = f.coord.AdvanceAlertStatus(ctx, "missing", model.AlertEnRoute)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdvanceAlertStatus_DoesNotReleaseReassignedUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88))
	d1, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.07, Lng: 72.87})
	require.NoError(t, err)

	_, err = f.coord.SetUnitStatus(ctx, "amb-1", model.UnitAvailable)
	require.NoError(t, err)
	d2, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.07, Lng: 72.87})
	require.NoError(t, err)

	_, err = f.coord.AdvanceAlertStatus(ctx, d1.Alert.ID, model.AlertCompleted)
	require.NoError(t, err)
	u, _ := f.units.Get("amb-1")
	assert.Equal(t, model.UnitBusy, u.State)
	assert.Equal(t, d2.Alert.ID, u.AssignedAlertID)
}

func TestSetUnitStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88))
	d, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.07, Lng: 72.87})
	require.NoError(t, err)

	u, err := f.coord.SetUnitStatus(ctx, "amb-1", model.UnitAvailable)
	require.NoError(t, err)
	assert.Equal(t, model.UnitAvailable, u.State)
	assert.Empty(t, u.AssignedAlertID)

	a, _, err := f.coord.GetAlert(ctx, d.Alert.ID)
	require.NoError(t, err)
	assert.False(t, a.UnitActive)
	assert.Equal(t, model.AlertAssigned, a.Status)

	u, err = f.coord.SetUnitStatus(ctx, "amb-1", model.UnitBusy)
	require.NoError(t, err)
	assert.Equal(t, model.UnitBusy, u.State)
	_, err = f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.07, Lng: 72.87})
	assert.ErrorIs(t, err, ErrNoCapacity)

	_, err = f.coord.SetUnitStatus(ctx, "missing", model.UnitAvailable)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.coord.SetUnitStatus(ctx, "amb-1", model.UnitState("ON_BREAK"))
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, CodeInvalidStatus, Code(err))
}

func TestReportUnitLocation_PublishesForBusyUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88), ambulance("idle", 19.2, 72.9))
	d, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	require.NoError(t, err)

	ch, err := f.coord.Subscribe(ctx, d.Alert.ID)
	require.NoError(t, err)
	defer f.coord.Unsubscribe(d.Alert.ID, ch)

	_, err = f.coord.ReportUnitLocation(ctx, "idle", model.Coordinate{Lat: 19.21, Lng: 72.9})
	require.NoError(t, err)
	u, err := f.coord.ReportUnitLocation(ctx, "amb-1", model.Coordinate{Lat: 19.0770, Lng: 72.8780})
	require.NoError(t, err)
	assert.Equal(t, 19.0770, u.Location.Lat)

	select {
	case ev := <-ch:
		assert.Equal(t, events.LocationUpdate, ev.Type)
		assert.Equal(t, d.Alert.ID, ev.AlertID)
		assert.Equal(t, "amb-1", ev.Unit.ID)
		require.NotNil(t, ev.Unit.DistanceKm)
		require.NotNil(t, ev.Unit.ETAMinutes)
		assert.Less(t, *ev.Unit.DistanceKm, d.DistanceKm)
		assert.Equal(t, 1, *ev.Unit.ETAMinutes)
	case <-time.After(time.Second):
		t.Fatal("no location update")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	_, err = f.coord.ReportUnitLocation(ctx, "missing", model.Coordinate{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.coord.ReportUnitLocation(ctx, "amb-1", model.Coordinate{Lat: 100})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEventsArriveInPublishOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88))
	d, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	require.NoError(t, err)
	ch, err := f.coord.Subscribe(ctx, d.Alert.ID)
	require.NoError(t, err)

	lats := []float64{19.0790, 19.0780, 19.0770}
	for _, lat := range lats {
		_, err := f.coord.ReportUnitLocation(ctx, "amb-1", model.Coordinate{Lat: lat, Lng: 72.88})
		require.NoError(t, err)
	}
	_, err = f.coord.AdvanceAlertStatus(ctx, d.Alert.ID, model.AlertEnRoute)
	require.NoError(t, err)

	for _, lat := range lats {
		ev := <-ch
		assert.Equal(t, events.LocationUpdate, ev.Type)
		assert.Equal(t, lat, ev.Unit.Location.Lat)
	}
	ev := <-ch
	assert.Equal(t, events.StatusChanged, ev.Type)
	assert.Equal(t, "EN_ROUTE", ev.Status)
}

func TestSubscribe_UnknownAlert(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Subscribe(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAlert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88))
	d, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.07, Lng: 72.87})
	require.NoError(t, err)

	a, u, err := f.coord.GetAlert(ctx, d.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Alert.ID, a.ID)
	assert.Equal(t, "amb-1", u.ID)

	_, _, err = f.coord.GetAlert(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, CodeNotFound, Code(err))
}

type countingSink struct {
	mu         sync.Mutex
	dispatches []metrics.DispatchEvent
	fleet      []metrics.FleetEvent
	statuses   int
}

func (s *countingSink) RecordDispatch(ev metrics.DispatchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatches = append(s.dispatches, ev)
	return nil
}

func (s *countingSink) RecordFleet(ev metrics.FleetEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fleet = append(s.fleet, ev)
	return nil
}

func (s *countingSink) RecordStatusChange(metrics.StatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses++
	return nil
}

func TestCoordinator_Metrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88), ambulance("amb-2", 19.1, 72.9))
	sink := &countingSink{}
	f.coord.SetMetrics(sink)

	d, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.07, Lng: 72.87})
	require.NoError(t, err)
	_, err = f.coord.AdvanceAlertStatus(ctx, d.Alert.ID, model.AlertCompleted)
	require.NoError(t, err)

	require.Len(t, sink.dispatches, 1)
	assert.Equal(t, metrics.OutcomeAssigned, sink.dispatches[0].Outcome)
	assert.Equal(t, 1, sink.dispatches[0].Attempts)
	require.Len(t, sink.fleet, 2)
	assert.Equal(t, 1, sink.fleet[0].Available)
	assert.Equal(t, 2, sink.fleet[0].Total)
	assert.Equal(t, 2, sink.fleet[1].Available)
	assert.Equal(t, 1, sink.statuses)
	assert.Equal(t, 1.0, testutil.ToFloat64(eventsPublished.WithLabelValues(string(events.Created))))
}

func TestCode(t *testing.T) {
	assert.Empty(t, Code(nil))
	assert.Equal(t, CodeInternal, Code(errors.New("x")))
	assert.Equal(t, CodeNotFound, Code(fmt.Errorf("wrap: %w", ErrNotFound)))
}

// claimedElsewhere is a shared store in which another instance holds one
// unit.
type claimedElsewhere struct {
	*registry.MemoryStore
	unitID string
}

func (s claimedElsewhere) ClaimUnit(ctx context.Context, u model.Unit) (model.Unit, error) {
	if u.ID == s.unitID {
		held := u
		held.AssignedAlertID = "remote-alert"
		return held, registry.ErrClaimConflict
	}
	return u, s.MemoryStore.PersistUnit(ctx, u)
}

func (s claimedElsewhere) ReleaseUnit(context.Context, string, string, time.Time) error { return nil }

func (s claimedElsewhere) MoveUnit(_ context.Context, u model.Unit) (model.Unit, error) {
	return u, nil
}

func TestCreateAlert_SkipsUnitClaimedElsewhere(t *testing.T) {
	ctx := context.Background()
	ResetMetrics(prometheus.NewRegistry())
	store := claimedElsewhere{
		MemoryStore: registry.NewMemoryStore(ambulance("near", 19.0760, 72.8777), ambulance("far", 19.2, 72.97)),
		unitID:      "near",
	}
	reg := registry.New(store, logger.Nop{})
	require.NoError(t, reg.Load(ctx))
	bus := notify.NewBus(16)
	t.Cleanup(bus.Close)
	c, err := NewCoordinator(reg, lifecycle.New(lifecycle.NewMemoryStore(), logger.Nop{}), bus, Config{}, logger.Nop{})
	require.NoError(t, err)

	d, err := c.CreateAlert(ctx, model.Coordinate{Lat: 19.08, Lng: 72.88})
	require.NoError(t, err)
	assert.Equal(t, "far", d.Unit.ID)

	near, err := reg.Get("near")
	require.NoError(t, err)
	assert.Equal(t, model.UnitBusy, near.State)
	assert.Equal(t, "remote-alert", near.AssignedAlertID)
	assert.Equal(t, 1.0, testutil.ToFloat64(claimConflicts))
}

func TestCreateAlert_CanceledContext(t *testing.T) {
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNoCapacity)
	assert.Equal(t, CodeCanceled, Code(err))
	assert.Len(t, f.units.ListAvailable(), 1)
	assert.Zero(t, f.alerts.Len())

	recs, err := f.audit.Query(context.Background(), logging.LogQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, logging.OutcomeCanceled, recs[0].Outcome)
	assert.Equal(t, 1, testutil.CollectAndCount(createLatency))
}

func TestReportUnitLocation_NoUpdateAfterCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88))
	d, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	require.NoError(t, err)
	ch, err := f.coord.Subscribe(ctx, d.Alert.ID)
	require.NoError(t, err)
	defer f.coord.Unsubscribe(d.Alert.ID, ch)

	// completed, but the unit has not been released yet
	_, err = f.coord.alerts.Advance(ctx, d.Alert.ID, model.AlertCompleted)
	require.NoError(t, err)
	u, err := f.coord.ReportUnitLocation(ctx, "amb-1", model.Coordinate{Lat: 19.077, Lng: 72.878})
	require.NoError(t, err)
	assert.Equal(t, model.UnitBusy, u.State)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReportUnitLocationAt_StaleReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ambulance("amb-1", 19.08, 72.88))
	d, err := f.coord.CreateAlert(ctx, model.Coordinate{Lat: 19.0760, Lng: 72.8777})
	require.NoError(t, err)
	ch, err := f.coord.Subscribe(ctx, d.Alert.ID)
	require.NoError(t, err)
	defer f.coord.Unsubscribe(d.Alert.ID, ch)

	t0 := time.Now().Add(-time.Minute).UTC()
	_, err = f.coord.ReportUnitLocationAt(ctx, "amb-1", model.Coordinate{Lat: 19.077, Lng: 72.878}, t0.Add(10*time.Second))
	require.NoError(t, err)
	ev := <-ch
	assert.Equal(t, events.LocationUpdate, ev.Type)
	assert.True(t, ev.Time.Equal(t0.Add(10*time.Second)))

	u, err := f.coord.ReportUnitLocationAt(ctx, "amb-1", model.Coordinate{Lat: 19.079, Lng: 72.879}, t0)
	assert.ErrorIs(t, err, ErrStaleReport)
	assert.Equal(t, CodeStaleReport, Code(err))
	assert.Equal(t, 19.077, u.Location.Lat)

	select {
	case ev := <-ch:
		t.Fatalf("stale report published %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
