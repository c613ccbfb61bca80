// Package registry owns response units and their mutable state.
//
// Every unit carries its own mutex so that claims on different units never
// contend. The registry map itself is guarded by an RWMutex that is only held
// while looking entries up or adding new ones.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medidispatch/dispatch-core/core/logger"
	"github.com/medidispatch/dispatch-core/core/model"
)

// ManualHoldID is bound to units an operator marked BUSY by hand.
const ManualHoldID = "manual-hold"

type unitEntry struct {
	// writeMu orders store writes for the unit. With a SharedStore it is held
	// from the in-memory change until the write returns. Lock it before mu.
	writeMu sync.Mutex

	mu   sync.Mutex
	unit model.Unit
}

func (e *unitEntry) snapshot() model.Unit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unit
}

// adopt takes over the availability and, when newer, the position of a unit
// as another instance left it in the shared store. Callers hold writeMu.
func (e *unitEntry) adopt(stored model.Unit) model.Unit {
	e.mu.Lock()
	defer e.mu.Unlock()
	if stored.Validate() == nil {
		e.unit.State = stored.State
		e.unit.AssignedAlertID = stored.AssignedAlertID
	}
	if stored.LocatedAt.After(e.unit.LocatedAt) {
		e.unit.Location = stored.Location
		e.unit.LocatedAt = stored.LocatedAt
	}
	if stored.UpdatedAt.After(e.unit.UpdatedAt) {
		e.unit.UpdatedAt = stored.UpdatedAt
	}
	return e.unit
}

// Registry is the sole arbiter of unit availability within the process.
// Backed by a SharedStore, the store arbitrates between processes: claims it
// rejects are lost races and changes made elsewhere are adopted whenever
// the unit reports a position.
type Registry struct {
	mu     sync.RWMutex
	units  map[string]*unitEntry
	store  UnitStore
	shared SharedStore
	log    logger.Logger
	now    func() time.Time
}

// New creates an empty registry backed by store. A nil store keeps units in
// memory only.
func New(store UnitStore, log logger.Logger) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = logger.Nop{}
	}
	shared, _ := store.(SharedStore)
	return &Registry{
		units:  make(map[string]*unitEntry),
		store:  store,
		shared: shared,
		log:    log,
		now:    time.Now,
	}
}

// Load replaces the in-memory state with the units held by the store.
func (r *Registry) Load(ctx context.Context) error {
	units, err := r.store.LoadAllUnits(ctx)
	if err != nil {
		return fmt.Errorf("load units: %w: %v", model.ErrStoreUnavailable, err)
	}
	entries := make(map[string]*unitEntry, len(units))
	for _, u := range units {
		if err := u.Validate(); err != nil {
			r.log.Warnf("skipping stored unit: %v", err)
			continue
		}
		entries[u.ID] = &unitEntry{unit: u}
	}
	r.mu.Lock()
	r.units = entries
	r.mu.Unlock()
	r.log.Infof("loaded %d units", len(entries))
	return nil
}

// Register adds a unit or overwrites the location and label of an existing
// one. The availability of an existing unit is never changed here. A zero
// LocatedAt lets any later report replace the registered position.
func (r *Registry) Register(ctx context.Context, u model.Unit) (model.Unit, error) {
	if u.State == "" {
		u.State = model.UnitAvailable
	}
	if err := u.Validate(); err != nil {
		return model.Unit{}, err
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = r.now().UTC()
	}
	r.mu.Lock()
	e, ok := r.units[u.ID]
	if !ok {
		e = &unitEntry{unit: u}
		r.units[u.ID] = e
	}
	r.mu.Unlock()
	if ok {
		e.mu.Lock()
		e.unit.Label = u.Label
		e.unit.Location = u.Location
		e.unit.LocatedAt = u.LocatedAt
		e.unit.UpdatedAt = u.UpdatedAt
		e.mu.Unlock()
	}
	_ = r.flush(ctx, e)
	return e.snapshot(), nil
}

func (r *Registry) entry(id string) (*unitEntry, bool) {
	r.mu.RLock()
	e, ok := r.units[id]
	r.mu.RUnlock()
	return e, ok
}

func (r *Registry) entries() []*unitEntry {
	r.mu.RLock()
	list := make([]*unitEntry, 0, len(r.units))
	for _, e := range r.units {
		list = append(list, e)
	}
	r.mu.RUnlock()
	return list
}

// Get returns a copy of the unit.
func (r *Registry) Get(id string) (model.Unit, error) {
	e, ok := r.entry(id)
	if !ok {
		return model.Unit{}, fmt.Errorf("unit %s: %w", id, model.ErrNotFound)
	}
	return e.snapshot(), nil
}

// List returns every unit ordered by identifier.
func (r *Registry) List() []model.Unit {
	return r.collect(func(model.Unit) bool { return true })
}

// ListAvailable returns a snapshot of the AVAILABLE units ordered by
// identifier. A unit in the snapshot may be claimed by the time the caller
// acts on it.
func (r *Registry) ListAvailable() []model.Unit {
	return r.collect(model.Unit.Available)
}

func (r *Registry) collect(keep func(model.Unit) bool) []model.Unit {
	entries := r.entries()
	res := make([]model.Unit, 0, len(entries))
	for _, e := range entries {
		if u := e.snapshot(); keep(u) {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// TryClaim moves the unit from AVAILABLE to BUSY bound to alertID. It
// returns false without side effects when the unit is unknown or already
// busy. Claims on the same unit are linearizable.
//
// With a SharedStore the claim only stands once the store accepted it.
func (r *Registry) TryClaim(ctx context.Context, unitID, alertID string) bool {
	if alertID == "" {
		return false
	}
	e, ok := r.entry(unitID)
	if !ok {
		return false
	}
	if r.shared != nil {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
	}
	e.mu.Lock()
	if e.unit.State != model.UnitAvailable {
		e.mu.Unlock()
		return false
	}
	prev := e.unit
	e.unit.State = model.UnitBusy
	e.unit.AssignedAlertID = alertID
	e.unit.UpdatedAt = r.now().UTC()
	claimed := e.unit
	e.mu.Unlock()

	if r.shared == nil {
		_ = r.flush(ctx, e)
		return true
	}
	stored, err := r.shared.ClaimUnit(ctx, claimed)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrClaimConflict):
		r.log.Warnw("unit claimed by another instance", map[string]any{"unit_id": unitID, "alert_id": alertID, "held_by": stored.AssignedAlertID})
		e.adopt(stored)
	default:
		r.log.Errorw("claim not recorded", map[string]any{"unit_id": unitID, "alert_id": alertID, "error": err})
		e.mu.Lock()
		e.unit = prev
		e.mu.Unlock()
	}
	return false
}

// Release returns a unit to AVAILABLE and clears its assignment. Releasing
// an available unit is a no-op.
func (r *Registry) Release(ctx context.Context, unitID string) error {
	_, err := r.release(ctx, unitID, "")
	return err
}

// ReleaseIfBound releases the unit only while it is still bound to alertID.
// It reports whether a release happened.
func (r *Registry) ReleaseIfBound(ctx context.Context, unitID, alertID string) (bool, error) {
	return r.release(ctx, unitID, alertID)
}

func (r *Registry) release(ctx context.Context, unitID, alertID string) (bool, error) {
	e, ok := r.entry(unitID)
	if !ok {
		return false, fmt.Errorf("unit %s: %w", unitID, model.ErrNotFound)
	}
	if r.shared != nil {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
	}
	e.mu.Lock()
	if e.unit.State == model.UnitAvailable || (alertID != "" && e.unit.AssignedAlertID != alertID) {
		e.mu.Unlock()
		return false, nil
	}
	bound := e.unit.AssignedAlertID
	e.unit.State = model.UnitAvailable
	e.unit.AssignedAlertID = ""
	e.unit.UpdatedAt = r.now().UTC()
	at := e.unit.UpdatedAt
	e.mu.Unlock()

	if r.shared == nil {
		_ = r.flush(ctx, e)
		return true, nil
	}
	if err := r.shared.ReleaseUnit(ctx, unitID, bound, at); err != nil {
		r.log.Errorw("release not recorded", map[string]any{"unit_id": unitID, "alert_id": bound, "error": err})
	}
	return true, nil
}

// UpdateLocation records a position measured at ts regardless of
// availability. A report older than the last recorded position is dropped
// with ErrStaleReport and the current unit is returned alongside.
func (r *Registry) UpdateLocation(ctx context.Context, unitID string, loc model.Coordinate, ts time.Time) (model.Unit, error) {
	if err := loc.Validate(); err != nil {
		return model.Unit{}, err
	}
	e, ok := r.entry(unitID)
	if !ok {
		return model.Unit{}, fmt.Errorf("unit %s: %w", unitID, model.ErrNotFound)
	}
	if ts.IsZero() {
		ts = r.now()
	}
	ts = ts.UTC()
	if r.shared != nil {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
	}
	e.mu.Lock()
	if ts.Before(e.unit.LocatedAt) {
		u := e.unit
		e.mu.Unlock()
		return u, fmt.Errorf("unit %s report at %s: %w", unitID, ts.Format(time.RFC3339Nano), model.ErrStaleReport)
	}
	e.unit.Location = loc
	e.unit.LocatedAt = ts
	e.unit.UpdatedAt = ts
	u := e.unit
	e.mu.Unlock()

	if r.shared == nil {
		_ = r.flush(ctx, e)
		return u, nil
	}
	stored, err := r.shared.MoveUnit(ctx, u)
	if err != nil {
		r.log.Errorw("position not recorded", map[string]any{"unit_id": unitID, "error": err})
		return u, nil
	}
	u = e.adopt(stored)
	if u.LocatedAt.After(ts) {
		return u, fmt.Errorf("unit %s report at %s: %w", unitID, ts.Format(time.RFC3339Nano), model.ErrStaleReport)
	}
	return u, nil
}

// SetState is the manual override path. AVAILABLE clears any assignment and
// returns the alert the unit was bound to; BUSY holds an available unit out
// of dispatch under ManualHoldID.
func (r *Registry) SetState(ctx context.Context, unitID string, state model.UnitState) (model.Unit, string, error) {
	if state != model.UnitAvailable && state != model.UnitBusy {
		return model.Unit{}, "", fmt.Errorf("unit state %q: %w", state, model.ErrInvalidStatus)
	}
	e, ok := r.entry(unitID)
	if !ok {
		return model.Unit{}, "", fmt.Errorf("unit %s: %w", unitID, model.ErrNotFound)
	}
	if r.shared != nil {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
	}
	e.mu.Lock()
	prev := e.unit.AssignedAlertID
	changed := e.unit.State != state
	if changed {
		e.unit.State = state
		if state == model.UnitAvailable {
			e.unit.AssignedAlertID = ""
		} else {
			e.unit.AssignedAlertID = ManualHoldID
		}
		e.unit.UpdatedAt = r.now().UTC()
	}
	u := e.unit
	e.mu.Unlock()

	if !changed {
		return u, "", nil
	}
	if r.shared == nil {
		_ = r.flush(ctx, e)
	} else {
		if err := r.setShared(ctx, e, u, prev); err != nil {
			return e.snapshot(), "", err
		}
		u = e.snapshot()
	}
	if state == model.UnitAvailable && prev != ManualHoldID {
		return u, prev, nil
	}
	return u, "", nil
}

// setShared records a manual override in the shared store. A hold on a unit
// claimed elsewhere leaves it busy under the other claim.
func (r *Registry) setShared(ctx context.Context, e *unitEntry, u model.Unit, prev string) error {
	if u.State == model.UnitAvailable {
		if err := r.shared.ReleaseUnit(ctx, u.ID, prev, u.UpdatedAt); err != nil {
			return fmt.Errorf("release unit %s: %w: %v", u.ID, model.ErrStoreUnavailable, err)
		}
		return nil
	}
	stored, err := r.shared.ClaimUnit(ctx, u)
	switch {
	case err == nil:
	case errors.Is(err, ErrClaimConflict):
		e.adopt(stored)
	default:
		e.mu.Lock()
		e.unit.State = model.UnitAvailable
		e.unit.AssignedAlertID = ""
		e.mu.Unlock()
		return fmt.Errorf("hold unit %s: %w: %v", u.ID, model.ErrStoreUnavailable, err)
	}
	return nil
}

// flush writes the latest state of e to the store. Store errors are logged:
// the in-memory registry stays authoritative.
func (r *Registry) flush(ctx context.Context, e *unitEntry) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	u := e.snapshot()
	err := r.store.PersistUnit(ctx, u)
	if err != nil {
		r.log.Errorw("persist unit failed", map[string]any{"unit_id": u.ID, "error": err})
	}
	return err
}
