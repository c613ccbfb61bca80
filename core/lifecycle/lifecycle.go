// Package lifecycle owns alert records and their forward-only status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/medidispatch/dispatch-core/core/logger"
	"github.com/medidispatch/dispatch-core/core/model"
)

type alertEntry struct {
	mu      sync.Mutex
	alert   model.Alert
	flushMu sync.Mutex
}

func (e *alertEntry) snapshot() model.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alert
}

// Transition describes an applied status change.
type Transition struct {
	From  model.AlertStatus
	Alert model.Alert
}

// Lifecycle serialises status changes per alert. Different alerts never
// block each other.
type Lifecycle struct {
	mu     sync.RWMutex
	alerts map[string]*alertEntry
	store  AlertStore
	log    logger.Logger
	now    func() time.Time
}

// New creates a Lifecycle. A nil store keeps alerts in memory only.
func New(store AlertStore, log logger.Logger) *Lifecycle {
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Lifecycle{
		alerts: make(map[string]*alertEntry),
		store:  store,
		log:    log,
		now:    time.Now,
	}
}

// Create persists a new alert and starts tracking it. The record becomes
// visible only after the store accepted it.
func (l *Lifecycle) Create(ctx context.Context, a model.Alert) (model.Alert, error) {
	if a.ID == "" {
		return model.Alert{}, fmt.Errorf("alert id is required: %w", model.ErrInvalidInput)
	}
	if !a.Status.Valid() {
		return model.Alert{}, fmt.Errorf("alert %s: %w", a.ID, model.ErrInvalidStatus)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now().UTC()
	}
	a.UpdatedAt = a.CreatedAt

	l.mu.RLock()
	_, exists := l.alerts[a.ID]
	l.mu.RUnlock()
	if exists {
		return model.Alert{}, fmt.Errorf("alert %s already exists: %w", a.ID, model.ErrInvalidInput)
	}

	if err := l.store.PersistAlert(ctx, a); err != nil {
		return model.Alert{}, fmt.Errorf("persist alert %s: %w: %v", a.ID, model.ErrStoreUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// A reader may have loaded the persisted record in the meantime and
	// changed it already.
	if e, ok := l.alerts[a.ID]; ok {
		return e.snapshot(), nil
	}
	l.alerts[a.ID] = &alertEntry{alert: a}
	return a, nil
}

// Get returns the alert, falling back to the store for alerts created by a
// previous process.
func (l *Lifecycle) Get(ctx context.Context, id string) (model.Alert, error) {
	e, err := l.entry(ctx, id)
	if err != nil {
		return model.Alert{}, err
	}
	return e.snapshot(), nil
}

func (l *Lifecycle) entry(ctx context.Context, id string) (*alertEntry, error) {
	l.mu.RLock()
	e, ok := l.alerts[id]
	l.mu.RUnlock()
	if ok {
		return e, nil
	}
	a, err := l.store.LoadAlert(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("alert %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("load alert %s: %w: %v", id, model.ErrStoreUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.alerts[id]; ok {
		return e, nil
	}
	e = &alertEntry{alert: a}
	l.alerts[id] = e
	return e, nil
}

// Advance moves the alert to next. Only strictly forward moves are applied;
// anything else returns model.ErrInvalidTransition. Entering COMPLETED clears
// the active unit binding while keeping AssignedUnitID for audit.
func (l *Lifecycle) Advance(ctx context.Context, id string, next model.AlertStatus) (Transition, error) {
	if !next.Valid() {
		return Transition{}, fmt.Errorf("alert status %d: %w", int(next), model.ErrInvalidStatus)
	}
	e, err := l.entry(ctx, id)
	if err != nil {
		return Transition{}, err
	}

	e.mu.Lock()
	from := e.alert.Status
	if !from.CanAdvanceTo(next) {
		e.mu.Unlock()
		return Transition{}, fmt.Errorf("alert %s %s -> %s: %w", id, from, next, model.ErrInvalidTransition)
	}
	e.alert.Status = next
	if next.Terminal() {
		e.alert.UnitActive = false
	}
	e.alert.UpdatedAt = l.now().UTC()
	updated := e.alert
	e.mu.Unlock()

	l.flush(ctx, e)
	return Transition{From: from, Alert: updated}, nil
}

// DetachUnit clears the active binding when unitID is still bound to the
// alert. Used when an operator frees a unit by hand.
func (l *Lifecycle) DetachUnit(ctx context.Context, id, unitID string) (model.Alert, bool, error) {
	e, err := l.entry(ctx, id)
	if err != nil {
		return model.Alert{}, false, err
	}
	e.mu.Lock()
	if !e.alert.UnitActive || e.alert.AssignedUnitID != unitID {
		a := e.alert
		e.mu.Unlock()
		return a, false, nil
	}
	e.alert.UnitActive = false
	e.alert.UpdatedAt = l.now().UTC()
	a := e.alert
	e.mu.Unlock()

	l.flush(ctx, e)
	return a, true, nil
}

// flush writes the newest snapshot of e. The in-memory record is
// authoritative; store errors are logged.
func (l *Lifecycle) flush(ctx context.Context, e *alertEntry) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	a := e.snapshot()
	if err := l.store.PersistAlert(ctx, a); err != nil {
		l.log.Errorw("persist alert failed", map[string]any{"alert_id": a.ID, "status": a.Status.String(), "error": err.Error()})
	}
}
