package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/medidispatch/dispatch-core/core/model"
)

// ErrClaimConflict is returned by a SharedStore when another instance
// already holds the unit. TryClaim treats it as a lost race.
var ErrClaimConflict = errors.New("unit claimed by another instance")

// UnitStore persists units. The registry keeps the authoritative in-memory
// copy; the store only provides durability across restarts.
type UnitStore interface {
	LoadAllUnits(ctx context.Context) ([]model.Unit, error)
	PersistUnit(ctx context.Context, u model.Unit) error
}

// SharedStore is a UnitStore written by several instances at once. The
// registry then changes availability only through ClaimUnit and
// ReleaseUnit, records positions through MoveUnit, and uses PersistUnit for
// registration alone. PersistUnit must leave the availability of an
// existing unit untouched.
type SharedStore interface {
	UnitStore
	// ClaimUnit records u, which is BUSY, while the stored unit is AVAILABLE
	// or already bound to u.AssignedAlertID. Otherwise it returns the stored
	// unit and ErrClaimConflict.
	ClaimUnit(ctx context.Context, u model.Unit) (model.Unit, error)
	// ReleaseUnit makes the stored unit AVAILABLE while it is bound to
	// alertID.
	ReleaseUnit(ctx context.Context, unitID, alertID string, at time.Time) error
	// MoveUnit records u.Location measured at u.LocatedAt unless the stored
	// position is newer, and returns the stored unit.
	MoveUnit(ctx context.Context, u model.Unit) (model.Unit, error)
}

// MemoryStore is a UnitStore kept in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.Unit
}

func NewMemoryStore(units ...model.Unit) *MemoryStore {
	s := &MemoryStore{data: make(map[string]model.Unit, len(units))}
	for _, u := range units {
		s.data[u.ID] = u
	}
	return s
}

func (s *MemoryStore) LoadAllUnits(context.Context) ([]model.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Unit, 0, len(s.data))
	for _, u := range s.data {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) PersistUnit(_ context.Context, u model.Unit) error {
	s.mu.Lock()
	s.data[u.ID] = u
	s.mu.Unlock()
	return nil
}
