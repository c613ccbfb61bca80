package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medidispatch/dispatch-core/core/lifecycle"
	"github.com/medidispatch/dispatch-core/core/model"
	"github.com/medidispatch/dispatch-core/core/registry"
)

var (
	_ registry.UnitStore   = (*Store)(nil)
	_ lifecycle.AlertStore = (*Store)(nil)
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Units(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.PersistUnit(ctx, model.Unit{ID: "b", Label: "Bravo", Location: model.Coordinate{Lat: 1, Lng: 2}, State: model.UnitAvailable, UpdatedAt: now}))
	require.NoError(t, s.PersistUnit(ctx, model.Unit{ID: "a", Location: model.Coordinate{Lat: 3, Lng: 4}, State: model.UnitAvailable, UpdatedAt: now}))
	require.NoError(t, s.PersistUnit(ctx, model.Unit{ID: "b", Label: "Bravo", Location: model.Coordinate{Lat: 5, Lng: 6}, State: model.UnitBusy, AssignedAlertID: "al-1", UpdatedAt: now, LocatedAt: now.Add(-time.Second)}))

	units, err := s.LoadAllUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "a", units[0].ID)
	assert.True(t, units[0].LocatedAt.IsZero())
	assert.Equal(t, model.Unit{ID: "b", Label: "Bravo", Location: model.Coordinate{Lat: 5, Lng: 6}, State: model.UnitBusy, AssignedAlertID: "al-1",
		UpdatedAt: now, LocatedAt: now.Add(-time.Second)}, units[1])
}

func TestStore_Alerts(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	arrival := now.Add(4 * time.Minute)
	a := model.Alert{
		ID: "al-1", Location: model.Coordinate{Lat: 19.07, Lng: 72.87},
		AssignedUnitID: "u1", UnitActive: true, Status: model.AlertAssigned,
		DistanceKm: 3.2, ETAMinutes: 4, CreatedAt: now, UpdatedAt: now, EstimatedArrival: &arrival,
	}
	require.NoError(t, s.PersistAlert(ctx, a))
	got, err := s.LoadAlert(ctx, "al-1")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	a.Status = model.AlertCompleted
	a.UnitActive = false
	a.EstimatedArrival = nil
	require.NoError(t, s.PersistAlert(ctx, a))
	got, err = s.LoadAlert(ctx, "al-1")
	require.NoError(t, err)
	assert.Equal(t, model.AlertCompleted, got.Status)
	assert.False(t, got.UnitActive)
	assert.Nil(t, got.EstimatedArrival)

	_, err = s.LoadAlert(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStore_RegistryRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.PersistUnit(ctx, model.Unit{ID: "u1", Location: model.Coordinate{Lat: 1, Lng: 1}, State: model.UnitAvailable}))

	reg := registry.New(s, nil)
	require.NoError(t, reg.Load(ctx))
	require.True(t, reg.TryClaim(ctx, "u1", "al-9"))

	units, err := s.LoadAllUnits(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.UnitBusy, units[0].State)
	assert.Equal(t, "al-9", units[0].AssignedAlertID)
}

func TestStore_ClosedReportsUnavailable(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Close())
	err := s.PersistUnit(context.Background(), model.Unit{ID: "u1"})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestOpen_MigratesUnitsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE units (id TEXT PRIMARY KEY, label TEXT NOT NULL DEFAULT '', lat REAL NOT NULL, lng REAL NOT NULL,
		state TEXT NOT NULL, assigned_alert_id TEXT NOT NULL DEFAULT '', updated_at INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO units VALUES ('u1', '', 1, 2, 'AVAILABLE', '', 0)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	units, err := s.LoadAllUnits(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.True(t, units[0].LocatedAt.IsZero())
}
