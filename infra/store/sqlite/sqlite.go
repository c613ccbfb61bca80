// Package sqlite persists units and alerts in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/medidispatch/dispatch-core/core/model"
	"github.com/medidispatch/dispatch-core/infra/store"
)

const schema = `CREATE TABLE IF NOT EXISTS units (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL DEFAULT '',
	lat REAL NOT NULL,
	lng REAL NOT NULL,
	state TEXT NOT NULL,
	assigned_alert_id TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL,
	located_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	lat REAL NOT NULL,
	lng REAL NOT NULL,
	assigned_unit_id TEXT NOT NULL DEFAULT '',
	unit_active INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	distance_km REAL NOT NULL DEFAULT 0,
	eta_minutes INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	estimated_arrival INTEGER
);`

// Store implements registry.UnitStore and lifecycle.AlertStore.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, store.WrapError("sqlite.Open", err)
	}
	// A single connection serialises writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, store.WrapError("sqlite.Open.schema", err)
	}
	// databases created before positions carried their measurement time
	if _, err := db.Exec(`ALTER TABLE units ADD COLUMN located_at INTEGER NOT NULL DEFAULT 0`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column") {
		_ = db.Close()
		return nil, store.WrapError("sqlite.Open.migrate", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) LoadAllUnits(ctx context.Context) ([]model.Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, lat, lng, state, assigned_alert_id, updated_at, located_at FROM units ORDER BY id`)
	if err != nil {
		return nil, store.WrapError("sqlite.LoadAllUnits", err)
	}
	defer func() { _ = rows.Close() }()
	var res []model.Unit
	for rows.Next() {
		var (
			u           model.Unit
			ts, located int64
		)
		if err := rows.Scan(&u.ID, &u.Label, &u.Location.Lat, &u.Location.Lng, &u.State, &u.AssignedAlertID, &ts, &located); err != nil {
			return nil, store.WrapError("sqlite.LoadAllUnits.scan", err)
		}
		u.UpdatedAt = time.Unix(0, ts).UTC()
		u.LocatedAt = fromNanos(located)
		res = append(res, u)
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError("sqlite.LoadAllUnits", err)
	}
	return res, nil
}

func (s *Store) PersistUnit(ctx context.Context, u model.Unit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO units (id, label, lat, lng, state, assigned_alert_id, updated_at, located_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET label=excluded.label, lat=excluded.lat, lng=excluded.lng,
		 state=excluded.state, assigned_alert_id=excluded.assigned_alert_id, updated_at=excluded.updated_at,
		 located_at=excluded.located_at`,
		u.ID, u.Label, u.Location.Lat, u.Location.Lng, string(u.State), u.AssignedAlertID, u.UpdatedAt.UnixNano(), toNanos(u.LocatedAt))
	return store.WrapError(fmt.Sprintf("sqlite.PersistUnit %s", u.ID), err)
}

func (s *Store) PersistAlert(ctx context.Context, a model.Alert) error {
	var eta sql.NullInt64
	if a.EstimatedArrival != nil {
		eta = sql.NullInt64{Int64: a.EstimatedArrival.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, lat, lng, assigned_unit_id, unit_active, status, distance_km, eta_minutes, created_at, updated_at, estimated_arrival)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET assigned_unit_id=excluded.assigned_unit_id, unit_active=excluded.unit_active,
		 status=excluded.status, distance_km=excluded.distance_km, eta_minutes=excluded.eta_minutes,
		 updated_at=excluded.updated_at, estimated_arrival=excluded.estimated_arrival`,
		a.ID, a.Location.Lat, a.Location.Lng, a.AssignedUnitID, a.UnitActive, a.Status.String(),
		a.DistanceKm, a.ETAMinutes, a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(), eta)
	return store.WrapError(fmt.Sprintf("sqlite.PersistAlert %s", a.ID), err)
}

func (s *Store) LoadAlert(ctx context.Context, id string) (model.Alert, error) {
	var (
		a                model.Alert
		status           string
		created, updated int64
		eta              sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, lat, lng, assigned_unit_id, unit_active, status, distance_km, eta_minutes, created_at, updated_at, estimated_arrival
		 FROM alerts WHERE id = ?`, id).
		Scan(&a.ID, &a.Location.Lat, &a.Location.Lng, &a.AssignedUnitID, &a.UnitActive, &status,
			&a.DistanceKm, &a.ETAMinutes, &created, &updated, &eta)
	if err != nil {
		return model.Alert{}, store.WrapError(fmt.Sprintf("sqlite.LoadAlert %s", id), err)
	}
	if a.Status, err = model.ParseAlertStatus(status); err != nil {
		return model.Alert{}, err
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	a.UpdatedAt = time.Unix(0, updated).UTC()
	if eta.Valid {
		t := time.Unix(0, eta.Int64).UTC()
		a.EstimatedArrival = &t
	}
	return a, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// toNanos stores the zero time as 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
