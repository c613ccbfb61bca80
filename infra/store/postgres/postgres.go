// Package postgres persists units and alerts in PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medidispatch/dispatch-core/core/logger"
	"github.com/medidispatch/dispatch-core/core/model"
	"github.com/medidispatch/dispatch-core/core/registry"
	"github.com/medidispatch/dispatch-core/infra/store"
)

const schema = `CREATE TABLE IF NOT EXISTS units (
	id TEXT PRIMARY KEY,
	label TEXT NOT NULL DEFAULT '',
	lat DOUBLE PRECISION NOT NULL,
	lng DOUBLE PRECISION NOT NULL,
	state TEXT NOT NULL,
	assigned_alert_id TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE units ADD COLUMN IF NOT EXISTS located_at TIMESTAMPTZ NOT NULL DEFAULT '0001-01-01 00:00:00+00';
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	lat DOUBLE PRECISION NOT NULL,
	lng DOUBLE PRECISION NOT NULL,
	assigned_unit_id TEXT NOT NULL DEFAULT '',
	unit_active BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL,
	distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
	eta_minutes INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	estimated_arrival TIMESTAMPTZ
);`

// Store implements registry.SharedStore and lifecycle.AlertStore.
type Store struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// Connect opens a pool, pings the server and ensures the schema.
func Connect(ctx context.Context, dsn string, maxConns int32, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop{}
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.Connect.ParseConfig: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, WrapError("postgres.Connect.NewWithConfig", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, WrapError("postgres.Connect.Ping", err)
	}
	s := &Store{pool: pool, log: log}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Infof("connected to postgres")
	return s, nil
}

// New wraps an existing pool without running migrations.
func New(pool *pgxpool.Pool, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop{}
	}
	return &Store{pool: pool, log: log}
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return WrapError("postgres.Migrate", err)
}

const unitColumns = `id, label, lat, lng, state, assigned_alert_id, updated_at, located_at`

func scanUnit(row pgx.Row) (model.Unit, error) {
	var (
		u     model.Unit
		state string
	)
	err := row.Scan(&u.ID, &u.Label, &u.Location.Lat, &u.Location.Lng, &state, &u.AssignedAlertID, &u.UpdatedAt, &u.LocatedAt)
	u.State = model.UnitState(state)
	u.UpdatedAt = u.UpdatedAt.UTC()
	u.LocatedAt = u.LocatedAt.UTC()
	return u, err
}

func (s *Store) LoadAllUnits(ctx context.Context) ([]model.Unit, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+unitColumns+` FROM units ORDER BY id`)
	if err != nil {
		return nil, WrapError("postgres.LoadAllUnits", err)
	}
	units, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Unit, error) {
		return scanUnit(row)
	})
	if err != nil {
		return nil, WrapError("postgres.LoadAllUnits.scan", err)
	}
	return units, nil
}

func (s *Store) loadUnit(ctx context.Context, id string) (model.Unit, error) {
	u, err := scanUnit(s.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
	if err != nil {
		return model.Unit{}, WrapError(fmt.Sprintf("postgres.loadUnit %s", id), err)
	}
	return u, nil
}

// PersistUnit inserts u. For a unit that already exists only the label and
// position are overwritten; availability belongs to ClaimUnit and
// ReleaseUnit.
func (s *Store) PersistUnit(ctx context.Context, u model.Unit) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO units (id, label, lat, lng, state, assigned_alert_id, updated_at, located_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET label = EXCLUDED.label, lat = EXCLUDED.lat, lng = EXCLUDED.lng,
		   located_at = EXCLUDED.located_at, updated_at = EXCLUDED.updated_at`,
		u.ID, u.Label, u.Location.Lat, u.Location.Lng, string(u.State), u.AssignedAlertID, u.UpdatedAt, u.LocatedAt)
	return WrapError(fmt.Sprintf("postgres.PersistUnit %s", u.ID), err)
}

// ClaimUnit binds the unit to u.AssignedAlertID while the row is AVAILABLE
// or already bound to that alert. A row held by another alert is returned
// with registry.ErrClaimConflict.
func (s *Store) ClaimUnit(ctx context.Context, u model.Unit) (model.Unit, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE units SET state = 'BUSY', assigned_alert_id = $2, updated_at = $3
		 WHERE id = $1 AND (state = 'AVAILABLE' OR assigned_alert_id = $2)`,
		u.ID, u.AssignedAlertID, u.UpdatedAt)
	if err != nil {
		return model.Unit{}, WrapError(fmt.Sprintf("postgres.ClaimUnit %s", u.ID), err)
	}
	if tag.RowsAffected() == 1 {
		return u, nil
	}
	stored, err := s.loadUnit(ctx, u.ID)
	if err != nil {
		return model.Unit{}, err
	}
	s.log.Warnw("claim rejected by database", map[string]any{"unit_id": u.ID, "alert_id": u.AssignedAlertID, "held_by": stored.AssignedAlertID})
	return stored, fmt.Errorf("postgres.ClaimUnit %s: %w", u.ID, registry.ErrClaimConflict)
}

// ReleaseUnit frees the unit while it is still bound to alertID.
func (s *Store) ReleaseUnit(ctx context.Context, unitID, alertID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE units SET state = 'AVAILABLE', assigned_alert_id = '', updated_at = $3
		 WHERE id = $1 AND assigned_alert_id = $2`,
		unitID, alertID, at)
	return WrapError(fmt.Sprintf("postgres.ReleaseUnit %s", unitID), err)
}

// MoveUnit records the position of u unless the row holds a newer one and
// returns the row as stored afterwards.
func (s *Store) MoveUnit(ctx context.Context, u model.Unit) (model.Unit, error) {
	stored, err := scanUnit(s.pool.QueryRow(ctx,
		`WITH moved AS (
		   UPDATE units SET lat = $2, lng = $3, located_at = $4, updated_at = $5
		   WHERE id = $1 AND located_at <= $4
		   RETURNING `+unitColumns+`
		 )
		 SELECT `+unitColumns+` FROM moved
		 UNION ALL
		 SELECT `+unitColumns+` FROM units WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM moved)`,
		u.ID, u.Location.Lat, u.Location.Lng, u.LocatedAt, u.UpdatedAt))
	if err != nil {
		return model.Unit{}, WrapError(fmt.Sprintf("postgres.MoveUnit %s", u.ID), err)
	}
	return stored, nil
}

func (s *Store) PersistAlert(ctx context.Context, a model.Alert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, lat, lng, assigned_unit_id, unit_active, status, distance_km, eta_minutes, created_at, updated_at, estimated_arrival)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET assigned_unit_id = EXCLUDED.assigned_unit_id, unit_active = EXCLUDED.unit_active,
		   status = EXCLUDED.status, distance_km = EXCLUDED.distance_km, eta_minutes = EXCLUDED.eta_minutes,
		   updated_at = EXCLUDED.updated_at, estimated_arrival = EXCLUDED.estimated_arrival`,
		a.ID, a.Location.Lat, a.Location.Lng, a.AssignedUnitID, a.UnitActive, a.Status.String(),
		a.DistanceKm, a.ETAMinutes, a.CreatedAt, a.UpdatedAt, a.EstimatedArrival)
	return WrapError(fmt.Sprintf("postgres.PersistAlert %s", a.ID), err)
}

func (s *Store) LoadAlert(ctx context.Context, id string) (model.Alert, error) {
	var (
		a      model.Alert
		status string
		eta    *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, lat, lng, assigned_unit_id, unit_active, status, distance_km, eta_minutes, created_at, updated_at, estimated_arrival
		 FROM alerts WHERE id = $1`, id).
		Scan(&a.ID, &a.Location.Lat, &a.Location.Lng, &a.AssignedUnitID, &a.UnitActive, &status,
			&a.DistanceKm, &a.ETAMinutes, &a.CreatedAt, &a.UpdatedAt, &eta)
	if err != nil {
		return model.Alert{}, WrapError(fmt.Sprintf("postgres.LoadAlert %s", id), err)
	}
	if a.Status, err = model.ParseAlertStatus(status); err != nil {
		return model.Alert{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if eta != nil {
		t := eta.UTC()
		a.EstimatedArrival = &t
	}
	return a, nil
}

func (s *Store) Close() { s.pool.Close() }

// WrapError extends store.WrapError with pgx specifics.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: pg error %s: %w", op, pgErr.Code, model.ErrStoreUnavailable)
	}
	return store.WrapError(op, err)
}
