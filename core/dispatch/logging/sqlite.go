package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit records to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const auditSchema = `CREATE TABLE IF NOT EXISTS dispatch_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	alert_id TEXT,
	unit_id TEXT,
	outcome TEXT NOT NULL,
	lat REAL,
	lng REAL,
	distance_km REAL,
	eta_minutes INTEGER,
	attempts INTEGER,
	error TEXT
);
CREATE INDEX IF NOT EXISTS dispatch_audit_ts ON dispatch_audit(ts);`

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(auditSchema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec LogRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_audit (ts, alert_id, unit_id, outcome, lat, lng, distance_km, eta_minutes, attempts, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(), rec.AlertID, rec.UnitID, rec.Outcome, rec.Lat, rec.Lng,
		rec.DistanceKm, rec.ETAMinutes, rec.Attempts, rec.Error)
	return err
}

func (s *SQLiteStore) Query(ctx context.Context, q LogQuery) ([]LogRecord, error) {
	var args []any
	query := `SELECT ts, alert_id, unit_id, outcome, lat, lng, distance_km, eta_minutes, attempts, error
		FROM dispatch_audit WHERE 1=1`
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.UnixNano())
	}
	if q.UnitID != "" {
		query += ` AND unit_id = ?`
		args = append(args, q.UnitID)
	}
	if q.AlertID != "" {
		query += ` AND alert_id = ?`
		args = append(args, q.AlertID)
	}
	if q.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, q.Outcome)
	}
	query += ` ORDER BY ts, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []LogRecord
	for rows.Next() {
		var (
			r  LogRecord
			ts int64
		)
		if err := rows.Scan(&ts, &r.AlertID, &r.UnitID, &r.Outcome, &r.Lat, &r.Lng,
			&r.DistanceKm, &r.ETAMinutes, &r.Attempts, &r.Error); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return limit(res, q.Limit), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
