// Package logging keeps an audit trail of dispatch decisions.
package logging

import (
	"context"
	"fmt"
	"time"
)

// Outcomes written to the audit log.
const (
	OutcomeAssigned         = "assigned"
	OutcomeNoCapacity       = "no_capacity"
	OutcomeStoreUnavailable = "store_unavailable"
	OutcomeCompleted        = "completed"
	OutcomeReleased         = "released"
	OutcomeCanceled         = "canceled"
)

// LogRecord captures one dispatch decision.
type LogRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	AlertID    string    `json:"alert_id,omitempty"`
	UnitID     string    `json:"unit_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	DistanceKm float64   `json:"distance_km,omitempty"`
	ETAMinutes int       `json:"eta_minutes,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// LogQuery defines filters for retrieving records. Zero fields match
// everything; Limit <= 0 means no limit.
type LogQuery struct {
	Start   time.Time
	End     time.Time
	UnitID  string
	AlertID string
	Outcome string
	Limit   int
}

// Match reports whether r passes the filters of q.
func (q LogQuery) Match(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.UnitID != "" && r.UnitID != q.UnitID {
		return false
	}
	if q.AlertID != "" && r.AlertID != q.AlertID {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	return true
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}

// Config selects and tunes the audit log backend.
type Config struct {
	// Backend is one of "jsonl", "sqlite" or "memory".
	Backend string `json:"backend"`
	Path    string `json:"path"`
	// Rotation applies to the jsonl backend. MaxSizeMB > 0 enables it.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
	// Token protects the HTTP query endpoint when set.
	Token string `json:"token"`
}

// SetDefaults applies defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" && c.Backend != "memory" {
		c.Path = "dispatch-audit.jsonl"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite":
		if c.Path == "" {
			return fmt.Errorf("logging: path is required for %s", c.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("logging: unknown backend %q", c.Backend)
	}
	return nil
}

// Open builds the store described by cfg.
func Open(cfg Config) (LogStore, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "jsonl":
		if cfg.MaxSizeMB > 0 {
			return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		}
		return NewJSONLStore(cfg.Path)
	default:
		return nil, fmt.Errorf("logging: unknown backend %q", cfg.Backend)
	}
}

func limit(recs []LogRecord, n int) []LogRecord {
	if n > 0 && len(recs) > n {
		return recs[len(recs)-n:]
	}
	return recs
}
