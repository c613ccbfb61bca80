// Package dispatch serves the dispatch audit log.
package dispatch

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/medidispatch/dispatch-core/core/dispatch/logging"
	"github.com/medidispatch/dispatch-core/pkg/export"
)

// DefaultLimit caps responses when the caller does not pass limit.
const DefaultLimit = 500

// NewLogHandler returns an HTTP handler exposing audit records via
// GET /api/dispatch/logs. Requests must include an Authorization header
// with "Bearer <token>" when token is non-empty.
//
// Query parameters: start, end (RFC3339), unit_id, alert_id, outcome, limit
// and format (json or csv).
func NewLogHandler(store logging.LogStore, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			auth := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+token)) != 1 {
				writeErr(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
				return
			}
		}
		params := r.URL.Query()
		q := logging.LogQuery{
			UnitID:  params.Get("unit_id"),
			AlertID: params.Get("alert_id"),
			Outcome: params.Get("outcome"),
			Limit:   DefaultLimit,
		}
		var err error
		if q.Start, err = parseTime(params.Get("start")); err != nil {
			writeErr(w, http.StatusBadRequest, "INVALID_INPUT", "start: "+err.Error())
			return
		}
		if q.End, err = parseTime(params.Get("end")); err != nil {
			writeErr(w, http.StatusBadRequest, "INVALID_INPUT", "end: "+err.Error())
			return
		}
		format := params.Get("format")
		if format != "" && format != "json" && format != "csv" {
			writeErr(w, http.StatusBadRequest, "INVALID_INPUT", "format must be json or csv")
			return
		}
		if s := params.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeErr(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a positive integer")
				return
			}
			q.Limit = n
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			writeErr(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
			return
		}
		if format == "csv" {
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", `attachment; filename="dispatch-logs.csv"`)
			_ = export.WriteCSV(w, records)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = export.WriteJSON(w, records)
	})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": msg})
}
