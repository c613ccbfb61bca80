// Package export renders audit records for download.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/medidispatch/dispatch-core/core/dispatch/logging"
)

var csvHeader = []string{"timestamp", "alert_id", "unit_id", "outcome", "lat", "lng", "distance_km", "eta_minutes", "attempts", "error"}

// WriteJSON writes records to w as a JSON array.
func WriteJSON(w io.Writer, records []logging.LogRecord) error {
	if records == nil {
		records = []logging.LogRecord{}
	}
	return json.NewEncoder(w).Encode(records)
}

// WriteCSV writes records to w with a header row.
func WriteCSV(w io.Writer, records []logging.LogRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.AlertID,
			r.UnitID,
			r.Outcome,
			strconv.FormatFloat(r.Lat, 'f', -1, 64),
			strconv.FormatFloat(r.Lng, 'f', -1, 64),
			strconv.FormatFloat(r.DistanceKm, 'f', -1, 64),
			strconv.Itoa(r.ETAMinutes),
			strconv.Itoa(r.Attempts),
			r.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
