package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medidispatch/dispatch-core/core/dispatch/logging"
)

type failingStore struct{ logging.LogStore }

func (failingStore) Query(context.Context, logging.LogQuery) ([]logging.LogRecord, error) {
	return nil, errors.New("disk gone")
}

func seeded(t *testing.T) logging.LogStore {
	t.Helper()
	store := logging.NewMemoryStore()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	recs := []logging.LogRecord{
		{Timestamp: base, AlertID: "a1", UnitID: "u1", Outcome: logging.OutcomeAssigned},
		{Timestamp: base.Add(time.Minute), AlertID: "a2", Outcome: logging.OutcomeNoCapacity},
		{Timestamp: base.Add(2 * time.Minute), AlertID: "a1", UnitID: "u1", Outcome: logging.OutcomeCompleted},
	}
	for _, r := range recs {
		if err := store.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return store
}

func get(h http.Handler, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLogHandler_AuthAndFilters(t *testing.T) {
	h := NewLogHandler(seeded(t), "tok")

	rr := get(h, "/api/dispatch/logs?unit_id=u1", "tok")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out []logging.LogRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}

	rr = get(h, "/api/dispatch/logs?outcome=no_capacity&start=2026-05-01T08:00:30Z", "tok")
	out = nil
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 || out[0].AlertID != "a2" {
		t.Fatalf("unexpected filter result %+v", out)
	}

	if rr := get(h, "/api/dispatch/logs", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
	if rr := get(h, "/api/dispatch/logs", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestLogHandler_BadParams(t *testing.T) {
	h := NewLogHandler(seeded(t), "")
	for _, target := range []string{
		"/api/dispatch/logs?start=yesterday",
		"/api/dispatch/logs?end=1",
		"/api/dispatch/logs?limit=-3",
		"/api/dispatch/logs?format=xml",
	} {
		if rr := get(h, target, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400 got %d", target, rr.Code)
		}
	}
}

func TestLogHandler_EmptyAndFailing(t *testing.T) {
	rr := get(NewLogHandler(logging.NewMemoryStore(), ""), "/api/dispatch/logs", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "[]\n" {
		t.Fatalf("expected empty array, got %d %q", rr.Code, rr.Body.String())
	}
	rr = get(NewLogHandler(failingStore{}, ""), "/api/dispatch/logs", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
}

func TestLogHandler_CSV(t *testing.T) {
	rr := get(NewLogHandler(seeded(t), ""), "/api/dispatch/logs?format=csv&alert_id=a1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "timestamp,alert_id") {
		t.Fatalf("unexpected csv %q", rr.Body.String())
	}
}
