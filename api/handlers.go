// Package api exposes the dispatch coordinator over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medidispatch/dispatch-core/core/dispatch"
	"github.com/medidispatch/dispatch-core/core/events"
	"github.com/medidispatch/dispatch-core/core/logger"
	"github.com/medidispatch/dispatch-core/core/model"
)

// Service is the dispatch surface used by the handlers.
type Service interface {
	CreateAlert(ctx context.Context, loc model.Coordinate) (dispatch.Dispatch, error)
	GetAlert(ctx context.Context, alertID string) (model.Alert, model.Unit, error)
	AdvanceAlertStatus(ctx context.Context, alertID string, status model.AlertStatus) (model.Alert, error)
	ReportUnitLocation(ctx context.Context, unitID string, loc model.Coordinate) (model.Unit, error)
	SetUnitStatus(ctx context.Context, unitID string, state model.UnitState) (model.Unit, error)
	ListUnits() []model.Unit
	Subscribe(ctx context.Context, alertID string) (<-chan events.AlertEvent, error)
	Unsubscribe(alertID string, ch <-chan events.AlertEvent)
}

var _ Service = (*dispatch.Coordinator)(nil)

type Handler struct {
	svc Service
	log logger.Logger
}

func NewHandler(svc Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop{}
	}
	return &Handler{svc: svc, log: log}
}

// AlertView is the body of GET /api/alerts/{id}.
type AlertView struct {
	Alert model.Alert `json:"alert"`
	Unit  *model.Unit `json:"unit,omitempty"`
}

// CreateEmergency handles POST /api/emergency.
func (h *Handler) CreateEmergency(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := bind(r, &req); err != nil {
		writeError(w, err)
		return
	}
	d, err := h.svc.CreateAlert(r.Context(), req.coordinate())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetAlert handles GET /api/alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, unit, err := h.svc.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	view := AlertView{Alert: alert}
	if unit.ID != "" {
		view.Unit = &unit
	}
	writeJSON(w, http.StatusOK, view)
}

// AdvanceAlert handles POST /api/alerts/{id}/status.
func (h *Handler) AdvanceAlert(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := bind(r, &req); err != nil {
		writeError(w, err)
		return
	}
	status, err := model.ParseAlertStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	alert, err := h.svc.AdvanceAlertStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) ListUnits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListUnits())
}

// UpdateUnitLocation handles POST /api/units/{id}/location.
func (h *Handler) UpdateUnitLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := bind(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := h.svc.ReportUnitLocation(r.Context(), chi.URLParam(r, "id"), req.coordinate())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateUnitStatus handles POST /api/units/{id}/status.
func (h *Handler) UpdateUnitStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := bind(r, &req); err != nil {
		writeError(w, err)
		return
	}
	state, err := model.ParseUnitState(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	u, err := h.svc.SetUnitStatus(r.Context(), chi.URLParam(r, "id"), state)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	units := h.svc.ListUnits()
	available := 0
	for _, u := range units {
		if u.Available() {
			available++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "units": len(units), "available": available})
}
