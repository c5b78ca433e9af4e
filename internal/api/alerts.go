package api

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// AlertsHandler handles urgency alert endpoints.
type AlertsHandler struct {
	DB *sql.DB
}

// List handles GET /api/alerts.
func (h *AlertsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AlertFilter{StockItemID: q.Get("stockItemId")}
	if v := q.Get("isResolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "isResolved must be true or false")
			return
		}
		filter.Resolved = &resolved
	}

	alerts, err := store.ListAlerts(r.Context(), h.DB, filter)
	if err != nil {
		storeError(w, err, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []model.UrgencyAlert{}
	}
	jsonResponse(w, http.StatusOK, alerts)
}

// Resolve handles PATCH /api/alerts/{id}/resolve.
func (h *AlertsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	alert, err := store.ResolveAlert(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		storeError(w, err, "failed to resolve alert")
		return
	}
	jsonResponse(w, http.StatusOK, alert)
}
