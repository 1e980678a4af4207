package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kbkonsulting/Safe2Tow/internal/platform/httpx"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
)

// MaintenanceHandlers exposes scheduler-triggered housekeeping under /internal.
type MaintenanceHandlers struct {
	maintenance services.MaintenanceService
}

// NewMaintenanceHandlers constructs the internal maintenance handlers.
func NewMaintenanceHandlers(maintenance services.MaintenanceService) *MaintenanceHandlers {
	return &MaintenanceHandlers{maintenance: maintenance}
}

// Routes registers the maintenance job endpoints.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/search-logs:purge", h.purgeSearchLogs)
}

type purgeResponse struct {
	Deleted int    `json:"deleted"`
	Cutoff  string `json:"cutoff"`
}

func (h *MaintenanceHandlers) purgeSearchLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.maintenance == nil {
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "maintenance service is unavailable", http.StatusServiceUnavailable))
		return
	}
	result, err := h.maintenance.PurgeSearchLogs(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, purgeResponse{Deleted: result.Deleted, Cutoff: result.Cutoff.UTC().Format(time.RFC3339)})
}
