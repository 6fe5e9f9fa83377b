package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/shellgate-prototype/internal/domain"
)

// ViolationsProvider — rollup и очистка истории нарушений
type ViolationsProvider interface {
	ViolationsSummary() map[string]domain.ViolationSummary
	ClearViolations(projectID string)
}

type ViolationsHandler struct {
	engine ViolationsProvider
}

func NewViolationsHandler(e ViolationsProvider) *ViolationsHandler {
	return &ViolationsHandler{engine: e}
}

// Summary — GET /v1/violations/summary
func (h *ViolationsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.engine.ViolationsSummary())
}

// Clear — DELETE /v1/violations/{projectID}
// Wholesale-очистка истории одного проекта; решения и pending-заявки не трогаем.
func (h *ViolationsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		http.Error(w, "projectID is required", http.StatusBadRequest)
		return
	}

	h.engine.ClearViolations(projectID)
	w.WriteHeader(http.StatusNoContent)
}
