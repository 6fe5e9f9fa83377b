package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/shellgate-prototype/internal/domain"
)

// PendingProvider Описываем, что нам нужно от движка
type PendingProvider interface {
	PendingApprovals() []domain.Decision
}

// ApprovalHandler отдает очередь HITL для операторского UI (read-only).
// Сами клики approve/reject идут мимо нас — через канал решений (Redis)
// или прямой вызов движка; этот API только показывает очередь.
type ApprovalHandler struct {
	engine PendingProvider
}

func NewApprovalHandler(e PendingProvider) *ApprovalHandler {
	return &ApprovalHandler{engine: e}
}

// List — GET /v1/approvals/pending
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	pending := h.engine.PendingApprovals()

	w.Header().Set("Content-Type", "application/json")
	// Инициализированный слайс: в JSON будет [] вместо null
	if pending == nil {
		pending = []domain.Decision{}
	}
	json.NewEncoder(w).Encode(pending)
}
