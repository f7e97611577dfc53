package handler

import (
	"net/http"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// StatusHandler serves the dashboard header summary.
type StatusHandler struct {
	status func() domain.StatusInfo
}

// NewStatusHandler creates a StatusHandler around a status builder.
func NewStatusHandler(status func() domain.StatusInfo) *StatusHandler {
	return &StatusHandler{status: status}
}

// GetStatus responds with mode, network, account and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}
