package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// AuditLister reads the append-only audit log.
type AuditLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the audit trail of settled write actions and archive runs.
type AuditHandler struct {
	audit  AuditLister
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. audit may be nil when no database
// is configured.
func NewAuditHandler(audit AuditLister, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// ListAudit returns audit entries newest first.
// GET /api/audit?limit=50&offset=0&since=&until=
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log is not enabled")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
