package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// TxService exposes the tracked write actions.
type TxService interface {
	Transactions() []domain.TxRecord
	Transaction(ctx context.Context, id string) (domain.TxRecord, error)
}

// TxHistory lists persisted write actions.
type TxHistory interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.TxRecord, error)
}

// TxHandler serves the write-action log.
type TxHandler struct {
	txs     TxService
	history TxHistory
	logger  *slog.Logger
}

// NewTxHandler creates a TxHandler. history may be nil.
func NewTxHandler(txs TxService, history TxHistory, logger *slog.Logger) *TxHandler {
	return &TxHandler{txs: txs, history: history, logger: logger}
}

// ListTx returns write actions newest first. Persisted history is used when
// available, otherwise the in-memory records.
// GET /api/tx?limit=50&offset=0
func (h *TxHandler) ListTx(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if h.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"transactions": page(h.txs.Transactions(), opts)})
		return
	}
	recs, err := h.history.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list tx failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if recs == nil {
		recs = []domain.TxRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": recs})
}

// GetTx returns one write action.
// GET /api/tx/{id}
func (h *TxHandler) GetTx(w http.ResponseWriter, r *http.Request) {
	rec, err := h.txs.Transaction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
