package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// writeJSON marshals v and writes it with status. A marshal failure becomes
// a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrActionBusy), domain.IsConfigError(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case domain.IsValidationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// writeServiceError reports err to the client. Client-side errors carry
// their message; upstream failures are logged and summarised as op.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		writeError(w, status, err.Error())
		return
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, status, op+" failed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// parseListOpts reads limit (default 50, max 500), offset, and RFC 3339
// since/until from the query string.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	opts := domain.ListOpts{Limit: limit}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		opts.Offset = n
	}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// page slices items by opts.Offset and opts.Limit.
func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(items) {
		return []T{}
	}
	items = items[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// marketID parses the {id} path value.
func marketID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: market id %q", domain.ErrInvalidInput, raw)
	}
	return id, nil
}

// parsePrediction accepts yes/no and true/false.
func parsePrediction(s string) (bool, error) {
	switch s {
	case "yes", "YES", "true", "1":
		return true, nil
	case "no", "NO", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: prediction must be yes or no, got %q", domain.ErrInvalidInput, s)
}
