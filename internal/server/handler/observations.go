package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
)

// HistoryStore answers time-ranged queries from the database mirror.
type HistoryStore interface {
	ListSince(ctx context.Context, since time.Time) ([]domain.Observation, error)
}

// ObservationHandler serves the persisted time series.
type ObservationHandler struct {
	series  domain.ObservationReader
	cache   domain.ObservationCache
	history HistoryStore
	logger  *slog.Logger
}

// NewObservationHandler creates a handler reading from the CSV series.
func NewObservationHandler(series domain.ObservationReader, logger *slog.Logger) *ObservationHandler {
	return &ObservationHandler{series: series, logger: logger}
}

// WithCache serves /latest from the cache before falling back to the series.
func (h *ObservationHandler) WithCache(c domain.ObservationCache) *ObservationHandler {
	h.cache = c
	return h
}

// WithHistory enables ?since= queries.
func (h *ObservationHandler) WithHistory(s HistoryStore) *ObservationHandler {
	h.history = s
	return h
}

type listObservationsResponse struct {
	Observations []domain.Observation `json:"observations"`
}

// Latest returns the most recent observation.
// GET /api/observations/latest
func (h *ObservationHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		obs, err := h.cache.GetLatest(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, obs)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "latest observation cache miss",
				slog.String("error", err.Error()),
			)
		}
	}

	rows, err := h.series.Tail(1)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read latest observation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read observations")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no observations yet")
		return
	}
	writeJSON(w, http.StatusOK, rows[0])
}

// List returns the tail of the series, oldest first, or with ?since= the
// database rows at or after that instant.
// GET /api/observations?limit=N
// GET /api/observations?since=2024-10-01T00:00:00Z
func (h *ObservationHandler) List(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("since"); v != "" {
		h.listSince(w, r, v)
		return
	}

	rows, err := h.series.Tail(parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list observations failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read observations")
		return
	}
	if rows == nil {
		rows = []domain.Observation{}
	}
	writeJSON(w, http.StatusOK, listObservationsResponse{Observations: rows})
}

func (h *ObservationHandler) listSince(w http.ResponseWriter, r *http.Request, raw string) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "history queries need the postgres mirror")
		return
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be RFC3339")
		return
	}

	rows, err := h.history.ListSince(r.Context(), since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list observations since failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if limit := parseLimit(r); len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []domain.Observation{}
	}
	writeJSON(w, http.StatusOK, listObservationsResponse{Observations: rows})
}
