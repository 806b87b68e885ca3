package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wonny/captrack/internal/query"
	"github.com/wonny/captrack/pkg/logger"
)

// RankHandler handles the ranking query endpoints.
type RankHandler struct {
	engine *query.Engine
	logger *logger.Logger
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(engine *query.Engine, log *logger.Logger) *RankHandler {
	return &RankHandler{
		engine: engine,
		logger: log,
	}
}

// GetLatestSnapshot returns the most recent ranking.
// GET /api/ranks/latest?limit=260
func (h *RankHandler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", query.DefaultLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.engine.LatestSnapshot(r.Context(), limit)
	if err != nil {
		h.respondEngineError(w, r, err, "Failed to load latest snapshot")
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

// GetRankHistory returns one symbol's rank trajectory.
// GET /api/rank-history/{symbol}?days=365
func (h *RankHandler) GetRankHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	days, err := intParam(r, "days", query.DefaultHistoryDays)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	hist, err := h.engine.RankHistory(r.Context(), symbol, days)
	if err != nil {
		h.respondEngineError(w, r, err, "Failed to load rank history")
		return
	}

	respondJSON(w, http.StatusOK, hist)
}

// GetTimeline returns cross-symbol rank evolution over recent dates.
// GET /api/ranks/timeline?limit=260&days=120
func (h *RankHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", query.DefaultLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	days, err := intParam(r, "days", query.DefaultWindowDays)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tl, err := h.engine.Timeline(r.Context(), limit, days)
	if err != nil {
		h.respondEngineError(w, r, err, "Failed to load timeline")
		return
	}

	respondJSON(w, http.StatusOK, tl)
}

// GetNewEntrants returns top-N entry events.
// GET /api/events/new-entrants?limit=260&days=30&max_events=100
func (h *RankHandler) GetNewEntrants(w http.ResponseWriter, r *http.Request) {
	limit, days, maxEvents, err := eventParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.engine.NewEntrants(r.Context(), limit, days, maxEvents)
	if err != nil {
		h.respondEngineError(w, r, err, "Failed to detect new entrants")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

// GetBigMovers returns rank-improvement events.
// GET /api/events/big-movers?limit=260&days=30&max_events=100&threshold=5
func (h *RankHandler) GetBigMovers(w http.ResponseWriter, r *http.Request) {
	limit, days, maxEvents, err := eventParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	threshold, err := intParam(r, "threshold", query.DefaultThreshold)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.engine.BigMovers(r.Context(), limit, days, maxEvents, threshold)
	if err != nil {
		h.respondEngineError(w, r, err, "Failed to detect big movers")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

// respondEngineError maps engine errors onto HTTP statuses.
func (h *RankHandler) respondEngineError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case query.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, query.ErrNoData), errors.Is(err, query.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error(fallback)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

// eventParams parses the parameters shared by both event endpoints. An
// absent days means the full stored range.
func eventParams(r *http.Request) (limit int, days *int, maxEvents int, err error) {
	limit, err = intParam(r, "limit", query.DefaultLimit)
	if err != nil {
		return 0, nil, 0, err
	}
	maxEvents, err = intParam(r, "max_events", query.DefaultMaxEvents)
	if err != nil {
		return 0, nil, 0, err
	}

	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		d, convErr := strconv.Atoi(daysStr)
		if convErr != nil {
			return 0, nil, 0, &paramError{name: "days", value: daysStr}
		}
		days = &d
	}
	return limit, days, maxEvents, nil
}

type paramError struct {
	name  string
	value string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + ": " + e.value
}

func intParam(r *http.Request, name string, defaultValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &paramError{name: name, value: raw}
	}
	return v, nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
