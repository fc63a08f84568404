// Package admin provides HTTP handlers for the visualizer administration
// API: cache inspection and clearing, circuit breakers, the saved model
// list with its history, and the request log.
// Mount Routes behind TokenAuth.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	nervis "github.com/ferro-labs/ner-visualizer"
	"github.com/ferro-labs/ner-visualizer/internal/cache"
	"github.com/ferro-labs/ner-visualizer/internal/circuitbreaker"
	"github.com/ferro-labs/ner-visualizer/internal/requestlog"
)

// CacheAdmin exposes the cache and breaker operations of *nervis.Visualizer.
type CacheAdmin interface {
	CacheStats() []cache.ModelStats
	ClearCache()
	ClearModelCache(identity string) error
	Breakers() map[string]circuitbreaker.Snapshot
	ResetBreaker(identity string) error
}

// ModelConfigManager exposes model list operations. *ModelManager
// implements it.
type ModelConfigManager interface {
	Models() []nervis.ModelConfig
	ReloadModels(models []nervis.ModelConfig) (nervis.ReloadResult, error)
	History() []ModelHistoryEntry
	Rollback(version int) (nervis.ReloadResult, error)
}

// ModelResetter provides reset semantics for the model list API.
type ModelResetter interface {
	ResetModels() (nervis.ReloadResult, error)
}

// Handlers holds dependencies for admin HTTP handlers.
type Handlers struct {
	Cache    CacheAdmin
	Models   ModelConfigManager
	Logs     requestlog.Reader
	LogAdmin requestlog.Maintainer
}

const unknownLabel = "unknown"
const logsStatsMaxScannedEntries = 5000

// Routes returns a chi.Router with all admin endpoints mounted.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/dashboard", h.dashboard)

	r.Get("/cache", h.cacheStats)
	r.Delete("/cache", h.clearCache)

	r.Get("/breakers", h.listBreakers)
	r.Post("/breakers/reset", h.resetBreaker)

	r.Get("/models", h.getModels)
	r.Put("/models", h.updateModels)
	r.Delete("/models", h.resetModels)
	r.Get("/models/history", h.modelHistory)
	r.Post("/models/rollback/{version}", h.rollbackModels)

	r.Get("/logs", h.listLogs)
	r.Get("/logs/stats", h.logsStats)
	r.Delete("/logs", h.deleteLogs)

	return r
}

// maxBodyBytes bounds request bodies accepted by the model list API.
const maxBodyBytes = 1 << 20

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	stats := h.Cache.CacheStats()
	entries := 0
	for _, s := range stats {
		entries += s.Entries
	}

	open := 0
	breakers := h.Cache.Breakers()
	for _, b := range breakers {
		if b.State != circuitbreaker.StateClosed.String() {
			open++
		}
	}

	models := 0
	if h.Models != nil {
		models = len(h.Models.Models())
	}

	requestLogs := map[string]interface{}{
		"enabled": false,
		"total":   0,
	}
	if h.Logs != nil {
		logsResult, err := h.Logs.List(r.Context(), requestlog.Query{Limit: 1})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load dashboard summary", "server_error", "internal_error")
			return
		}
		requestLogs["enabled"] = true
		requestLogs["total"] = logsResult.Total
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": models,
		"cache": map[string]interface{}{
			"caches":  len(stats),
			"entries": entries,
		},
		"breakers": map[string]interface{}{
			"total":    len(breakers),
			"tripped":  open,
			"by_model": breakers,
		},
		"request_logs": requestLogs,
	})
}

func (h *Handlers) cacheStats(w http.ResponseWriter, _ *http.Request) {
	stats := h.Cache.CacheStats()
	entries := 0
	for _, s := range stats {
		entries += s.Entries
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": stats,
		"summary": map[string]interface{}{
			"caches":        len(stats),
			"total_entries": entries,
		},
	})
}

// clearCache empties every cache, or only the one named by ?model=.
func (h *Handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	if model == "" {
		h.Cache.ClearCache()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		return
	}
	if err := h.Cache.ClearModelCache(model); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "not_found_error", "model_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "model": model})
}

func (h *Handlers) listBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": h.Cache.Breakers()})
}

func (h *Handlers) resetBreaker(w http.ResponseWriter, r *http.Request) {
	model := r.URL.Query().Get("model")
	if model == "" {
		writeError(w, http.StatusBadRequest, "model is required", "invalid_request_error", "invalid_request")
		return
	}
	if err := h.Cache.ResetBreaker(model); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "not_found_error", "model_not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "model": model})
}

func (h *Handlers) getModels(w http.ResponseWriter, _ *http.Request) {
	if h.Models == nil {
		writeError(w, http.StatusNotImplemented, "model management is not enabled", "not_implemented_error", "not_implemented")
		return
	}
	writeJSON(w, http.StatusOK, h.Models.Models())
}

func (h *Handlers) updateModels(w http.ResponseWriter, r *http.Request) {
	if h.Models == nil {
		writeError(w, http.StatusNotImplemented, "model management is not enabled", "not_implemented_error", "not_implemented")
		return
	}
	UpdateModels(h.Models)(w, r)
}

// UpdateModels returns a handler that decodes a JSON model list from the
// request body and applies it through m. The public API shares it.
func UpdateModels(m ModelConfigManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_request")
			return
		}
		models, err := nervis.ParseModels(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "invalid_config")
			return
		}
		res, err := m.ReloadModels(models)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "invalid_config")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "updated",
			"added":   res.Added,
			"removed": res.Removed,
			"models":  m.Models(),
		})
	}
}

func (h *Handlers) resetModels(w http.ResponseWriter, _ *http.Request) {
	if h.Models == nil {
		writeError(w, http.StatusNotImplemented, "model management is not enabled", "not_implemented_error", "not_implemented")
		return
	}
	resetter, ok := h.Models.(ModelResetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "model reset is not enabled", "not_implemented_error", "not_implemented")
		return
	}
	res, err := resetter.ResetModels()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "server_error", "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "reset",
		"added":   res.Added,
		"removed": res.Removed,
	})
}

func (h *Handlers) modelHistory(w http.ResponseWriter, _ *http.Request) {
	if h.Models == nil {
		writeError(w, http.StatusNotImplemented, "model management is not enabled", "not_implemented_error", "not_implemented")
		return
	}
	history := h.Models.History()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": history,
		"summary": map[string]interface{}{
			"total_versions": len(history),
		},
	})
}

func (h *Handlers) rollbackModels(w http.ResponseWriter, r *http.Request) {
	if h.Models == nil {
		writeError(w, http.StatusNotImplemented, "model management is not enabled", "not_implemented_error", "not_implemented")
		return
	}

	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version <= 0 {
		writeError(w, http.StatusBadRequest, "invalid version: must be a positive integer", "invalid_request_error", "invalid_request")
		return
	}

	res, err := h.Models.Rollback(version)
	switch {
	case errors.Is(err, ErrVersionNotFound):
		writeError(w, http.StatusNotFound, "model list version not found", "not_found_error", "resource_not_found")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "invalid_config")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "rolled_back",
		"rolled_back_to":       version,
		"added":                res.Added,
		"removed":              res.Removed,
		"current_history_size": len(h.Models.History()),
	})
}

func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeError(w, http.StatusNotImplemented, "request log storage is not enabled", "not_implemented_error", "not_implemented")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be a positive integer", "invalid_request_error", "invalid_request")
			return
		}
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset: must be a non-negative integer", "invalid_request_error", "invalid_request")
			return
		}
		offset = parsed
	}

	since, ok := parseSince(w, r)
	if !ok {
		return
	}

	query := requestlog.Query{
		Limit:   limit,
		Offset:  offset,
		Model:   r.URL.Query().Get("model"),
		Outcome: r.URL.Query().Get("outcome"),
		Since:   since,
	}

	result, err := h.Logs.List(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list request logs", "server_error", "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result.Data,
		"summary": map[string]interface{}{
			"total_entries":    result.Total,
			"returned_entries": len(result.Data),
		},
		"filters": map[string]interface{}{
			"limit":   limit,
			"offset":  offset,
			"model":   query.Model,
			"outcome": query.Outcome,
			"since":   r.URL.Query().Get("since"),
		},
	})
}

func parseSince(w http.ResponseWriter, r *http.Request) (*time.Time, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since: must be RFC3339 format", "invalid_request_error", "invalid_request")
		return nil, false
	}
	return &parsed, true
}

func (h *Handlers) deleteLogs(w http.ResponseWriter, r *http.Request) {
	if h.LogAdmin == nil {
		writeError(w, http.StatusNotImplemented, "request log storage is not enabled", "not_implemented_error", "not_implemented")
		return
	}

	beforeRaw := r.URL.Query().Get("before")
	if beforeRaw == "" {
		writeError(w, http.StatusBadRequest, "before is required and must be RFC3339 format", "invalid_request_error", "invalid_request")
		return
	}

	before, err := time.Parse(time.RFC3339, beforeRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid before: must be RFC3339 format", "invalid_request_error", "invalid_request")
		return
	}

	deleted, err := h.LogAdmin.Delete(r.Context(), requestlog.MaintenanceQuery{
		Before: &before,
		Model:  r.URL.Query().Get("model"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete request logs", "server_error", "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"filters": map[string]interface{}{
			"before": beforeRaw,
			"model":  r.URL.Query().Get("model"),
		},
	})
}

func (h *Handlers) logsStats(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeError(w, http.StatusNotImplemented, "request log storage is not enabled", "not_implemented_error", "not_implemented")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be a positive integer", "invalid_request_error", "invalid_request")
			return
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}

	since, ok := parseSince(w, r)
	if !ok {
		return
	}

	baseQuery := requestlog.Query{
		Limit: 200,
		Model: r.URL.Query().Get("model"),
		Since: since,
	}

	result, err := h.Logs.List(r.Context(), baseQuery)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute request log stats", "server_error", "internal_error")
		return
	}

	entries := make([]requestlog.Entry, 0, len(result.Data))
	entries = append(entries, result.Data...)
	for len(entries) < result.Total && len(entries) < logsStatsMaxScannedEntries {
		baseQuery.Offset = len(entries)
		next, listErr := h.Logs.List(r.Context(), baseQuery)
		if listErr != nil {
			writeError(w, http.StatusInternalServerError, "failed to compute request log stats", "server_error", "internal_error")
			return
		}
		if len(next.Data) == 0 {
			break
		}
		remaining := logsStatsMaxScannedEntries - len(entries)
		if len(next.Data) > remaining {
			next.Data = next.Data[:remaining]
		}
		entries = append(entries, next.Data...)
	}
	truncated := len(entries) < result.Total

	byOutcome := map[string]int{}
	byModel := map[string]int{}
	byErrorType := map[string]int{}
	hits := 0
	var callMS int64
	calls := 0
	for _, entry := range entries {
		outcome := entry.Outcome
		if outcome == "" {
			outcome = unknownLabel
		}
		byOutcome[outcome]++

		model := entry.Model
		if model == "" {
			model = unknownLabel
		}
		byModel[model]++

		if entry.ErrorType != "" {
			byErrorType[entry.ErrorType]++
		}
		if entry.CacheHit {
			hits++
		} else if entry.ErrorType == "" {
			calls++
			callMS += entry.DurationMS
		}
	}

	hitRatio := 0.0
	if len(entries) > 0 {
		hitRatio = float64(hits) / float64(len(entries))
	}
	avgCallMS := 0.0
	if calls > 0 {
		avgCallMS = float64(callMS) / float64(calls)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": map[string]interface{}{
			"total_entries":     len(entries),
			"cache_hits":        hits,
			"hit_ratio":         hitRatio,
			"avg_call_ms":       avgCallMS,
			"truncated":         truncated,
			"available_entries": result.Total,
			"scan_limit":        logsStatsMaxScannedEntries,
		},
		"by_outcome":    byOutcome,
		"by_model":      limitCounts(byModel, limit),
		"by_error_type": byErrorType,
		"filters": map[string]interface{}{
			"limit": limit,
			"model": baseQuery.Model,
			"since": r.URL.Query().Get("since"),
		},
	})
}

func limitCounts(input map[string]int, limit int) map[string]int {
	if limit <= 0 || len(input) <= limit {
		return input
	}

	type item struct {
		name  string
		count int
	}
	items := make([]item, 0, len(input))
	for name, count := range input {
		items = append(items, item{name: name, count: count})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].name < items[j].name
	})

	trimmed := make(map[string]int, limit)
	for i := 0; i < limit; i++ {
		trimmed[items[i].name] = items[i].count
	}

	return trimmed
}
