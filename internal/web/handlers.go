package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/onllm-dev/logwatch/internal/entries"
	"github.com/onllm-dev/logwatch/internal/poller"
	"github.com/onllm-dev/logwatch/internal/store"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	entries *entries.Manager
	poller  *poller.Poller
	store   *store.Store
	logger  *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(em *entries.Manager, p *poller.Poller, st *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{entries: em, poller: p, store: st, logger: logger}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Index serves a minimal landing page pointing at the API.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>logwatch</title></head>
<body>
<h1>logwatch</h1>
<ul>
<li><a href="/api/entries">/api/entries</a></li>
<li><a href="/api/fields">/api/fields</a></li>
<li><a href="/api/usage">/api/usage</a></li>
<li><a href="/api/sessions">/api/sessions</a></li>
<li><a href="/api/stats">/api/stats</a></li>
<li><a href="/metrics">/metrics</a></li>
</ul>
</body>
</html>`)
}

// Entries serves the current transcript working set, newest first.
func (h *Handler) Entries(w http.ResponseWriter, r *http.Request) {
	list := h.entries.Entries()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": list,
		"total":   len(list),
	})
}

// Fields serves the union of keys across all loaded entries.
func (h *Handler) Fields(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.entries.Fields())
}

// Refresh forces a reload of the working set from disk.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.entries.Load(); err != nil {
		h.logger.Error("manual refresh failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"total":  h.entries.Count(),
	})
}

// Usage serves current usage data. Poll failures never turn into 500s:
// the last cached reading is served when one exists, otherwise an error
// payload with status 200 for the page to render.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	resp, err := h.poller.Poll(r.Context())
	if err != nil {
		if cached, fetchedAt, ok := h.poller.Cached(); ok {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"five_hour":  cached.FiveHour,
				"seven_day":  cached.SevenDay,
				"stale":      true,
				"fetched_at": fetchedAt.UTC().Format(time.RFC3339),
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// UsageSnapshots serves stored snapshots in a required time range.
func (h *Handler) UsageSnapshots(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	if start == "" || end == "" {
		respondError(w, http.StatusBadRequest, "start and end parameters are required")
		return
	}

	snapshots, err := h.store.GetSnapshotsInRange(start, end)
	if err != nil {
		h.logger.Error("snapshot range query failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshotsJSON(snapshots),
		"total":     len(snapshots),
	})
}

// Sessions serves stored session details, newest first.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions()
	if err != nil {
		h.logger.Error("session list failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessionsJSON(sessions),
		"total":    len(sessions),
	})
}

// Stats serves aggregate session statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetAggregateStats()
	if err != nil {
		h.logger.Error("aggregate stats failed", "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// snapshotsJSON flattens snapshot rows for the API.
func snapshotsJSON(snaps []*store.Snapshot) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, map[string]interface{}{
			"id":                        s.ID,
			"timestamp":                 s.Timestamp,
			"five_hour_used":            s.FiveHourUsed,
			"five_hour_limit":           s.FiveHourLim,
			"seven_day_used":            s.SevenDayUsed,
			"seven_day_limit":           s.SevenDayLim,
			"five_hour_pct":             s.FiveHourPct,
			"seven_day_pct":             s.SevenDayPct,
			"five_hour_reset":           s.FiveHourReset,
			"seven_day_reset":           s.SevenDayReset,
			"five_hour_tokens_consumed": s.FiveHourTokensConsumed,
			"five_hour_tokens_total":    s.FiveHourTokensTotal,
			"five_hour_messages_count":  s.FiveHourMessagesCount,
			"five_hour_messages_total":  s.FiveHourMessagesTotal,
			"seven_day_tokens_consumed": s.SevenDayTokensConsumed,
			"seven_day_tokens_total":    s.SevenDayTokensTotal,
			"seven_day_messages_count":  s.SevenDayMessagesCount,
			"seven_day_messages_total":  s.SevenDayMessagesTotal,
			"active_sessions":           s.ActiveSessions,
			"recalculated":              s.Recalculated,
			"created_at":                s.CreatedAt,
		})
	}
	return out
}

// sessionsJSON flattens session rows for the API.
func sessionsJSON(sessions []*store.SessionDetail) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(sessions))
	for _, d := range sessions {
		out = append(out, map[string]interface{}{
			"session_id":     d.SessionID,
			"start_time":     d.StartTime,
			"end_time":       d.EndTime,
			"total_messages": d.TotalMessages,
			"total_tokens":   d.TotalTokens,
			"input_tokens":   d.InputTokens,
			"output_tokens":  d.OutputTokens,
			"model_used":     d.ModelUsed,
			"has_plans":      d.HasPlans,
			"has_todos":      d.HasTodos,
			"plan_count":     d.PlanCount,
			"todo_count":     d.TodoCount,
		})
	}
	return out
}
