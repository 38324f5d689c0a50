package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
)

const statsCacheKey = "distributed"

// Health reports coordinator reachability plus ingestion log depth and
// consumer-group lag. Any failing check degrades the status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]any{}
	healthy := true

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	var streamLen, lag int64
	if n, err := h.log.Len(ctx); err != nil {
		checks["stream"] = err.Error()
		healthy = false
	} else {
		streamLen = n
		checks["stream"] = "ok"
	}
	if n, err := h.log.GroupLag(ctx); err != nil {
		checks["consumer_group"] = err.Error()
		healthy = false
	} else {
		lag = n
		checks["consumer_group"] = "ok"
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, model.HealthStatus{
		Status:       status,
		InstanceID:   h.deliverer.InstanceID(),
		Checks:       checks,
		StreamLength: streamLen,
		ConsumerLag:  lag,
	})
}

// Stats lists the sessions terminated on this instance.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deliverer.LocalStats())
}

// StatsDistributed aggregates the shared registry, cached briefly.
func (h *Handler) StatsDistributed(w http.ResponseWriter, r *http.Request) {
	if stats, ok := h.statsCache.Get(statsCacheKey); ok {
		writeJSON(w, http.StatusOK, stats)
		return
	}

	stats, err := h.deliverer.DistributedStats(r.Context())
	if err != nil {
		h.logger.Error("distributed stats failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	h.statsCache.Add(statsCacheKey, stats)
	writeJSON(w, http.StatusOK, stats)
}

// DebugPending dumps a user's raw pending queue. Only mounted with
// ENABLE_DEBUG; still guarded here in case of manual router wiring.
func (h *Handler) DebugPending(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.EnableDebug {
		http.NotFound(w, r)
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid user id"})
		return
	}

	raw, err := h.pending.RawQueue(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	entries := make([]map[string]any, 0, len(raw))
	for _, z := range raw {
		entries = append(entries, map[string]any{
			"score": z.Score,
			"entry": z.Member,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"count":   len(entries),
		"entries": entries,
	})
}
