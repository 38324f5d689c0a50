// Package httpapi exposes the producer and observability HTTP endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/pulsegrid/notify-delivery-service/config"
	"github.com/pulsegrid/notify-delivery-service/internal/adapter/coordinator"
	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
	"github.com/pulsegrid/notify-delivery-service/internal/service"
)

const statsCacheTTL = 2 * time.Second

type Handler struct {
	logger    *slog.Logger
	cfg       *config.Config
	deliverer service.Deliverer
	log       *coordinator.IngestionLog
	pending   *coordinator.PendingStore
	rdb       *redis.Client

	// statsCache shields the registry from hot /stats/distributed polling
	// (monitoring dashboards hit it every second).
	statsCache *expirable.LRU[string, model.DistributedStats]
}

func NewHandler(
	logger *slog.Logger,
	cfg *config.Config,
	deliverer service.Deliverer,
	log *coordinator.IngestionLog,
	pending *coordinator.PendingStore,
	rdb *redis.Client,
) *Handler {
	return &Handler{
		logger:     logger.With("component", "http_api"),
		cfg:        cfg,
		deliverer:  deliverer,
		log:        log,
		pending:    pending,
		rdb:        rdb,
		statsCache: expirable.NewLRU[string, model.DistributedStats](1, nil, statsCacheTTL),
	}
}

// notifyRequest is the producer payload for both notify endpoints. Message
// may be any JSON value.
type notifyRequest struct {
	Message any    `json:"message"`
	Type    string `json:"type"`
}

// NotifyStream appends the notification to the shared ingestion log; some
// instance (possibly this one) will pick it up and route it.
func (h *Handler) NotifyStream(w http.ResponseWriter, r *http.Request) {
	userID, req, rawMessage, ok := h.parseNotify(w, r)
	if !ok {
		return
	}

	notificationID := uuid.NewString()
	id, err := h.log.Append(r.Context(), map[string]any{
		"user_id":         userID,
		"message":         string(rawMessage),
		"type":            req.Type,
		"timestamp":       model.Now(),
		"notification_id": notificationID,
	})
	if err != nil {
		h.logger.Error("stream append failed", "user_id", userID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"stream_id":       id,
		"notification_id": notificationID,
	})
}

// NotifyDirect routes the notification immediately: local session, peer
// instance, or the pending store for offline users.
func (h *Handler) NotifyDirect(w http.ResponseWriter, r *http.Request) {
	userID, req, _, ok := h.parseNotify(w, r)
	if !ok {
		return
	}

	n := model.NewNotification(userID, model.NormalizeMessage(req.Message), req.Type, "")
	delivered, method := h.deliverer.SendDistributed(r.Context(), n)

	resp := map[string]any{
		"success":         delivered,
		"delivery_method": method,
		"notification_id": n.NotificationID,
	}
	if !delivered {
		resp["message"] = "user offline, stored as pending"
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseNotify validates the path parameter and enforces the serialized
// message size bound. A payload exactly at the bound passes; one byte above
// is rejected with 413.
func (h *Handler) parseNotify(w http.ResponseWriter, r *http.Request) (string, notifyRequest, []byte, bool) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid user id",
		})
		return "", notifyRequest{}, nil, false
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "malformed request body",
		})
		return "", notifyRequest{}, nil, false
	}

	raw, err := json.Marshal(req.Message)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "unserializable message",
		})
		return "", notifyRequest{}, nil, false
	}
	if len(raw) > h.cfg.MaxMessageSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"success": false,
			"error":   "message exceeds maximum size",
		})
		return "", notifyRequest{}, nil, false
	}

	return userID, req, raw, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
