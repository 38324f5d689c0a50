package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
	"github.com/pulsegrid/notify-delivery-service/internal/service"
)

// closeInvalidUser is the close code clients receive for an empty user id.
const closeInvalidUser = 4000

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer) *WSHandler {
	return &WSHandler{
		logger:    logger.With("component", "ws_handler"),
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}

	if userID == "" {
		h.reject(conn)
		return
	}

	session, err := h.deliverer.Connect(r.Context(), conn, userID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidUser) {
			h.reject(conn)
			return
		}
		h.logger.Error("ws connect failed", "user_id", userID, "error", err)
		_ = conn.Close()
		return
	}
	defer h.deliverer.Unsubscribe(session)

	h.logger.Info("ws opened", "user_id", userID)

	// Client read pump. The session's own pump handles all writes; here we
	// only refresh activity and answer pings.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("ws closed", "user_id", userID, "reason", err)
			return
		}
		session.Touch()

		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue // free-form client frames only refresh activity
		}
		if frame.Type == "ping" {
			pong, err := json.Marshal(model.NewPong(h.deliverer.InstanceID()))
			if err != nil {
				continue
			}
			session.Send(pong, time.Second)
		}
	}
}

func (h *WSHandler) reject(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(closeInvalidUser, "Invalid user_id")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
