package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/middleware"
	"github.com/nikhil/eavenchat/internal/models"
	"github.com/nikhil/eavenchat/internal/realtime"
	"github.com/nikhil/eavenchat/internal/response"
	channelService "github.com/nikhil/eavenchat/internal/service/channels"
)

// WebSocketHandler attaches authorized viewers to room signals
type WebSocketHandler struct {
	Hub      *realtime.Hub
	Resolver *channelService.Resolver
	Log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. checkOrigin may be nil
// to accept every origin, which is only suitable for development.
func NewWebSocketHandler(hub *realtime.Hub, resolver *channelService.Resolver, log *logger.Logger, checkOrigin func(*http.Request) bool) *WebSocketHandler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WebSocketHandler{
		Hub:      hub,
		Resolver: resolver,
		Log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// HandleWebSocket handles GET /ws/{room}
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	room := mux.Vars(r)["room"]
	ch, ok := models.ParseRoom(room)
	if !ok {
		response.WithError(w, http.StatusNotFound, "Unknown room")
		return
	}
	if err := h.Resolver.Authorize(r.Context(), userID, ch); err != nil {
		response.Error(w, err, h.Log)
		return
	}

	log := h.Log.WithUser(userID).WithRoom(room)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Error upgrading connection", "error", err)
		return
	}

	client := &realtime.Client{
		Conn:   conn,
		Sub:    h.Hub.Subscribe(room),
		UserID: userID,
		Log:    log,
	}
	log.Debug("Viewer subscribed")
	go client.Serve()
}
