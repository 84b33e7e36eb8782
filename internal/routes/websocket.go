package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nikhil/eavenchat/internal/handlers"
	"github.com/nikhil/eavenchat/internal/middleware"
)

// RegisterWebSocketRoutes registers the per-room signal stream
func RegisterWebSocketRoutes(router *mux.Router, auth *middleware.Auth, wsHandler *handlers.WebSocketHandler) {
	// token may also come from the query string
	router.Handle("/ws/{room}", auth.WebSocketMiddleware(http.HandlerFunc(wsHandler.HandleWebSocket))).Methods(http.MethodGet)
}
