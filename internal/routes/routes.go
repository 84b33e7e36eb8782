package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nikhil/eavenchat/internal/handlers"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/middleware"
	channelRoutes "github.com/nikhil/eavenchat/internal/routes/channels"
	projectRoutes "github.com/nikhil/eavenchat/internal/routes/projects"
	shareRoutes "github.com/nikhil/eavenchat/internal/routes/share"
	userRoutes "github.com/nikhil/eavenchat/internal/routes/user"
	channelService "github.com/nikhil/eavenchat/internal/service/channels"
	messageService "github.com/nikhil/eavenchat/internal/service/messages"
	shareService "github.com/nikhil/eavenchat/internal/service/share"
	unreadService "github.com/nikhil/eavenchat/internal/service/unread"
	profileService "github.com/nikhil/eavenchat/internal/service/users"
)

// Services is everything the router dispatches to.
type Services struct {
	Auth      *middleware.Auth
	Log       *logger.Logger
	Channels  *channelService.ChannelService
	Messages  *messageService.MessageService
	Unread    *unreadService.UnreadService
	Share     *shareService.ShareService
	Profiles  *profileService.ProfileService
	Blobs     *handlers.BlobHandler
	WebSocket *handlers.WebSocketHandler
}

// Register all routes dynamically
func RegisterAllRoutes(s Services) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(s.Log))

	protected := func(next http.Handler) http.Handler {
		return s.Auth.Middleware(middleware.ResponseWrapperMiddleware(next))
	}

	// List of all route registration functions
	routeModules := []func(*mux.Router){
		func(r *mux.Router) { channelRoutes.ChannelRoutes(r, protected, s.Channels, s.Messages, s.Unread) },
		func(r *mux.Router) { channelRoutes.MessageRoutes(r, protected, s.Messages) },
		func(r *mux.Router) { projectRoutes.ProjectRoutes(r, protected, s.Channels) },
		func(r *mux.Router) { userRoutes.UserProfileRoutes(r, protected, s.Profiles, s.Unread) },
		func(r *mux.Router) { shareRoutes.ShareRoutes(r, protected, s.Share) },
		func(r *mux.Router) { shareRoutes.BlobRoutes(r, s.Auth.Middleware, s.Blobs) },
		func(r *mux.Router) { RegisterWebSocketRoutes(r, s.Auth, s.WebSocket) },
	}
	for _, register := range routeModules {
		register(router)
	}

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	return router
}
