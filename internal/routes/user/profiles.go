package userRoutes

import (
	"net/http"

	"github.com/gorilla/mux"

	unreadService "github.com/nikhil/eavenchat/internal/service/unread"
	profileService "github.com/nikhil/eavenchat/internal/service/users"
)

func UserProfileRoutes(router *mux.Router, auth func(http.Handler) http.Handler, profiles *profileService.ProfileService, unread *unreadService.UnreadService) {
	protectedRouter := router.PathPrefix("/user").Subrouter()
	protectedRouter.Use(auth)
	protectedRouter.HandleFunc("/profile", profiles.GetUserProfile).Methods(http.MethodGet)

	// unread overview across every visible channel
	router.Handle("/unread", auth(http.HandlerFunc(unread.GetAllUnread))).Methods(http.MethodGet)
}
