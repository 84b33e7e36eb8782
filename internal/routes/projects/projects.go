package projectRoutes

import (
	"net/http"

	"github.com/gorilla/mux"

	channelService "github.com/nikhil/eavenchat/internal/service/channels"
)

func ProjectRoutes(router *mux.Router, auth func(http.Handler) http.Handler, channels *channelService.ChannelService) {
	protectedRouter := router.PathPrefix("/projects").Subrouter()
	protectedRouter.Use(auth)
	protectedRouter.HandleFunc("/{id:[0-9]+}/subchannels", channels.ListSubChannels).Methods(http.MethodGet)
}
