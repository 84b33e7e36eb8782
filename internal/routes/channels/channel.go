package channelRoutes

import (
	"net/http"

	"github.com/gorilla/mux"

	channelService "github.com/nikhil/eavenchat/internal/service/channels"
	messageService "github.com/nikhil/eavenchat/internal/service/messages"
	unreadService "github.com/nikhil/eavenchat/internal/service/unread"
)

// Channel paths name a conversation by kind and scope; project channels add a
// sub-channel. For direct channels the scope is the other participant.
const (
	scopePath = "/{kind:direct|group|project}/{scope:[0-9]+}"
	subPath   = scopePath + "/{sub:client|team|professional_engineer}"
)

func ChannelRoutes(router *mux.Router, auth func(http.Handler) http.Handler, channels *channelService.ChannelService, messages *messageService.MessageService, unread *unreadService.UnreadService) {
	protectedRouter := router.PathPrefix("/channels").Subrouter()
	protectedRouter.Use(auth)

	for _, base := range []string{scopePath, subPath} {
		protectedRouter.HandleFunc(base, channels.GetChannel).Methods(http.MethodGet)
		protectedRouter.HandleFunc(base+"/messages", messages.GetMessages).Methods(http.MethodGet)
		protectedRouter.HandleFunc(base+"/messages", messages.SendMessage).Methods(http.MethodPost)
		protectedRouter.HandleFunc(base+"/read", unread.MarkChannelRead).Methods(http.MethodPost)
	}
	protectedRouter.HandleFunc(scopePath+"/unread", unread.GetScopeUnread).Methods(http.MethodGet)
}

func MessageRoutes(router *mux.Router, auth func(http.Handler) http.Handler, messages *messageService.MessageService) {
	protectedRouter := router.PathPrefix("/messages").Subrouter()
	protectedRouter.Use(auth)

	protectedRouter.HandleFunc("/{id:[0-9]+}", messages.GetMessage).Methods(http.MethodGet)
	protectedRouter.HandleFunc("/{id:[0-9]+}/edit", messages.EditMessage).Methods(http.MethodPost)
	protectedRouter.HandleFunc("/{id:[0-9]+}/delete", messages.DeleteMessage).Methods(http.MethodPost)
}
