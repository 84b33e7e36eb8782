package shareRoutes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nikhil/eavenchat/internal/handlers"
	shareService "github.com/nikhil/eavenchat/internal/service/share"
)

func ShareRoutes(router *mux.Router, auth func(http.Handler) http.Handler, share *shareService.ShareService) {
	router.Handle("/share", auth(http.HandlerFunc(share.ShareMessages))).Methods(http.MethodPost)
}

// BlobRoutes registers attachment upload and download.
func BlobRoutes(router *mux.Router, auth func(http.Handler) http.Handler, blobs *handlers.BlobHandler) {
	router.Handle("/uploads", auth(http.HandlerFunc(blobs.Upload))).Methods(http.MethodPost)
	router.Handle("/blobs/{domain:chat|projects}/{hash:[0-9a-f]{64}}", auth(http.HandlerFunc(blobs.Serve))).Methods(http.MethodGet)
}
