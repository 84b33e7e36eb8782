package unreadService

import (
	"net/http"

	"github.com/nikhil/eavenchat/internal/middleware"
	"github.com/nikhil/eavenchat/internal/response"
	channelService "github.com/nikhil/eavenchat/internal/service/channels"
)

// GetScopeUnread handles GET /channels/{kind}/{scope}/unread
func (us *UnreadService) GetScopeUnread(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	ref, err := channelService.RefFromRequest(r)
	if err != nil {
		response.Error(w, err, us.Log)
		return
	}

	counts, err := us.ScopeCounts(r.Context(), userID, ref.Kind, ref.ScopeID)
	if err != nil {
		response.Error(w, err, us.Log)
		return
	}
	response.WithJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

// GetAllUnread handles GET /unread
func (us *UnreadService) GetAllUnread(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	counts, err := us.Counts(r.Context(), userID)
	if err != nil {
		response.Error(w, err, us.Log)
		return
	}
	response.WithJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

// MarkChannelRead handles POST /channels/{kind}/{scope}[/{sub}]/read
func (us *UnreadService) MarkChannelRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	ref, err := channelService.RefFromRequest(r)
	if err != nil {
		response.Error(w, err, us.Log)
		return
	}

	marker, err := us.MarkReadRef(r.Context(), userID, ref)
	if err != nil {
		response.Error(w, err, us.Log)
		return
	}
	response.WithJSON(w, http.StatusOK, marker)
}
