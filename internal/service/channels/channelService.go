package channelService

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/middleware"
	"github.com/nikhil/eavenchat/internal/models"
	"github.com/nikhil/eavenchat/internal/response"
)

// ChannelService exposes channel resolution over HTTP
type ChannelService struct {
	Resolver *Resolver
	Log      *logger.Logger
}

// ChannelResponse describes a resolved channel
type ChannelResponse struct {
	Channel models.Channel `json:"channel"`
	Room    string         `json:"room"`
}

// NewChannelService initializes a new channel service
func NewChannelService(resolver *Resolver, log *logger.Logger) *ChannelService {
	return &ChannelService{Resolver: resolver, Log: log}
}

// GetChannel resolves /channels/{kind}/{scope}[/{sub}] for the caller
func (cs *ChannelService) GetChannel(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	ref, err := RefFromRequest(r)
	if err != nil {
		response.Error(w, err, cs.Log)
		return
	}

	ch, err := cs.Resolver.Resolve(r.Context(), userID, ref)
	if err != nil {
		response.Error(w, err, cs.Log)
		return
	}
	response.WithJSON(w, http.StatusOK, ChannelResponse{Channel: ch, Room: ch.RoomName()})
}

// ListSubChannels returns the project sub-channels visible to the caller.
// The preferred query parameter only orders the list.
func (cs *ChannelService) ListSubChannels(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	projectID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || projectID <= 0 {
		response.WithError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}
	preferred := models.SubChannel(r.URL.Query().Get("preferred"))
	if preferred != models.SubChannelNone && !preferred.Valid() {
		response.WithError(w, http.StatusBadRequest, "Invalid preferred sub-channel")
		return
	}

	options, err := cs.Resolver.SubChannels(r.Context(), userID, projectID, preferred)
	if err != nil {
		response.Error(w, err, cs.Log)
		return
	}
	response.WithJSON(w, http.StatusOK, map[string]interface{}{"sub_channels": options})
}

// RefFromRequest reads the kind, scope and sub route variables. For direct
// channels the scope is the other participant.
func RefFromRequest(r *http.Request) (models.ChannelRef, error) {
	vars := mux.Vars(r)
	scope, err := strconv.ParseInt(vars["scope"], 10, 64)
	if err != nil || scope <= 0 {
		return models.ChannelRef{}, chaterr.Validation("invalid channel scope")
	}
	return models.ChannelRef{
		Kind:       models.ChannelKind(vars["kind"]),
		ScopeID:    scope,
		SubChannel: models.SubChannel(vars["sub"]),
	}, nil
}
