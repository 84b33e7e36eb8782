package messageService

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nikhil/eavenchat/internal/middleware"
	"github.com/nikhil/eavenchat/internal/models"
	"github.com/nikhil/eavenchat/internal/response"
	channelService "github.com/nikhil/eavenchat/internal/service/channels"
)

// SendMessage handles POST /channels/{kind}/{scope}[/{sub}]/messages
func (ms *MessageService) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	ref, err := channelService.RefFromRequest(r)
	if err != nil {
		response.Error(w, err, ms.Log)
		return
	}

	var draft models.Draft
	if err := response.Decode(r, &draft); err != nil {
		response.Error(w, err, ms.Log)
		return
	}

	msg, err := ms.Send(r.Context(), userID, ref, draft)
	if err != nil {
		response.Error(w, err, ms.Log)
		return
	}
	response.WithJSON(w, http.StatusCreated, msg)
}

// GetMessages handles GET /channels/{kind}/{scope}[/{sub}]/messages
func (ms *MessageService) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	ref, err := channelService.RefFromRequest(r)
	if err != nil {
		response.Error(w, err, ms.Log)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.WithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
	}

	page, err := ms.List(r.Context(), userID, ref, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		response.Error(w, err, ms.Log)
		return
	}
	response.WithJSON(w, http.StatusOK, page)
}

// GetMessage handles GET /messages/{id}
func (ms *MessageService) GetMessage(w http.ResponseWriter, r *http.Request) {
	userID, messageID, ok := ms.messageTarget(w, r)
	if !ok {
		return
	}
	msg, err := ms.Get(r.Context(), userID, messageID)
	if err != nil {
		response.Error(w, err, ms.Log)
		return
	}
	response.WithJSON(w, http.StatusOK, msg)
}

// EditMessage handles POST /messages/{id}/edit
func (ms *MessageService) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, messageID, ok := ms.messageTarget(w, r)
	if !ok {
		return
	}
	var req models.EditRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, err, ms.Log)
		return
	}
	msg, err := ms.Edit(r.Context(), userID, messageID, req)
	if err != nil {
		response.Error(w, err, ms.Log)
		return
	}
	response.WithJSON(w, http.StatusOK, msg)
}

// DeleteMessage handles POST /messages/{id}/delete
func (ms *MessageService) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, messageID, ok := ms.messageTarget(w, r)
	if !ok {
		return
	}
	var req models.DeleteRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, err, ms.Log)
		return
	}
	msg, err := ms.Delete(r.Context(), userID, messageID, req.Scope)
	if err != nil {
		response.Error(w, err, ms.Log)
		return
	}
	response.WithJSON(w, http.StatusOK, msg)
}

func (ms *MessageService) messageTarget(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return 0, 0, false
	}
	messageID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || messageID <= 0 {
		response.WithError(w, http.StatusBadRequest, "Invalid message ID")
		return 0, 0, false
	}
	return userID, messageID, true
}
