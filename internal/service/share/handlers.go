package shareService

import (
	"net/http"

	"github.com/nikhil/eavenchat/internal/middleware"
	"github.com/nikhil/eavenchat/internal/response"
)

// ShareResponse lists every per-destination outcome.
type ShareResponse struct {
	Results   []ShareResult `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// ShareMessages handles POST /share. Partial failures still answer 200; the
// caller reads each result.
func (ss *ShareService) ShareMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	var req ShareRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, err, ss.Log)
		return
	}

	results, err := ss.Share(r.Context(), userID, req)
	if err != nil {
		response.Error(w, err, ss.Log)
		return
	}

	resp := ShareResponse{Results: results}
	for _, res := range results {
		if res.OK() {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	response.WithJSON(w, http.StatusOK, resp)
}
