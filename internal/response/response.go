package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/logger"
)

// WithError writes {"error": message}.
func WithError(w http.ResponseWriter, code int, message string) {
	WithJSON(w, code, map[string]string{"error": message})
}

// WithJSON writes payload with the given status.
func WithJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(err error) int {
	switch chaterr.KindOf(err) {
	case chaterr.KindAuthorization, chaterr.KindPermission:
		return http.StatusForbidden
	case chaterr.KindValidation:
		return http.StatusBadRequest
	case chaterr.KindNotFound:
		return http.StatusNotFound
	case chaterr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err using its kind. Internal details never reach the client.
func Error(w http.ResponseWriter, err error, log *logger.Logger) {
	kind := chaterr.KindOf(err)
	code := StatusFor(err)
	message := http.StatusText(code)

	switch {
	case kind == chaterr.KindTransient:
		log.Warn("Request failed", "error", err)
		message = "temporarily unavailable, retry"
	case code >= http.StatusInternalServerError:
		log.Error("Request failed", "error", err)
		message = "internal error"
	default:
		var ce *chaterr.Error
		if errors.As(err, &ce) && ce.Message != "" {
			message = ce.Message
		}
	}
	WithJSON(w, code, ErrorBody{Error: message, Kind: kind.String()})
}

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Decode reads a JSON body into dst, rejecting unknown fields.
func Decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return chaterr.Validation("invalid request payload")
	}
	return nil
}
