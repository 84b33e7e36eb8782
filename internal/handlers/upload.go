package handlers

import (
	"bufio"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/gorilla/mux"

	"github.com/nikhil/eavenchat/internal/blob"
	"github.com/nikhil/eavenchat/internal/logger"
	"github.com/nikhil/eavenchat/internal/middleware"
	"github.com/nikhil/eavenchat/internal/response"
	messageService "github.com/nikhil/eavenchat/internal/service/messages"
)

// multipartOverhead covers headers and boundaries around the file part.
const multipartOverhead = 1 << 20

// BlobHandler uploads attachments into a storage domain and serves them back.
type BlobHandler struct {
	Blobs    *blob.Router
	MaxBytes int64
	Log      *logger.Logger
}

// NewBlobHandler creates a blob handler.
func NewBlobHandler(blobs *blob.Router, maxBytes int64, log *logger.Logger) *BlobHandler {
	return &BlobHandler{Blobs: blobs, MaxBytes: maxBytes, Log: log}
}

// Upload handles POST /uploads?domain=chat|projects with a multipart "file"
// part. The returned attachment is what a draft carries.
func (h *BlobHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		response.WithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	domain := r.URL.Query().Get("domain")
	if domain == "" {
		domain = blob.DomainChat
	}
	store, ok := h.Blobs.Store(domain)
	if !ok {
		response.WithError(w, http.StatusBadRequest, "Unknown storage domain")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		response.WithError(w, http.StatusBadRequest, "Expected multipart form")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			response.WithError(w, http.StatusBadRequest, "Missing file part")
			return
		}
		if err != nil {
			response.WithError(w, http.StatusBadRequest, "Invalid multipart form")
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		name := path.Base(part.FileName())
		if name == "." || name == "/" {
			response.WithError(w, http.StatusBadRequest, "Missing file name")
			return
		}

		body := bufio.NewReader(part)
		mediaType := detectMediaType(part.Header.Get("Content-Type"), body)
		if !messageService.SupportedMediaType(mediaType) {
			response.WithError(w, http.StatusBadRequest, "Unsupported media type")
			return
		}

		limited := &limitedReader{r: body, remaining: h.MaxBytes}
		att, err := store.Put(r.Context(), name, mediaType, limited)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if limited.exceeded || errors.As(err, &tooLarge) {
				response.WithError(w, http.StatusRequestEntityTooLarge, "Attachment too large")
				return
			}
			h.Log.Error("Failed to store upload", "user_id", userID, "domain", domain, "error", err)
			response.WithError(w, http.StatusInternalServerError, "Failed to store attachment")
			return
		}

		h.Log.Info("Attachment uploaded", "user_id", userID, "ref", att.Ref, "size", att.Size)
		response.WithJSON(w, http.StatusCreated, att)
		return
	}
}

// Serve handles GET /blobs/{domain}/{hash}
func (h *BlobHandler) Serve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ref := vars["domain"] + "/" + vars["hash"]

	rc, err := h.Blobs.Open(r.Context(), ref)
	if err != nil {
		response.Error(w, err, h.Log)
		return
	}
	defer rc.Close()

	// content addressed, so the bytes behind a ref never change
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, rc); err != nil {
		h.Log.Warn("Failed to stream blob", "ref", ref, "error", err)
	}
}

func detectMediaType(declared string, body *bufio.Reader) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	head, _ := body.Peek(512)
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	return mt
}

var errTooLarge = errors.New("attachment too large")

// limitedReader fails once more than remaining bytes are read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		l.exceeded = true
		return 0, errTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, errTooLarge
	}
	return n, err
}
