package storage

import (
	"context"
	"io"
	"net/http"
	"strings"

	"teamchat/internal/apperr"
	"teamchat/internal/httpx"
	myMiddleware "teamchat/internal/middleware"
)

// Blobs is the subset of ObjectStore the rest of the service depends on.
type Blobs interface {
	Store(ctx context.Context, prefix string, ownerID int64, data []byte, mimeType string) (string, error)
	Delete(ctx context.Context, url string) error
}

// ReadUpload reads the multipart field "file" of r and sniffs its type
// when the client did not send one.
func ReadUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxObjectBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", apperr.Validation("missing file: %v", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxObjectBytes+1))
	if err != nil {
		return nil, "", apperr.Validation("read file: %v", err)
	}
	mimeType := header.Header.Get("Content-Type")
	if _, ok := extensions[mimeType]; !ok {
		mimeType, _, _ = strings.Cut(http.DetectContentType(data), ";")
	}
	return data, mimeType, nil
}

type Handler struct {
	blobs Blobs
}

func NewHandler(blobs Blobs) *Handler {
	return &Handler{blobs: blobs}
}

// Upload stores a message attachment and returns its URL.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, err := myMiddleware.CurrentPrincipal(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	data, mimeType, err := ReadUpload(w, r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	url, err := h.blobs.Store(r.Context(), PrefixAttachments, userID, data, mimeType)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"url": url})
}
