package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"teamchat/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    apperr.Kind `json:"code"`
	Message string      `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

// WriteError renders err as {"error":{"code","message"}}. Errors outside the
// taxonomy are logged and reported without their internals.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperr.KindInternal {
		log.Printf("internal error: %v", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error": errorBody{Code: apperr.KindInternal, Message: "internal server error"},
		})
		return
	}
	WriteJSON(w, apperr.Status(appErr.Kind), map[string]any{
		"error": errorBody{Code: appErr.Kind, Message: appErr.Message},
	})
}

// DecodeJSON decodes a bounded request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// IDParam parses a positive integer chi URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s %q", name, raw)
	}
	return id, nil
}
