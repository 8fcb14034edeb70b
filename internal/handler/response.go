package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/fault"
	"github.com/xenking/storefront-fulfillment/pkg/httpmiddleware"
)

type problem struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, problem{
		Error:     code,
		Message:   message,
		RequestID: httpmiddleware.RequestIDFromContext(r.Context()),
	})
}

// writeError maps a domain error kind to its status. Unknown errors are
// logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, fault.ErrValidation):
		status, code = http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, fault.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, fault.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, fault.ErrGateway):
		zctx.From(r.Context()).Warn("Payment gateway failure", zap.Error(err))
		status, code = http.StatusBadGateway, "gateway_unavailable"
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeProblem(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeProblem(w, r, status, code, fault.Reason(err))
}

// decode reads a JSON body of at most h.maxBody bytes into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		msg := "malformed JSON body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			msg = "request body required"
		}
		writeProblem(w, r, http.StatusBadRequest, "invalid_request", msg)
		return false
	}
	return true
}

// pathID parses a positive integer path parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, r, http.StatusBadRequest, "invalid_request", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
