package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/templui/tracker/internal/journal"
	"github.com/templui/tracker/internal/markdown"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/repository"
	"github.com/templui/tracker/internal/service"
)

const maxJSONBody = 1 << 20

type errorBody struct {
	Error string           `json:"error"`
	Code  service.AuthCode `json:"code,omitempty"`
}

var authStatus = map[service.AuthCode]int{
	service.CodeNotFound:           http.StatusUnauthorized,
	service.CodeWrongCredential:    http.StatusUnauthorized,
	service.CodeAlreadyExists:      http.StatusConflict,
	service.CodeWeakCredential:     http.StatusBadRequest,
	service.CodeInvalidEmail:       http.StatusBadRequest,
	service.CodeRateLimited:        http.StatusTooManyRequests,
	service.CodeNetworkFailure:     http.StatusBadGateway,
	service.CodeDisabledAccount:    http.StatusForbidden,
	service.CodeRequiresRecentAuth: http.StatusUnauthorized,
	service.CodePopupCancelled:     http.StatusBadRequest,
	service.CodeDomainUnauthorized: http.StatusForbidden,
	service.CodeMethodDisabled:     http.StatusForbidden,
	service.CodeUnauthenticated:    http.StatusUnauthorized,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// writeError answers with one readable JSON error. Unknown failures are
// logged and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if code, ok := service.CodeOf(err); ok {
		status, found := authStatus[code]
		if !found {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorBody{Error: service.Message(code), Code: code})
		return
	}

	var validationErr *model.ValidationError
	var opErr *journal.OpError
	switch {
	case errors.As(err, &validationErr), errors.Is(err, markdown.ErrNoTitle), errors.Is(err, service.ErrInvalidDataURL):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, journal.ErrNotBound):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: service.CodeUnauthenticated})
	case errors.Is(err, journal.ErrRecordNotFound), errors.Is(err, repository.ErrCategoryNotFound), errors.Is(err, service.ErrUnknownTemplate):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, service.ErrBuiltInCategory):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.As(err, &opErr):
		slog.Error("record operation failed", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: service.Message("")})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}
