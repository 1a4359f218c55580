package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/palqo/palqo/services/api/internal/domain"
)

const (
	codeMethodNotAllowed     = "method_not_allowed"
	codeNotFound             = "not_found"
	codeInvalidRequestBody   = "invalid_request_body"
	codeMissingRequiredField = "missing_required_field"
	codeDuplicateRegistrant  = "duplicate_registrant"
	codeEventFull            = "event_full"
	codeTimeout              = "timeout"
	codeDispatchFailed       = "dispatch_failed"
	codeForbidden            = "forbidden"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeServiceError maps a service error to a response. Anything that is not
// a known business error is logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, logger *log.Logger, op string, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, codeMissingRequiredField, "Name and email are required.")
	case errors.Is(err, domain.ErrDuplicateRegistrant):
		writeError(w, http.StatusBadRequest, codeDuplicateRegistrant, "This email is already registered.")
	case errors.Is(err, domain.ErrEventFull):
		writeError(w, http.StatusBadRequest, codeEventFull, "The event is full.")
	case errors.Is(err, domain.ErrTimeout):
		logger.Printf("%s timed out err=%v", op, err)
		writeError(w, http.StatusGatewayTimeout, codeTimeout, "The request timed out. Please try again.")
	default:
		logger.Printf("%s failed err=%v", op, err)
		writeError(w, http.StatusInternalServerError, codeInternalError, "Internal Server Error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
