package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/logging"
)

// errorBody is the structured error envelope. The kind/code pair is
// stable; no raw stack traces cross this boundary.
type errorBody struct {
	Kind    string                 `json:"kind"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// statusFor maps a domain error category to an HTTP status.
func statusFor(err error) int {
	switch core.GetCategory(err) {
	case core.ErrCatValidation:
		return http.StatusBadRequest
	case core.ErrCatNotFound:
		return http.StatusNotFound
	case core.ErrCatState, core.ErrCatConflict:
		return http.StatusConflict
	case core.ErrCatBudget:
		return http.StatusPaymentRequired
	case core.ErrCatContext, core.ErrCatGraph:
		return http.StatusUnprocessableEntity
	case core.ErrCatCancelled:
		return http.StatusGone
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout
	case core.ErrCatSandbox, core.ErrCatExecution, core.ErrCatHealth:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log *logging.Logger, err error) {
	status := statusFor(err)
	body := errorBody{
		Kind:    string(core.GetCategory(err)),
		Code:    core.GetCode(err),
		Message: err.Error(),
	}
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		body.Message = domErr.Message
		body.Details = domErr.Details
	}
	if status >= 500 {
		log.Error("request failed", "status", status, "error", err.Error())
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
