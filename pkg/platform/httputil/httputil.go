// Package httputil centralizes domain error translation to HTTP responses so
// every handler emits the same JSON error envelope.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "onboarding-gateway/pkg/domain-errors"
)

// WriteJSON encodes v with the given status. Encoding failures are ignored;
// by the time encoding fails the status line has already been written.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded domain error onto an HTTP status and JSON body.
// Internal errors are surfaced opaquely: no description leaks to the caller.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := statusFor(code)

	body := map[string]string{"error": publicCode(code)}
	if code != dErrors.CodeInternal {
		body["error_description"] = messageOf(err)
	}
	WriteJSON(w, status, body)
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeInvariantViolation, dErrors.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func publicCode(code dErrors.Code) string {
	if code == dErrors.CodeInternal || code == dErrors.CodeInvariantViolation {
		return "internal_error"
	}
	return string(code)
}

func messageOf(err error) string {
	var de *dErrors.DomainError
	if dErrors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
