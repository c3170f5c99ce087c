package httpx

import (
	"errors"
	"net/http"

	"github.com/ken-lyk/qrkeeper/internal/common"
)

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrorUnauthenticated), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrorInvalidCredentials), errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorAccountDisabled):
		return http.StatusLocked
	case errors.Is(err, common.ErrorInvalidPayload):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Internal errors never leak their detail.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer`)
		Problem(w, status, "Unauthorized", err.Error())
	case http.StatusBadRequest:
		if errors.Is(err, common.ErrorInvalidCredentials) {
			Problem(w, status, "invalid_grant", "incorrect email or password")
			return
		}
		Problem(w, status, "Validation Failed", err.Error())
	case http.StatusInternalServerError:
		Problem(w, status, "Internal Error", "")
	default:
		Problem(w, status, http.StatusText(status), err.Error())
	}
}
