// Package response writes the JSON envelope shared by every endpoint.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	derrors "storage-kit-hub/internal/domain/errors"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool                 `json:"success"`
	Data    interface{}          `json:"data,omitempty"`
	Error   *derrors.DomainError `json:"error,omitempty"`
}

var statusByCode = map[string]int{
	derrors.ErrNotFound.Code:          http.StatusNotFound,
	derrors.ErrAPIKeyNotFound.Code:    http.StatusNotFound,
	derrors.ErrUserNotFound.Code:      http.StatusNotFound,
	derrors.ErrRoleNotFound.Code:      http.StatusNotFound,
	derrors.ErrBackendNotFound.Code:   http.StatusNotFound,
	derrors.ErrConflict.Code:          http.StatusConflict,
	derrors.ErrInvalidInput.Code:      http.StatusBadRequest,
	derrors.ErrUnauthorized.Code:      http.StatusUnauthorized,
	derrors.ErrInvalidAPIKey.Code:     http.StatusUnauthorized,
	derrors.ErrAPIKeyRevoked.Code:     http.StatusUnauthorized,
	derrors.ErrAPIKeyExpired.Code:     http.StatusUnauthorized,
	derrors.ErrInsufficientAuth.Code:  http.StatusForbidden,
	derrors.ErrForbidden.Code:         http.StatusForbidden,
	derrors.ErrRateLimited.Code:       http.StatusTooManyRequests,
	derrors.ErrDaemonUnavailable.Code: http.StatusServiceUnavailable,
	derrors.ErrInternal.Code:          http.StatusInternalServerError,
}

// StatusFor maps err to an HTTP status and the DomainError sent to the client.
// Errors that are not DomainErrors become a generic 500.
func StatusFor(err error) (int, derrors.DomainError) {
	var de derrors.DomainError
	if errors.As(err, &de) {
		if status, ok := statusByCode[de.Code]; ok {
			return status, de
		}
	}
	return http.StatusInternalServerError, derrors.ErrInternal
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	write(w, status, Envelope{Success: status < 400, Data: data})
}

func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Error writes err with the status StatusFor picks and returns that status.
func Error(w http.ResponseWriter, err error) int {
	status, de := StatusFor(err)
	write(w, status, Envelope{Error: &de})
	return status
}

func write(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
