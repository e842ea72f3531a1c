package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "storage-kit-hub/internal/domain/errors"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{derrors.ErrUserNotFound, http.StatusNotFound},
		{derrors.ErrConflict.WithMessage("dup"), http.StatusConflict},
		{fmt.Errorf("wrapped: %w", derrors.ErrInvalidInput), http.StatusBadRequest},
		{derrors.ErrAPIKeyExpired, http.StatusUnauthorized},
		{derrors.ErrForbidden, http.StatusForbidden},
		{derrors.ErrRateLimited, http.StatusTooManyRequests},
		{derrors.ErrDaemonUnavailable, http.StatusServiceUnavailable},
		{derrors.New("SOMETHING_NEW", "odd", nil), http.StatusInternalServerError},
		{errors.New("sql: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := StatusFor(tc.err)
		assert.Equal(t, tc.want, status, tc.err.Error())
	}

	_, de := StatusFor(errors.New("secret internals"))
	assert.Equal(t, derrors.ErrInternal.Message, de.Message, "internal errors are not leaked")
}

func TestEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(rec, map[string]string{"id": "1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, "1", env.Data["id"])

	rec = httptest.NewRecorder()
	status := Error(rec, derrors.ErrRoleNotFound)
	assert.Equal(t, http.StatusNotFound, status)
	var errEnv Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errEnv))
	assert.False(t, errEnv.Success)
	require.NotNil(t, errEnv.Error)
	assert.Equal(t, "ROLE_NOT_FOUND", errEnv.Error.Code)
}
