package validation

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	derrors "storage-kit-hub/internal/domain/errors"
)

func TestParsePagination(t *testing.T) {
	p, details := ParsePagination(url.Values{}, 50, 500)
	assert.Equal(t, Pagination{Limit: 50}, p)
	assert.Empty(t, details)

	p, details = ParsePagination(url.Values{"limit": {"10"}, "offset": {"20"}}, 50, 500)
	assert.Equal(t, Pagination{Limit: 10, Offset: 20}, p)
	assert.Empty(t, details)

	p, details = ParsePagination(url.Values{"limit": {"9999"}}, 50, 500)
	assert.Equal(t, 500, p.Limit)
	assert.Contains(t, details, "limit")

	_, details = ParsePagination(url.Values{"limit": {"-1"}, "offset": {"x"}}, 50, 500)
	assert.Contains(t, details, "limit")
	assert.Contains(t, details, "offset")
}

func TestParseTime(t *testing.T) {
	ts, err := ParseTime(url.Values{"since": {"2024-05-01T10:00:00Z"}}, "since")
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())

	ts, err = ParseTime(url.Values{}, "since")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	_, err = ParseTime(url.Values{"since": {"yesterday"}}, "since")
	assert.True(t, errors.Is(err, derrors.ErrInvalidInput))
}

type createReq struct {
	Name      string `json:"name" validate:"required,max=64"`
	RateLimit int    `json:"rate_limit" validate:"min=0"`
}

func TestDecodeJSON(t *testing.T) {
	var req createReq
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"ci","rate_limit":5}`))
	require.NoError(t, DecodeJSON(r, &req))
	assert.Equal(t, "ci", req.Name)

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"rate_limit":-1}`))
	err := DecodeJSON(r, &req)
	require.Error(t, err)
	var de derrors.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "INVALID_INPUT", de.Code)
	assert.Equal(t, "min=0", de.Details["rate_limit"])

	r = httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"x","bogus":1}`))
	assert.True(t, errors.Is(DecodeJSON(r, &createReq{}), derrors.ErrInvalidInput))

	r = httptest.NewRequest("POST", "/", strings.NewReader(``))
	assert.True(t, errors.Is(DecodeJSON(r, &createReq{}), derrors.ErrInvalidInput))
}
