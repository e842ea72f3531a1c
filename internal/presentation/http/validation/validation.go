package validation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	derrors "storage-kit-hub/internal/domain/errors"
)

// maxBodyBytes caps request bodies decoded by DecodeJSON.
const maxBodyBytes = 1 << 20

var validate = validator.New()

// Pagination holds parsed limit/offset params.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination parses limit/offset from the query with defaults and bounds.
// Returns the parsed Pagination and a details map for validation errors (if any).
func ParsePagination(q url.Values, defaultLimit, maxLimit int) (Pagination, map[string]interface{}) {
	p := Pagination{Limit: defaultLimit}
	details := map[string]interface{}{}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		} else {
			details["limit"] = "must be a positive integer"
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		} else {
			details["offset"] = "must be a non-negative integer"
		}
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		details["limit"] = map[string]interface{}{"max": maxLimit}
		p.Limit = maxLimit
	}
	return p, details
}

// ParseTime accepts RFC 3339 timestamps; empty means zero.
func ParseTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, derrors.ErrInvalidInput.WithMessage(key + " must be an RFC 3339 timestamp")
	}
	return t, nil
}

// DecodeJSON decodes the request body into dst and validates its struct tags.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return derrors.ErrInvalidInput.WithMessage("request body is required")
		}
		return derrors.ErrInvalidInput.WithMessage("Invalid request body: " + err.Error())
	}
	return Struct(dst)
}

// Struct runs validator tags on v and converts failures to ErrInvalidInput
// with one detail entry per field.
func Struct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return derrors.ErrInvalidInput.WithMessage(err.Error())
	}
	details := make(map[string]interface{}, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fieldName(fe)
		fields = append(fields, name)
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details[name] = rule
	}
	return derrors.ErrInvalidInput.
		WithMessage("invalid fields: " + strings.Join(fields, ", ")).
		WithDetails(details)
}

// fieldName lowercases the struct field so details read like the JSON body.
func fieldName(fe validator.FieldError) string {
	var b strings.Builder
	for i, r := range fe.Field() {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
