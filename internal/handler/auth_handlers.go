package handler

import (
	"net/http"
	"time"

	"storage-kit-hub/internal/presentation/http/response"
	"storage-kit-hub/internal/presentation/http/validation"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	// OTP is required once the user has enabled TOTP.
	OTP string `json:"otp,omitempty"`
	// TTL is a Go duration string such as "8h"; empty uses the default.
	TTL string `json:"ttl,omitempty"`
}

// login exchanges a username and password for a short-lived API key.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			response.Error(w, errInvalid("ttl must be a positive duration"))
			return
		}
		ttl = d
	}
	res, err := h.c.UserUC.Login(r.Context(), req.Username, req.Password, req.OTP, ttl)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, res)
}
