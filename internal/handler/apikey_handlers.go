package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"storage-kit-hub/internal/apikey"
	"storage-kit-hub/internal/application/usecases"
	"storage-kit-hub/internal/auth"
	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/presentation/http/response"
	"storage-kit-hub/internal/presentation/http/validation"
)

type createKeyRequest struct {
	Name        string     `json:"name" validate:"required,max=128"`
	Description string     `json:"description,omitempty" validate:"max=512"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Role        string     `json:"role,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
	Backends    []string   `json:"backends,omitempty"`
	RateLimit   int        `json:"rate_limit" validate:"min=0"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type updateKeyRequest struct {
	Name        *string    `json:"name,omitempty" validate:"omitempty,max=128"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=512"`
	Scopes      *[]string  `json:"scopes,omitempty"`
	Backends    *[]string  `json:"backends,omitempty"`
	RateLimit   *int       `json:"rate_limit,omitempty" validate:"omitempty,min=0"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	NeverExpire bool       `json:"never_expire,omitempty"`
}

// keyAccess loads a key and makes sure the caller is an admin or its owner.
func (h *Handler) keyAccess(w http.ResponseWriter, r *http.Request) (*entities.APIKey, bool) {
	k, err := h.c.APIKeyUC.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, err)
		return nil, false
	}
	admin, err := h.isAdmin(r)
	if err != nil {
		response.Error(w, err)
		return nil, false
	}
	if admin {
		return k, true
	}
	p := auth.FromContext(r.Context())
	if p == nil || p.OwnerID == "" || p.OwnerID != k.OwnerID {
		// hide keys the caller does not own
		response.Error(w, derrors.ErrAPIKeyNotFound)
		return nil, false
	}
	return k, true
}

// withinGrant rejects scopes or backends a non-admin caller does not hold
// itself. A nil slice means the field is not being set.
func withinGrant(p *auth.Principal, scopes, backends []string) error {
	for _, s := range scopes {
		if !apikey.HasScope(p.Scopes, s) {
			return derrors.ErrInsufficientAuth.WithMessage("cannot grant scope " + s + " beyond the calling key")
		}
	}
	if len(p.Backends) == 0 || containsString(p.Backends, authz.Wildcard) || backends == nil {
		return nil
	}
	if len(backends) == 0 {
		return derrors.ErrInsufficientAuth.WithMessage("cannot lift the calling key's backend restriction")
	}
	for _, b := range backends {
		if !containsString(p.Backends, b) {
			return derrors.ErrInsufficientAuth.WithMessage("cannot grant backend " + b + " beyond the calling key")
		}
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (h *Handler) createKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	admin, err := h.isAdmin(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	in := usecases.CreateAPIKeyInput{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     req.OwnerID,
		Role:        req.Role,
		Scopes:      req.Scopes,
		Backends:    req.Backends,
		RateLimit:   req.RateLimit,
		ExpiresAt:   req.ExpiresAt,
	}
	if !admin {
		p := auth.FromContext(r.Context())
		if p.OwnerID == "" {
			response.Error(w, derrors.ErrInsufficientAuth.WithMessage("only admins or user-owned keys may create keys"))
			return
		}
		if in.Role != "" && in.Role != p.Role {
			response.Error(w, derrors.ErrInsufficientAuth.WithMessage("cannot create a key with a different role"))
			return
		}
		in.OwnerID = p.OwnerID
		in.Role = p.Role
		// inherit the caller's narrowing when nothing narrower is asked for
		if len(in.Scopes) == 0 {
			in.Scopes = append([]string(nil), p.Scopes...)
		}
		if len(in.Backends) == 0 && len(p.Backends) > 0 {
			in.Backends = append([]string(nil), p.Backends...)
		}
		if err := withinGrant(p, in.Scopes, in.Backends); err != nil {
			response.Error(w, err)
			return
		}
	}
	if in.Role == "" {
		in.Role = authz.RoleUser
	}
	k, err := h.c.APIKeyUC.Create(r.Context(), in)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, k)
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := entities.APIKeyFilter{
		OwnerID: q.Get("owner_id"),
		Role:    q.Get("role"),
		Status:  q.Get("status"),
	}
	admin, err := h.isAdmin(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	if !admin {
		p := auth.FromContext(r.Context())
		if p.OwnerID == "" {
			response.OK(w, []entities.APIKey{})
			return
		}
		filter.OwnerID = p.OwnerID
	}
	keys, err := h.c.APIKeyUC.List(r.Context(), filter)
	if err != nil {
		response.Error(w, err)
		return
	}
	if keys == nil {
		keys = []entities.APIKey{}
	}
	response.OK(w, keys)
}

func (h *Handler) getKey(w http.ResponseWriter, r *http.Request) {
	if k, ok := h.keyAccess(w, r); ok {
		response.OK(w, k)
	}
}

func (h *Handler) updateKey(w http.ResponseWriter, r *http.Request) {
	k, ok := h.keyAccess(w, r)
	if !ok {
		return
	}
	var req updateKeyRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	admin, err := h.isAdmin(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	if !admin {
		var scopes, backends []string
		if req.Scopes != nil {
			scopes = *req.Scopes
		}
		if req.Backends != nil {
			backends = append([]string{}, *req.Backends...)
		}
		if err := withinGrant(auth.FromContext(r.Context()), scopes, backends); err != nil {
			response.Error(w, err)
			return
		}
	}
	updated, err := h.c.APIKeyUC.Update(r.Context(), k.ID, usecases.APIKeyUpdatePatch{
		Name:         req.Name,
		Description:  req.Description,
		Scopes:       req.Scopes,
		Backends:     req.Backends,
		RateLimit:    req.RateLimit,
		ExpiresAt:    req.ExpiresAt,
		ClearExpires: req.NeverExpire,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, updated)
}

func (h *Handler) deleteKey(w http.ResponseWriter, r *http.Request) {
	k, ok := h.keyAccess(w, r)
	if !ok {
		return
	}
	if err := h.c.APIKeyUC.Delete(r.Context(), k.ID); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"id": k.ID, "status": "deleted"})
}

func (h *Handler) revokeKey(w http.ResponseWriter, r *http.Request) {
	k, ok := h.keyAccess(w, r)
	if !ok {
		return
	}
	if err := h.c.APIKeyUC.Revoke(r.Context(), k.ID); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"id": k.ID, "status": entities.APIKeyStatusRevoked})
}

// activateKey is admin-only so an owner cannot undo an admin's revocation.
func (h *Handler) activateKey(w http.ResponseWriter, r *http.Request) {
	k, ok := h.keyAccess(w, r)
	if !ok {
		return
	}
	admin, err := h.isAdmin(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	if !admin {
		response.Error(w, derrors.ErrInsufficientAuth.WithMessage("only admins may reactivate API keys"))
		return
	}
	if err := h.c.APIKeyUC.Activate(r.Context(), k.ID); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"id": k.ID, "status": entities.APIKeyStatusActive})
}

func (h *Handler) rotateKey(w http.ResponseWriter, r *http.Request) {
	k, ok := h.keyAccess(w, r)
	if !ok {
		return
	}
	rotated, err := h.c.APIKeyUC.Rotate(r.Context(), k.ID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, rotated)
}

func (h *Handler) keyUsage(w http.ResponseWriter, r *http.Request) {
	k, ok := h.keyAccess(w, r)
	if !ok {
		return
	}
	since, err := validation.ParseTime(r.URL.Query(), "since")
	if err != nil {
		response.Error(w, err)
		return
	}
	stats, err := h.c.APIKeyUC.UsageStats(r.Context(), k.ID, since)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, stats)
}
