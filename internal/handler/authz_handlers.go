package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"storage-kit-hub/internal/auth"
	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/logger"
	"storage-kit-hub/internal/middleware"
	"storage-kit-hub/internal/presentation/http/response"
	"storage-kit-hub/internal/presentation/http/validation"
)

type createRoleRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty" validate:"max=256"`
}

type permissionRequest struct {
	Backend string `json:"backend" validate:"required"`
	Action  string `json:"action" validate:"required"`
}

type checkRequest struct {
	Role    string `json:"role,omitempty"`
	Subject string `json:"subject,omitempty"`
	Backend string `json:"backend" validate:"required"`
	Action  string `json:"action" validate:"required"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.c.Authorizer.Roles(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	if roles == nil {
		roles = []entities.Role{}
	}
	response.OK(w, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	role, err := h.c.Authorizer.CreateRole(r.Context(), actor(r.Context()), req.Name, req.Description)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["role"]
	if err := h.c.Authorizer.DeleteRole(r.Context(), actor(r.Context()), name); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"role": name, "status": "deleted"})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.c.Authorizer.Permissions(r.Context(), mux.Vars(r)["role"])
	if err != nil {
		response.Error(w, err)
		return
	}
	if perms == nil {
		perms = []entities.BackendPermission{}
	}
	response.OK(w, perms)
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	h.changePermission(w, r, h.c.Authorizer.Grant)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	h.changePermission(w, r, h.c.Authorizer.Revoke)
}

func (h *Handler) changePermission(w http.ResponseWriter, r *http.Request,
	apply func(ctx context.Context, actor, role, backend, action string) error) {
	var req permissionRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	role := mux.Vars(r)["role"]
	if err := apply(r.Context(), actor(r.Context()), role, req.Backend, req.Action); err != nil {
		response.Error(w, err)
		return
	}
	h.listPermissions(w, r)
}

// checkPermission answers a question about an arbitrary role or user.
func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.Role == "" && req.Subject == "" {
		response.Error(w, errInvalid("role or subject is required"))
		return
	}
	d, err := h.c.Authorizer.Check(r.Context(), authz.Request{
		Subject:   req.Subject,
		Role:      req.Role,
		Backend:   req.Backend,
		Action:    req.Action,
		IP:        middleware.ClientIP(r),
		RequestID: logger.RequestIDFrom(r.Context()),
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, d)
}

// checkOwnPermission lets any caller ask what its own key may do.
func (h *Handler) checkOwnPermission(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	if p == nil {
		response.Error(w, derrors.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	d, err := h.c.Authorizer.Check(r.Context(), authz.Request{
		Subject:   p.Actor(),
		Role:      p.Role,
		Backend:   q.Get("backend"),
		Action:    q.Get("action"),
		KeyID:     p.KeyID,
		IP:        middleware.ClientIP(r),
		RequestID: logger.RequestIDFrom(r.Context()),
		Scopes:    p.Scopes,
		Backends:  p.Backends,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"role":     p.Role,
		"key_id":   p.KeyID,
		"backend":  q.Get("backend"),
		"action":   q.Get("action"),
		"decision": d,
	})
}
