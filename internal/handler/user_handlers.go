package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"storage-kit-hub/internal/application/usecases"
	"storage-kit-hub/internal/auth"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/presentation/http/response"
	"storage-kit-hub/internal/presentation/http/validation"
)

type createUserRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role,omitempty"`
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active disabled"`
}

type enableTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	u, err := h.c.UserUC.Create(r.Context(), usecases.CreateUserInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, u)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.c.UserUC.List(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	if users == nil {
		users = []entities.User{}
	}
	response.OK(w, users)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.c.UserUC.Get(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, u)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if err := h.c.UserUC.Delete(r.Context(), username); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"username": username, "status": "deleted"})
}

func (h *Handler) setUserRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	username := mux.Vars(r)["username"]
	if err := h.c.UserUC.SetRole(r.Context(), username, req.Role); err != nil {
		response.Error(w, err)
		return
	}
	h.getUser(w, r)
}

func (h *Handler) setUserStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if err := h.c.UserUC.SetStatus(r.Context(), mux.Vars(r)["username"], req.Status); err != nil {
		response.Error(w, err)
		return
	}
	h.getUser(w, r)
}

// userAccess lets admins and keys owned by the user through.
func (h *Handler) userAccess(w http.ResponseWriter, r *http.Request) (*entities.User, bool) {
	u, err := h.c.UserUC.Get(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		response.Error(w, err)
		return nil, false
	}
	if p := auth.FromContext(r.Context()); p != nil && p.OwnerID != "" && p.OwnerID == u.ID {
		return u, true
	}
	admin, err := h.isAdmin(r)
	if err != nil {
		response.Error(w, err)
		return nil, false
	}
	if !admin {
		response.Error(w, derrors.ErrUserNotFound)
		return nil, false
	}
	return u, true
}

func (h *Handler) startTOTP(w http.ResponseWriter, r *http.Request) {
	u, ok := h.userAccess(w, r)
	if !ok {
		return
	}
	setup, err := h.c.UserUC.StartTOTP(r.Context(), u.Username)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, setup)
}

func (h *Handler) enableTOTP(w http.ResponseWriter, r *http.Request) {
	u, ok := h.userAccess(w, r)
	if !ok {
		return
	}
	var req enableTOTPRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if err := h.c.UserUC.EnableTOTP(r.Context(), u.Username, req.Code); err != nil {
		response.Error(w, err)
		return
	}
	h.getUser(w, r)
}

func (h *Handler) disableTOTP(w http.ResponseWriter, r *http.Request) {
	u, ok := h.userAccess(w, r)
	if !ok {
		return
	}
	if err := h.c.UserUC.DisableTOTP(r.Context(), u.Username); err != nil {
		response.Error(w, err)
		return
	}
	h.getUser(w, r)
}
