package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"storage-kit-hub/internal/application/usecases"
	"storage-kit-hub/internal/domain/entities"
	"storage-kit-hub/internal/middleware"
	"storage-kit-hub/internal/presentation/http/response"
	"storage-kit-hub/internal/presentation/http/validation"
)

type backendRequest struct {
	Name     string                 `json:"name,omitempty"`
	Type     string                 `json:"type" validate:"required"`
	Enabled  *bool                  `json:"enabled,omitempty"`
	Endpoint string                 `json:"endpoint,omitempty" validate:"omitempty,url"`
	Settings map[string]interface{} `json:"settings,omitempty"`
}

func (b backendRequest) input(name string) usecases.BackendInput {
	enabled := true
	if b.Enabled != nil {
		enabled = *b.Enabled
	}
	return usecases.BackendInput{
		Name:     name,
		Type:     b.Type,
		Enabled:  enabled,
		Endpoint: b.Endpoint,
		Settings: b.Settings,
	}
}

func (h *Handler) listBackends(w http.ResponseWriter, r *http.Request) {
	list, err := h.c.BackendUC.List(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	if list == nil {
		list = []entities.BackendConfig{}
	}
	response.OK(w, list)
}

func (h *Handler) createBackend(w http.ResponseWriter, r *http.Request) {
	var req backendRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	if req.Name == "" {
		response.Error(w, errInvalid("name is required"))
		return
	}
	cfg, err := h.c.BackendUC.Create(r.Context(), req.input(req.Name))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, cfg)
}

func (h *Handler) getBackend(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.c.BackendUC.Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, cfg)
}

func (h *Handler) updateBackend(w http.ResponseWriter, r *http.Request) {
	var req backendRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}
	name := mux.Vars(r)["name"]
	if req.Name != "" && req.Name != name {
		response.Error(w, errInvalid("backend name cannot be changed"))
		return
	}
	cfg, err := h.c.BackendUC.Update(r.Context(), name, req.input(name))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, cfg)
}

func (h *Handler) deleteBackend(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.c.BackendUC.Delete(r.Context(), name); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"name": name, "status": "deleted"})
}

func (h *Handler) backendHealth(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.c.BackendUC.Get(r.Context(), mux.Vars(r)[middleware.BackendVar])
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, h.c.Health.Check(r.Context(), *cfg))
}

// healthReport probes every enabled backend, or returns the last report
// when cached=true and one exists.
func (h *Handler) healthReport(w http.ResponseWriter, r *http.Request) {
	if cached, _ := strconv.ParseBool(r.URL.Query().Get("cached")); cached {
		if last := h.c.Health.Last(); last != nil {
			response.OK(w, last)
			return
		}
	}
	report, err := h.c.Health.CheckAll(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, report)
}
