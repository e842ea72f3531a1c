package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/daemon"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/logger"
	"storage-kit-hub/internal/middleware"
	"storage-kit-hub/internal/presentation/http/response"
)

type daemonView struct {
	Process daemon.ProcessStatus `json:"process"`
	Version interface{}          `json:"version,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) (*daemon.Process, bool) {
	name := mux.Vars(r)["name"]
	p, ok := h.c.Processes[name]
	if !ok {
		response.Error(w, derrors.ErrNotFound.WithMessage("unknown daemon "+name))
		return nil, false
	}
	return p, true
}

// versionOf asks the daemon for its version through the rpc, cli, simulation chain.
func (h *Handler) versionOf(ctx context.Context, name string) (interface{}, error) {
	switch name {
	case authz.BackendLotus:
		return h.c.Lotus.Version(ctx)
	case authz.BackendIPFS:
		return h.c.IPFS.Version(ctx)
	}
	return nil, derrors.ErrNotFound
}

func (h *Handler) daemonStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.process(w, r)
	if !ok {
		return
	}
	view := daemonView{Process: p.Status()}
	v, err := h.versionOf(r.Context(), p.Name())
	if err != nil {
		view.Error = err.Error()
	} else {
		view.Version = v
	}
	response.OK(w, view)
}

// daemonInfo reports node identity and state gathered from the daemon API.
func (h *Handler) daemonInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := h.process(w, r)
	if !ok {
		return
	}
	var (
		info interface{}
		err  error
	)
	switch p.Name() {
	case authz.BackendLotus:
		info, err = h.c.Lotus.NodeInfo(r.Context())
	case authz.BackendIPFS:
		info, err = h.c.IPFS.NodeInfo(r.Context())
	default:
		err = derrors.ErrNotFound.WithMessage("no node info for " + p.Name())
	}
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, info)
}

func (h *Handler) startDaemon(w http.ResponseWriter, r *http.Request) {
	h.controlDaemon(w, r, "start", (*daemon.Process).Start)
}

func (h *Handler) stopDaemon(w http.ResponseWriter, r *http.Request) {
	h.controlDaemon(w, r, "stop", (*daemon.Process).Stop)
}

func (h *Handler) controlDaemon(w http.ResponseWriter, r *http.Request, op string,
	fn func(*daemon.Process, context.Context) error) {
	p, ok := h.process(w, r)
	if !ok {
		return
	}
	err := fn(p, r.Context())
	ev := entities.AuditEvent{
		Type:      entities.AuditDaemonControl,
		Actor:     actor(r.Context()),
		Backend:   p.Name(),
		Action:    authz.ActionAdmin,
		Resource:  "daemon:" + p.Name(),
		Outcome:   entities.OutcomeSuccess,
		IP:        middleware.ClientIP(r),
		RequestID: logger.RequestIDFrom(r.Context()),
		Details:   map[string]interface{}{"operation": op},
	}
	if err != nil {
		ev.Outcome = entities.OutcomeFailure
		ev.Severity = entities.SeverityWarning
		ev.Details["error"] = err.Error()
	}
	h.c.Audit.Log(ev)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, p.Status())
}
