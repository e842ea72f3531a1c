package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storage-kit-hub/internal/audit"
	"storage-kit-hub/internal/domain/entities"
	"storage-kit-hub/internal/presentation/http/response"
	"storage-kit-hub/internal/presentation/http/validation"
)

type retentionRequest struct {
	// Days overrides the configured retention; 0 uses the configured value.
	Days int `json:"days" validate:"min=0"`
}

// auditFilter builds a filter from type, actor, backend, outcome, since,
// until, limit and offset query parameters.
func auditFilter(r *http.Request) (entities.AuditFilter, error) {
	q := r.URL.Query()
	page, details := validation.ParsePagination(q, defaultPageSize, maxPageSize)
	if len(details) > 0 {
		return entities.AuditFilter{}, errInvalidDetails("invalid pagination", details)
	}
	since, err := validation.ParseTime(q, "since")
	if err != nil {
		return entities.AuditFilter{}, err
	}
	until, err := validation.ParseTime(q, "until")
	if err != nil {
		return entities.AuditFilter{}, err
	}
	f := entities.AuditFilter{
		Actor:   q.Get("actor"),
		Backend: q.Get("backend"),
		Outcome: q.Get("outcome"),
		Since:   since,
		Until:   until,
		Limit:   page.Limit,
		Offset:  page.Offset,
	}
	for _, t := range q["type"] {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Types = append(f.Types, part)
			}
		}
	}
	return f, nil
}

func (h *Handler) auditEvents(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	events, err := h.c.Audit.Query(r.Context(), f)
	if err != nil {
		response.Error(w, err)
		return
	}
	if events == nil {
		events = []entities.AuditEvent{}
	}
	response.OK(w, map[string]interface{}{
		"events": events,
		"limit":  f.Limit,
		"offset": f.Offset,
		"count":  len(events),
	})
}

// accessLogs pages through the structured log entries persisted to
// access_logs. It is empty unless logging.persist_access_logs is set.
func (h *Handler) accessLogs(w http.ResponseWriter, r *http.Request) {
	page, details := validation.ParsePagination(r.URL.Query(), defaultPageSize, maxPageSize)
	if len(details) > 0 {
		response.Error(w, errInvalidDetails("invalid pagination", details))
		return
	}
	logs, err := h.c.Logger.GetAccessLogs(r.Context(), page.Limit, page.Offset)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"logs":   logs,
		"limit":  page.Limit,
		"offset": page.Offset,
		"count":  len(logs),
	})
}

func (h *Handler) auditStats(w http.ResponseWriter, r *http.Request) {
	since, err := validation.ParseTime(r.URL.Query(), "since")
	if err != nil {
		response.Error(w, err)
		return
	}
	if since.IsZero() {
		since = time.Now().UTC().Add(-24 * time.Hour)
	}
	stats, err := h.c.Audit.Stats(r.Context(), since)
	if err != nil {
		response.Error(w, err)
		return
	}
	stats.Since = since
	response.OK(w, map[string]interface{}{
		"stats":   stats,
		"dropped": h.c.Audit.Dropped(),
		"written": h.c.Audit.Written(),
	})
}

func (h *Handler) auditIntegrity(w http.ResponseWriter, r *http.Request) {
	since, err := validation.ParseTime(r.URL.Query(), "since")
	if err != nil {
		response.Error(w, err)
		return
	}
	report, err := h.c.Audit.VerifyIntegrity(r.Context(), since)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, report)
}

// auditExport streams matching events as a JSON array or CSV attachment.
func (h *Handler) auditExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = audit.FormatJSON
	}
	f, err := auditFilter(r)
	if err != nil {
		response.Error(w, err)
		return
	}
	if r.URL.Query().Get("limit") == "" {
		f.Limit = 0
	}

	// buffer so a failure can still be reported as a JSON error
	var buf bytes.Buffer
	n, err := h.c.Audit.Export(r.Context(), &buf, format, f)
	if err != nil {
		response.Error(w, err)
		return
	}
	contentType := "application/json"
	if format == audit.FormatCSV {
		contentType = "text/csv"
	}
	name := fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102T150405Z"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("X-Export-Count", fmt.Sprint(n))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) auditRetention(w http.ResponseWriter, r *http.Request) {
	var req retentionRequest
	if r.ContentLength != 0 {
		if err := validation.DecodeJSON(r, &req); err != nil {
			response.Error(w, err)
			return
		}
	}
	days := req.Days
	if days == 0 {
		days = h.c.Config.Audit.RetentionDays
	}
	deleted, err := h.c.Audit.ApplyRetention(r.Context(), days)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]interface{}{"retention_days": days, "deleted": deleted})
}
