package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{
	"seq", "id", "timestamp", "type", "severity", "actor", "key_id", "backend",
	"action", "resource", "outcome", "ip", "request_id", "details",
}

// Export writes events matching f to w, newest first, as a JSON array or CSV.
func (l *Logger) Export(ctx context.Context, w io.Writer, format string, f entities.AuditFilter) (int, error) {
	if format != FormatJSON && format != FormatCSV {
		return 0, derrors.ErrInvalidInput.WithMessage("export format must be json or csv")
	}
	events, err := l.Query(ctx, f)
	if err != nil {
		return 0, err
	}

	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(events); err != nil {
			return 0, fmt.Errorf("encode json export: %w", err)
		}
		return len(events), nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	for _, ev := range events {
		details := ""
		if len(ev.Details) > 0 {
			b, _ := json.Marshal(ev.Details)
			details = string(b)
		}
		row := []string{
			strconv.FormatInt(ev.Seq, 10), ev.ID, ev.Timestamp.UTC().Format(time.RFC3339Nano),
			ev.Type, ev.Severity, ev.Actor, ev.KeyID, ev.Backend,
			ev.Action, ev.Resource, ev.Outcome, ev.IP, ev.RequestID, details,
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("write csv export: %w", err)
	}
	return len(events), nil
}
