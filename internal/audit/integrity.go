package audit

import (
	"context"
	"fmt"
	"time"

	"storage-kit-hub/internal/domain/entities"
)

const (
	IssueOutOfOrder   = "out_of_order"
	IssueMissingField = "missing_field"
)

type Issue struct {
	EventID string `json:"event_id"`
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail"`
}

type IntegrityReport struct {
	Checked int64   `json:"checked"`
	Valid   bool    `json:"valid"`
	Issues  []Issue `json:"issues"`
}

// VerifyIntegrity walks stored events in insertion order and reports
// timestamps that go backwards and events missing a required field.
func (l *Logger) VerifyIntegrity(ctx context.Context, since time.Time) (*IntegrityReport, error) {
	if l.store == nil {
		return nil, ErrNoStore
	}
	report := &IntegrityReport{Issues: []Issue{}}
	var prev time.Time

	err := l.store.Scan(ctx, since, func(ev *entities.AuditEvent) error {
		report.Checked++
		for _, f := range missingFields(ev) {
			report.Issues = append(report.Issues, Issue{
				EventID: ev.ID,
				Seq:     ev.Seq,
				Kind:    IssueMissingField,
				Detail:  f,
			})
		}
		if !ev.Timestamp.IsZero() {
			if !prev.IsZero() && ev.Timestamp.Before(prev) {
				report.Issues = append(report.Issues, Issue{
					EventID: ev.ID,
					Seq:     ev.Seq,
					Kind:    IssueOutOfOrder,
					Detail: fmt.Sprintf("timestamp %s precedes previous %s",
						ev.Timestamp.Format(time.RFC3339Nano), prev.Format(time.RFC3339Nano)),
				})
			}
			prev = ev.Timestamp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Valid = len(report.Issues) == 0
	return report, nil
}

func missingFields(ev *entities.AuditEvent) []string {
	var out []string
	if ev.ID == "" {
		out = append(out, "id")
	}
	if ev.Timestamp.IsZero() {
		out = append(out, "timestamp")
	}
	if ev.Type == "" {
		out = append(out, "type")
	}
	if ev.Outcome == "" {
		out = append(out, "outcome")
	}
	return out
}
