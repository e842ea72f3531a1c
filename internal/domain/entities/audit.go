package entities

import "time"

// AuditEvent is a single persisted audit record.
type AuditEvent struct {
	Seq       int64                  `json:"seq,omitempty"`
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Actor     string                 `json:"actor,omitempty"`
	KeyID     string                 `json:"key_id,omitempty"`
	Backend   string                 `json:"backend,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Outcome   string                 `json:"outcome"`
	IP        string                 `json:"ip,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AuditFilter selects events for Query/Export; zero values match everything.
type AuditFilter struct {
	Types   []string
	Actor   string
	Backend string
	Outcome string
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

type AuditStats struct {
	Since     time.Time        `json:"since"`
	Total     int64            `json:"total"`
	Denied    int64            `json:"denied"`
	ByType    map[string]int64 `json:"by_type"`
	ByOutcome map[string]int64 `json:"by_outcome"`
	ByBackend map[string]int64 `json:"by_backend"`
}

// Audit event types.
const (
	AuditAPIKeyCreated     = "apikey.created"
	AuditAPIKeyRevoked     = "apikey.revoked"
	AuditAPIKeyActivated   = "apikey.activated"
	AuditAPIKeyRotated     = "apikey.rotated"
	AuditAPIKeyDeleted     = "apikey.deleted"
	AuditAPIKeyUpdated     = "apikey.updated"
	AuditAPIKeyExpired     = "apikey.expired"
	AuditAuthSuccess       = "auth.success"
	AuditAuthFailure       = "auth.failure"
	AuditAuthzDecision     = "authz.decision"
	AuditRoleChanged       = "role.changed"
	AuditPermissionGranted = "permission.granted"
	AuditPermissionRevoked = "permission.revoked"
	AuditUserCreated       = "user.created"
	AuditUserDeleted       = "user.deleted"
	AuditUserLogin         = "user.login"
	AuditUserStatusChanged = "user.status_changed"
	AuditUserTOTPChanged   = "user.totp_changed"
	AuditBackendConfigured = "backend.configured"
	AuditBackendDeleted    = "backend.deleted"
	AuditDaemonControl     = "daemon.control"
	AuditRetentionApplied  = "retention.applied"
	AuditSystem            = "system"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)
