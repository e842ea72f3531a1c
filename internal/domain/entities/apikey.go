package entities

import "time"

// API key lifecycle states.
const (
	APIKeyStatusActive  = "active"
	APIKeyStatusRevoked = "revoked"
	APIKeyStatusExpired = "expired"
)

type APIKey struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Key         string     `json:"key,omitempty"` // plaintext only on create/rotate, masked otherwise
	Prefix      string     `json:"prefix"`
	OwnerID     string     `json:"owner_id,omitempty"`
	Role        string     `json:"role"`
	Scopes      []string   `json:"scopes"`
	Backends    []string   `json:"backends,omitempty"` // empty means every backend
	Status      string     `json:"status"`
	RateLimit   int        `json:"rate_limit"` // requests per minute, 0 = server default
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	UsageCount  int64      `json:"usage_count"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsExpired reports whether the key's expiry is at or before now.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// APIKeyFilter narrows List results; zero values match everything.
type APIKeyFilter struct {
	OwnerID string
	Role    string
	Status  string
}

// APIKeyUsage is one row of the per-request usage log.
type APIKeyUsage struct {
	ID             int64     `json:"id"`
	APIKeyID       string    `json:"api_key_id"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	Backend        string    `json:"backend,omitempty"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	RequestTime    time.Time `json:"request_time"`
}

// EndpointCount is a per-endpoint aggregate inside UsageStats.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	Count    int64  `json:"count"`
}

type UsageStats struct {
	APIKeyID          string          `json:"api_key_id"`
	Since             time.Time       `json:"since"`
	TotalRequests     int64           `json:"total_requests"`
	ErrorRequests     int64           `json:"error_requests"`
	AvgResponseTimeMs float64         `json:"avg_response_time_ms"`
	Endpoints         []EndpointCount `json:"endpoints"`
}
