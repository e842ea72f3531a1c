package entities

import "time"

// BackendConfig describes one configured storage backend.
type BackendConfig struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Type      string                 `json:"type"`
	Enabled   bool                   `json:"enabled"`
	Endpoint  string                 `json:"endpoint,omitempty"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Setting returns a string setting or "" when absent.
func (b *BackendConfig) Setting(key string) string {
	if b.Settings == nil {
		return ""
	}
	if v, ok := b.Settings[key].(string); ok {
		return v
	}
	return ""
}
