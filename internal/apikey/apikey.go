package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultPrefix is used for keys issued by the server.
const DefaultPrefix = "sk"

// Scopes an API key may carry. ScopeAdmin implies every other scope.
const (
	ScopeRead      = "read"
	ScopeWrite     = "write"
	ScopeDelete    = "delete"
	ScopeList      = "list"
	ScopeConfigure = "configure"
	ScopeAdmin     = "admin"
)

var validScopes = map[string]bool{
	ScopeRead:      true,
	ScopeWrite:     true,
	ScopeDelete:    true,
	ScopeList:      true,
	ScopeConfigure: true,
	ScopeAdmin:     true,
}

// GenerateAPIKey generates a new API key with the specified prefix
func GenerateAPIKey(prefix string) (string, string, error) {
	if !validPrefix(prefix) {
		return "", "", fmt.Errorf("invalid api key prefix %q", prefix)
	}

	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(bytes))
	return fullKey, HashAPIKey(fullKey), nil
}

// ValidateAPIKeyFormat validates the format of an API key
func ValidateAPIKeyFormat(key string) bool {
	parts := strings.Split(key, "_")
	if len(parts) != 2 {
		return false
	}

	if !validPrefix(parts[0]) {
		return false
	}

	keyPart := parts[1]
	if len(keyPart) != 64 {
		return false
	}
	for _, char := range keyPart {
		if !((char >= '0' && char <= '9') || (char >= 'a' && char <= 'f') || (char >= 'A' && char <= 'F')) {
			return false
		}
	}
	return true
}

// prefix should be 2-10 alphanumeric characters
func validPrefix(prefix string) bool {
	if len(prefix) < 2 || len(prefix) > 10 {
		return false
	}
	for _, c := range prefix {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}

// HashAPIKey generates a hash for an API key
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GenerateAPIKeyID generates a unique ID for an API key
func GenerateAPIKeyID() string {
	return "ak_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ExtractPrefixFromKey extracts the prefix from an API key
func ExtractPrefixFromKey(key string) string {
	parts := strings.Split(key, "_")
	if len(parts) >= 2 {
		return parts[0]
	}
	return ""
}

// MaskAPIKey masks an API key for display purposes
func MaskAPIKey(key string) string {
	if len(key) < 12 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// ValidateScopes reports whether every scope is known.
func ValidateScopes(scopes []string) bool {
	for _, s := range scopes {
		if !validScopes[s] {
			return false
		}
	}
	return true
}

// HasScope checks if a set of scopes includes a specific scope
func HasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == ScopeAdmin || s == required {
			return true
		}
	}
	return false
}
