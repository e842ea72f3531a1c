package apikey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKey_Generate(t *testing.T) {
	key, hash, err := GenerateAPIKey("sk")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "sk_"))
	assert.Len(t, key, len("sk_")+64)
	assert.Equal(t, HashAPIKey(key), hash)
	assert.True(t, ValidateAPIKeyFormat(key))

	key2, _, err := GenerateAPIKey("sk")
	require.NoError(t, err)
	assert.NotEqual(t, key, key2, "generated keys should be unique")
}

func TestAPIKey_GenerateRejectsBadPrefix(t *testing.T) {
	for _, prefix := range []string{"", "x", "waytoolongprefix", "a_b", "sk-1"} {
		_, _, err := GenerateAPIKey(prefix)
		assert.Error(t, err, "prefix %q", prefix)
	}
}

func TestAPIKey_Hash(t *testing.T) {
	key, _, err := GenerateAPIKey("test")
	require.NoError(t, err)

	h1 := HashAPIKey(key)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, key, h1)
	assert.Equal(t, h1, HashAPIKey(key))

	other, _, _ := GenerateAPIKey("test")
	assert.NotEqual(t, h1, HashAPIKey(other))
}

func TestAPIKey_ValidateFormat(t *testing.T) {
	hex64 := strings.Repeat("ab", 32)
	cases := map[string]bool{
		"sk_" + hex64:                   true,
		"prod01_" + hex64:               true,
		"sk_" + strings.ToUpper(hex64):  true,
		"sk" + hex64:                    false,
		"s_" + hex64:                    false,
		"sk_" + hex64[:63]:              false,
		"sk_" + hex64[:63] + "g":        false,
		"sk_extra_" + hex64:             false,
		"":                              false,
	}
	for key, want := range cases {
		assert.Equal(t, want, ValidateAPIKeyFormat(key), "key %q", key)
	}
}

func TestAPIKey_Mask(t *testing.T) {
	assert.Equal(t, "****", MaskAPIKey("short"))
	key := "sk_0123456789abcdef"
	assert.Equal(t, "sk_01234...cdef", MaskAPIKey(key))
}

func TestAPIKey_ExtractPrefix(t *testing.T) {
	assert.Equal(t, "sk", ExtractPrefixFromKey("sk_abc"))
	assert.Equal(t, "", ExtractPrefixFromKey("noprefix"))
}

func TestAPIKey_GenerateID(t *testing.T) {
	id := GenerateAPIKeyID()
	assert.True(t, strings.HasPrefix(id, "ak_"))
	assert.NotEqual(t, id, GenerateAPIKeyID())
}

func TestAPIKey_Scopes(t *testing.T) {
	assert.True(t, ValidateScopes([]string{"read", "write", "list"}))
	assert.True(t, ValidateScopes(nil))
	assert.False(t, ValidateScopes([]string{"read", "upload"}))

	assert.True(t, HasScope([]string{"read"}, "read"))
	assert.False(t, HasScope([]string{"read"}, "delete"))
	assert.True(t, HasScope([]string{"admin"}, "delete"), "admin implies every scope")
	assert.False(t, HasScope(nil, "read"))
}
