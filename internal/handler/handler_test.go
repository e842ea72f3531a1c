package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"storage-kit-hub/internal/application/usecases"
	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/infrastructure/config"
	"storage-kit-hub/internal/infrastructure/di"
	"storage-kit-hub/internal/logger"
	"storage-kit-hub/internal/testutil"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testAPI struct {
	t        *testing.T
	c        *di.Container
	router   *mux.Router
	adminKey string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWith(t, false)
}

// newTestAPIWith optionally persists structured log entries to access_logs.
func newTestAPIWith(t *testing.T, persistLogs bool) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.Audit.FilePath = ""
	cfg.Daemons.Simulation = true
	cfg.RateLimit.RequestsPerMinute = 0

	db := testutil.NewTestDB(t)
	var log *logger.Logger
	if persistLogs {
		log = logger.NewWithCore(zapcore.NewNopCore(), db.GetDB())
	}
	c, err := di.New(cfg, log, db)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	ctx := context.Background()
	require.NoError(t, c.Authorizer.SeedDefaults(ctx))
	admin, err := c.APIKeyUC.Create(ctx, usecases.CreateAPIKeyInput{Name: "root", Role: authz.RoleAdmin})
	require.NoError(t, err)

	router := mux.NewRouter()
	New(c).RegisterRoutes(router)
	return &testAPI{t: t, c: c, router: router, adminKey: admin.Key}
}

func (a *testAPI) do(method, path, key string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, r)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (a *testAPI) flushAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(a.t, a.c.Audit.Flush(ctx))
}

func TestUnauthenticated(t *testing.T) {
	api := newTestAPI(t)

	w, env := api.do(http.MethodGet, "/api/v1/keys", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	w, env = api.do(http.MethodGet, "/api/v1/keys", "sk_notarealkey", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)
}

func TestUserLoginAndKeyOwnership(t *testing.T) {
	api := newTestAPI(t)

	w, _ := api.do(http.MethodPost, "/api/v1/users", api.adminKey, map[string]string{
		"username": "alice", "password": "correct-horse", "role": authz.RoleUser,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = api.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := api.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "correct-horse", "ttl": "1h",
	})
	require.Equal(t, http.StatusOK, w.Code)
	login := decode[usecases.LoginResult](t, env.Data)
	require.NotNil(t, login.Key)
	aliceKey := login.Key.Key
	require.NotEmpty(t, aliceKey)

	// alice may mint keys for herself but not with another role
	w, _ = api.do(http.MethodPost, "/api/v1/keys", aliceKey, map[string]interface{}{"name": "ci", "role": authz.RoleAdmin})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, env = api.do(http.MethodPost, "/api/v1/keys", aliceKey, map[string]interface{}{"name": "ci"})
	require.Equal(t, http.StatusCreated, w.Code)
	ci := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, login.User.ID, ci["owner_id"])

	// only her own keys are listed
	w, env = api.do(http.MethodGet, "/api/v1/keys", aliceKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	keys := decode[[]map[string]interface{}](t, env.Data)
	assert.Len(t, keys, 2)
	for _, k := range keys {
		assert.Equal(t, login.User.ID, k["owner_id"])
		assert.True(t, strings.HasSuffix(k["key"].(string), "_****"))
	}

	// the admin's key is invisible to her
	w, env = api.do(http.MethodGet, "/api/v1/keys", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[[]map[string]interface{}](t, env.Data)
	assert.Len(t, all, 3)
	var rootID string
	for _, k := range all {
		if k["name"] == "root" {
			rootID = k["id"].(string)
		}
	}
	require.NotEmpty(t, rootID)
	w, _ = api.do(http.MethodGet, "/api/v1/keys/"+rootID, aliceKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// admin-only routes are forbidden
	w, env = api.do(http.MethodGet, "/api/v1/users", aliceKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", env.Error.Code)

	// disabling the user revokes her keys
	w, _ = api.do(http.MethodPut, "/api/v1/users/alice/status", api.adminKey, map[string]string{"status": "disabled"})
	require.Equal(t, http.StatusOK, w.Code)
	w, env = api.do(http.MethodGet, "/api/v1/keys", aliceKey, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "API_KEY_REVOKED", env.Error.Code)
}

// loginAs creates a user through the admin API and returns its login key.
func (a *testAPI) loginAs(username, role string) string {
	a.t.Helper()
	w, _ := a.do(http.MethodPost, "/api/v1/users", a.adminKey, map[string]string{
		"username": username, "password": "correct-horse", "role": role,
	})
	require.Equal(a.t, http.StatusCreated, w.Code)
	w, env := a.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username, "password": "correct-horse",
	})
	require.Equal(a.t, http.StatusOK, w.Code)
	return decode[usecases.LoginResult](a.t, env.Data).Key.Key
}

func TestNarrowedKeyCannotWidenItself(t *testing.T) {
	api := newTestAPI(t)
	aliceKey := api.loginAs("alice", authz.RoleUser)

	w, env := api.do(http.MethodPost, "/api/v1/keys", aliceKey, map[string]interface{}{
		"name": "ci", "scopes": []string{"read"}, "backends": []string{"ipfs"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	ci := decode[map[string]interface{}](t, env.Data)
	ciID, ciKey := ci["id"].(string), ci["key"].(string)

	// the login key itself cannot hand out admin
	w, _ = api.do(http.MethodPost, "/api/v1/keys", aliceKey, map[string]interface{}{"name": "root-ish", "scopes": []string{"admin"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	for _, body := range []map[string]interface{}{
		{"scopes": []string{"admin"}},
		{"scopes": []string{"read", "write"}},
		{"backends": []string{"*"}},
		{"backends": []string{"ipfs", "s3"}},
		{"backends": []string{}},
	} {
		w, env = api.do(http.MethodPatch, "/api/v1/keys/"+ciID, ciKey, body)
		assert.Equal(t, http.StatusForbidden, w.Code, "%v", body)
		require.NotNil(t, env.Error)
		assert.Equal(t, "INSUFFICIENT_PERMISSIONS", env.Error.Code)
	}

	// narrowing further or renaming is fine
	w, _ = api.do(http.MethodPatch, "/api/v1/keys/"+ciID, ciKey, map[string]interface{}{"name": "ci-2", "scopes": []string{"read"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = api.do(http.MethodPost, "/api/v1/keys", ciKey, map[string]interface{}{"name": "child", "scopes": []string{"admin"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = api.do(http.MethodPost, "/api/v1/keys", ciKey, map[string]interface{}{"name": "child", "backends": []string{"s3"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// a child with no explicit narrowing inherits the parent's
	w, env = api.do(http.MethodPost, "/api/v1/keys", ciKey, map[string]interface{}{"name": "child"})
	require.Equal(t, http.StatusCreated, w.Code)
	child := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, []interface{}{"read"}, child["scopes"])
	assert.Equal(t, []interface{}{"ipfs"}, child["backends"])

	// admins are not bound by their own key's narrowing rules
	w, _ = api.do(http.MethodPatch, "/api/v1/keys/"+ciID, api.adminKey, map[string]interface{}{"scopes": []string{"read", "write"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoleChangeReachesExistingKeys(t *testing.T) {
	api := newTestAPI(t)
	bobKey := api.loginAs("bob", authz.RoleAdmin)

	w, _ := api.do(http.MethodGet, "/api/v1/users", bobKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = api.do(http.MethodPut, "/api/v1/users/bob/role", api.adminKey, map[string]string{"role": authz.RoleReadonly})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := api.do(http.MethodGet, "/api/v1/users", bobKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, env.Success)

	w, env = api.do(http.MethodGet, "/api/v1/authz/me?backend=ipfs&action=read", bobKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, authz.RoleReadonly, decode[map[string]interface{}](t, env.Data)["role"])
}

func TestOwnerCannotReactivateRevokedKey(t *testing.T) {
	api := newTestAPI(t)
	carolKey := api.loginAs("carol", authz.RoleUser)

	w, env := api.do(http.MethodPost, "/api/v1/keys", carolKey, map[string]interface{}{"name": "second"})
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode[map[string]interface{}](t, env.Data)
	id, secondKey := second["id"].(string), second["key"].(string)

	w, _ = api.do(http.MethodPost, "/api/v1/keys/"+id+"/revoke", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = api.do(http.MethodPost, "/api/v1/keys/"+id+"/activate", carolKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = api.do(http.MethodGet, "/api/v1/keys", secondKey, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// owners may still revoke their own keys
	w, env = api.do(http.MethodPost, "/api/v1/keys", carolKey, map[string]interface{}{"name": "third"})
	require.Equal(t, http.StatusCreated, w.Code)
	third := decode[map[string]interface{}](t, env.Data)["id"].(string)
	w, _ = api.do(http.MethodPost, "/api/v1/keys/"+third+"/revoke", carolKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestKeyLifecycle(t *testing.T) {
	api := newTestAPI(t)

	w, env := api.do(http.MethodPost, "/api/v1/keys", api.adminKey, map[string]interface{}{
		"name": "worker", "role": authz.RoleOperator, "backends": []string{"ipfs"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[map[string]interface{}](t, env.Data)
	id := created["id"].(string)
	plaintext := created["key"].(string)

	w, env = api.do(http.MethodPatch, "/api/v1/keys/"+id, api.adminKey, map[string]interface{}{"name": "worker-2", "rate_limit": 30})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, "worker-2", updated["name"])
	assert.EqualValues(t, 30, updated["rate_limit"])

	w, _ = api.do(http.MethodPost, "/api/v1/keys/"+id+"/revoke", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = api.do(http.MethodGet, "/api/v1/authz/me?backend=ipfs&action=read", plaintext, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = api.do(http.MethodPost, "/api/v1/keys/"+id+"/activate", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = api.do(http.MethodPost, "/api/v1/keys/"+id+"/rotate", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rotated := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, id, rotated["id"])
	newKey := rotated["key"].(string)
	assert.NotEqual(t, plaintext, newKey)

	w, _ = api.do(http.MethodGet, "/api/v1/authz/me?backend=ipfs&action=read", plaintext, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, env = api.do(http.MethodGet, "/api/v1/authz/me?backend=ipfs&action=read", newKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, true, me["decision"].(map[string]interface{})["allowed"])

	// the key is restricted to ipfs
	w, env = api.do(http.MethodGet, "/api/v1/authz/me?backend=s3&action=read", newKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me = decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, false, me["decision"].(map[string]interface{})["allowed"])

	require.Eventually(t, func() bool {
		w, env := api.do(http.MethodGet, "/api/v1/keys/"+id+"/usage", api.adminKey, nil)
		if w.Code != http.StatusOK {
			return false
		}
		stats := decode[map[string]interface{}](t, env.Data)
		return stats["total_requests"].(float64) >= 2
	}, 3*time.Second, 50*time.Millisecond)

	w, _ = api.do(http.MethodDelete, "/api/v1/keys/"+id, api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = api.do(http.MethodGet, "/api/v1/keys/"+id, api.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimited(t *testing.T) {
	api := newTestAPI(t)
	k, err := api.c.APIKeyUC.Create(context.Background(), usecases.CreateAPIKeyInput{
		Name: "tight", Role: authz.RoleReadonly, RateLimit: 1,
	})
	require.NoError(t, err)

	w, _ := api.do(http.MethodGet, "/api/v1/authz/me?backend=ipfs&action=read", k.Key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w, env := api.do(http.MethodGet, "/api/v1/authz/me?backend=ipfs&action=read", k.Key, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
}

func TestRolesAndPermissions(t *testing.T) {
	api := newTestAPI(t)

	w, _ := api.do(http.MethodPost, "/api/v1/roles", api.adminKey, map[string]string{"name": "archivist", "description": "cold storage"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = api.do(http.MethodPost, "/api/v1/roles/archivist/permissions", api.adminKey, map[string]string{"backend": "filecoin", "action": "write"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := api.do(http.MethodGet, "/api/v1/roles/archivist/permissions", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	perms := decode[[]map[string]string](t, env.Data)
	require.Len(t, perms, 1)
	assert.Equal(t, "filecoin", perms[0]["backend"])

	check := func(backend, action string) bool {
		w, env := api.do(http.MethodPost, "/api/v1/authz/check", api.adminKey, map[string]string{
			"role": "archivist", "backend": backend, "action": action,
		})
		require.Equal(t, http.StatusOK, w.Code)
		return decode[map[string]interface{}](t, env.Data)["allowed"].(bool)
	}
	assert.True(t, check("filecoin", "write"))
	assert.False(t, check("ipfs", "write"))

	w, _ = api.do(http.MethodDelete, "/api/v1/roles/archivist/permissions", api.adminKey, map[string]string{"backend": "filecoin", "action": "write"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, check("filecoin", "write"))

	w, _ = api.do(http.MethodPost, "/api/v1/authz/check", api.adminKey, map[string]string{"role": "archivist", "backend": "Bad Name", "action": "read"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.do(http.MethodDelete, "/api/v1/roles/archivist", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = api.do(http.MethodDelete, "/api/v1/roles/admin", api.adminKey, nil)
	assert.GreaterOrEqual(t, w.Code, 400)
}

func TestBackendsAndHealth(t *testing.T) {
	api := newTestAPI(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	w, _ := api.do(http.MethodPost, "/api/v1/backends", api.adminKey, map[string]interface{}{
		"name": "huggingface", "type": "huggingface", "endpoint": upstream.URL,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = api.do(http.MethodPost, "/api/v1/backends", api.adminKey, map[string]interface{}{"name": "ipfs", "type": "ipfs"})
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = api.do(http.MethodPost, "/api/v1/backends", api.adminKey, map[string]interface{}{"name": "tape", "type": "tape"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := api.do(http.MethodGet, "/api/v1/backends", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]interface{}](t, env.Data), 2)

	w, env = api.do(http.MethodGet, "/api/v1/backends/huggingface/health", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, env.Data)["healthy"])

	w, env = api.do(http.MethodGet, "/api/v1/health", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[map[string]interface{}](t, env.Data)
	assert.Len(t, report["backends"], 2)
	assert.NotNil(t, api.c.Health.Last())

	w, _ = api.do(http.MethodGet, "/api/v1/health?cached=true", api.adminKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = api.do(http.MethodPut, "/api/v1/backends/ipfs", api.adminKey, map[string]interface{}{"type": "ipfs", "enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]interface{}](t, env.Data)["enabled"])

	w, _ = api.do(http.MethodDelete, "/api/v1/backends/ipfs", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = api.do(http.MethodGet, "/api/v1/backends/ipfs", api.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditEndpoints(t *testing.T) {
	api := newTestAPI(t)
	w, _ := api.do(http.MethodPost, "/api/v1/roles", api.adminKey, map[string]string{"name": "auditor"})
	require.Equal(t, http.StatusCreated, w.Code)
	api.flushAudit()

	w, env := api.do(http.MethodGet, "/api/v1/audit/events?type=apikey.created&limit=10", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[map[string]interface{}](t, env.Data)
	assert.EqualValues(t, 1, page["count"])

	w, _ = api.do(http.MethodGet, "/api/v1/audit/events?limit=abc", api.adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = api.do(http.MethodGet, "/api/v1/audit/stats", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[map[string]interface{}](t, env.Data), "stats")

	w, env = api.do(http.MethodGet, "/api/v1/audit/integrity", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, env.Data)["valid"])

	w, _ = api.do(http.MethodGet, "/api/v1/audit/export?format=csv", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "seq,id,timestamp,type"))

	w, _ = api.do(http.MethodGet, "/api/v1/audit/export?format=xml", api.adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = api.do(http.MethodPost, "/api/v1/audit/retention", api.adminKey, map[string]int{"days": 30})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]interface{}](t, env.Data)["deleted"])
}

func TestDaemonControl(t *testing.T) {
	api := newTestAPI(t)

	w, env := api.do(http.MethodGet, "/api/v1/daemons/lotus", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, true, view["process"].(map[string]interface{})["simulated"])
	assert.NotNil(t, view["version"])

	w, env = api.do(http.MethodGet, "/api/v1/daemons/ipfs/info", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, "simulated", info["source"])
	assert.NotNil(t, info["identity"])

	w, _ = api.do(http.MethodPost, "/api/v1/daemons/ipfs/start", api.adminKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = api.do(http.MethodPost, "/api/v1/daemons/ipfs/stop", api.adminKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = api.do(http.MethodGet, "/api/v1/daemons/ceph", api.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAccessLogsRecordDaemonFallback(t *testing.T) {
	api := newTestAPIWith(t, true)

	w, _ := api.do(http.MethodGet, "/api/v1/daemons/ipfs/info", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := api.do(http.MethodGet, "/api/v1/audit/access-logs?limit=20", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Logs  []logger.StructuredLog `json:"logs"`
		Limit int                    `json:"limit"`
	}](t, env.Data)
	assert.Equal(t, 20, page.Limit)

	fallbacks := 0
	for _, entry := range page.Logs {
		if entry.EventCode == logger.EventDaemonFallback {
			fallbacks++
			assert.Equal(t, "ipfs", entry.Details["daemon"])
			assert.Equal(t, "simulated", entry.Details["source"])
		}
	}
	assert.Equal(t, 2, fallbacks, "id and repo/stat were both simulated")

	w, _ = api.do(http.MethodGet, "/api/v1/audit/access-logs?limit=-1", api.adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTOTPEnrollment(t *testing.T) {
	api := newTestAPI(t)
	aliceKey := api.loginAs("alice", authz.RoleUser)
	bobKey := api.loginAs("bob", authz.RoleUser)

	w, _ := api.do(http.MethodPost, "/api/v1/users/alice/totp", bobKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "other users are hidden")

	w, env := api.do(http.MethodPost, "/api/v1/users/alice/totp", aliceKey, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	enroll := decode[usecases.TOTPSetup](t, env.Data)
	require.NotEmpty(t, enroll.Secret)

	w, _ = api.do(http.MethodPost, "/api/v1/users/alice/totp/enable", aliceKey, map[string]string{"code": "12ab"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	w, env = api.do(http.MethodPost, "/api/v1/users/alice/totp/enable", aliceKey, map[string]string{"code": code})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]interface{}](t, env.Data)["totp_enabled"])

	login := map[string]string{"username": "alice", "password": "correct-horse"}
	w, env = api.do(http.MethodPost, "/api/v1/auth/login", "", login)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, "one-time code")

	login["otp"] = code
	w, _ = api.do(http.MethodPost, "/api/v1/auth/login", "", login)
	assert.Equal(t, http.StatusOK, w.Code)

	// an admin can reset a lost authenticator
	w, env = api.do(http.MethodDelete, "/api/v1/users/alice/totp", api.adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]interface{}](t, env.Data)["totp_enabled"])
	delete(login, "otp")
	w, _ = api.do(http.MethodPost, "/api/v1/auth/login", "", login)
	assert.Equal(t, http.StatusOK, w.Code)
}
