package authz

import (
	"database/sql"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// modelText is an RBAC model over (subject, backend, action). "*" in a policy
// matches any backend or action, and the admin action implies every action.
const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || p.act == "admin" || r.act == p.act)
`

// NewEnforcer builds a synced enforcer backed by the casbin_policies table.
func NewEnforcer(db *sql.DB) (*casbin.SyncedEnforcer, error) {
	if err := CreateCasbinTable(db); err != nil {
		return nil, fmt.Errorf("failed to create casbin table: %w", err)
	}

	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, NewDatabaseAdapter(db))
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}
	return enforcer, nil
}
