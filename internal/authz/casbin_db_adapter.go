package authz

import (
	"database/sql"
	"fmt"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
)

// DatabaseAdapter persists casbin rules in the casbin_policies table.
type DatabaseAdapter struct {
	db *sql.DB
}

var _ persist.Adapter = (*DatabaseAdapter)(nil)

func NewDatabaseAdapter(db *sql.DB) *DatabaseAdapter {
	return &DatabaseAdapter{db: db}
}

// LoadPolicy reads every stored rule into the model. Rows are collected
// before being applied so no statement runs while the cursor is open.
func (a *DatabaseAdapter) LoadPolicy(m model.Model) error {
	rows, err := a.db.Query("SELECT ptype, v0, v1, v2, v3, v4, v5 FROM casbin_policies ORDER BY id")
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	defer rows.Close()

	var rules [][]string
	for rows.Next() {
		var (
			ptype string
			vals  [6]sql.NullString
		)
		if err := rows.Scan(&ptype, &vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5]); err != nil {
			return err
		}
		rule := []string{ptype}
		for _, v := range vals {
			if !v.Valid {
				break
			}
			rule = append(rule, v.String)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, rule := range rules {
		if err := persist.LoadPolicyArray(rule, m); err != nil {
			return fmt.Errorf("load policy %v: %w", rule, err)
		}
	}
	return nil
}

// SavePolicy replaces the stored rule set with the model's p and g sections.
func (a *DatabaseAdapter) SavePolicy(m model.Model) error {
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM casbin_policies"); err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO casbin_policies (ptype, v0, v1, v2, v3, v4, v5) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sec := range []string{"p", "g"} {
		for ptype, ast := range m[sec] {
			for _, rule := range ast.Policy {
				if _, err := stmt.Exec(ruleParams(ptype, rule)...); err != nil {
					return err
				}
			}
		}
	}
	return tx.Commit()
}

func (a *DatabaseAdapter) AddPolicy(sec string, ptype string, rule []string) error {
	_, err := a.db.Exec("INSERT INTO casbin_policies (ptype, v0, v1, v2, v3, v4, v5) VALUES (?, ?, ?, ?, ?, ?, ?)",
		ruleParams(ptype, rule)...)
	return err
}

func (a *DatabaseAdapter) RemovePolicy(sec string, ptype string, rule []string) error {
	query := "DELETE FROM casbin_policies WHERE ptype = ?"
	params := []interface{}{ptype}
	for i, v := range rule {
		if i >= 6 {
			break
		}
		query += fmt.Sprintf(" AND v%d = ?", i)
		params = append(params, v)
	}
	_, err := a.db.Exec(query, params...)
	return err
}

// RemoveFilteredPolicy deletes rules matching the non-empty field values starting at fieldIndex.
func (a *DatabaseAdapter) RemoveFilteredPolicy(sec string, ptype string, fieldIndex int, fieldValues ...string) error {
	query := "DELETE FROM casbin_policies WHERE ptype = ?"
	params := []interface{}{ptype}
	for i, v := range fieldValues {
		if v == "" || fieldIndex+i >= 6 {
			continue
		}
		query += fmt.Sprintf(" AND v%d = ?", fieldIndex+i)
		params = append(params, v)
	}
	_, err := a.db.Exec(query, params...)
	return err
}

func ruleParams(ptype string, rule []string) []interface{} {
	params := make([]interface{}, 7)
	params[0] = ptype
	for i, v := range rule {
		if i < 6 {
			params[i+1] = v
		}
	}
	return params
}

// CreateCasbinTable creates the policy table if it does not exist.
func CreateCasbinTable(db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS casbin_policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ptype TEXT NOT NULL,
		v0 TEXT,
		v1 TEXT,
		v2 TEXT,
		v3 TEXT,
		v4 TEXT,
		v5 TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_casbin_ptype ON casbin_policies(ptype);
	CREATE INDEX IF NOT EXISTS idx_casbin_v0 ON casbin_policies(v0);
	CREATE INDEX IF NOT EXISTS idx_casbin_v1 ON casbin_policies(v1);
	`
	_, err := db.Exec(createTableSQL)
	return err
}
