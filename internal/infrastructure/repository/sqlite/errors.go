package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
)

var ErrDBUnavailable = errors.New("database not available")

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// requireAffected returns notFound when an UPDATE/DELETE touched no rows.
func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
