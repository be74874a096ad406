// Package store holds the storage operations. Functions take either a
// *sql.DB for single-statement work or run inside the transaction helpers
// from internal/database when multiple aggregates must move together.
package store

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so read helpers can be
// shared between plain queries and transactional paths.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
