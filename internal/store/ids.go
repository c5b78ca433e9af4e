package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// newID returns a new opaque row id.
func newID() string {
	return uuid.NewString()
}

// now returns the current time as stored in timestamp columns.
func now() time.Time {
	return time.Now().UTC()
}

// nullString maps the empty string to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime maps a nil time to NULL.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
