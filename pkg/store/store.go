// Package store provides the shared persistence adapters every coordination
// component runs against. A deployment configures exactly one relational
// store and optionally a Redis endpoint for lease and parameter state.
package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Adapter is the minimal lifecycle and health contract for storage adapters.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

// Querier is the statement surface the domain stores run against. Both
// relational adapters satisfy it, as does a bare *sql.DB in tests.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Dialect carries the SQL syntax differences between the supported
// relational backends. Domain stores write statements with ? placeholders
// and rebind them at construction time.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Rebind rewrites ? placeholders into the dialect's positional form.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// InsertIgnore builds an insert statement that silently skips rows whose
// key column already exists. Placeholders come out in dialect form.
func (d Dialect) InsertIgnore(table, keyColumn string, columns ...string) string {
	cols := strings.Join(columns, ", ")
	marks := make([]string, len(columns))
	for i := range marks {
		marks[i] = "?"
	}
	values := strings.Join(marks, ", ")

	if d == DialectMySQL {
		return "INSERT IGNORE INTO " + table + " (" + cols + ") VALUES (" + values + ")"
	}
	return d.Rebind("INSERT INTO " + table + " (" + cols + ") VALUES (" + values + ") ON CONFLICT (" + keyColumn + ") DO NOTHING")
}
