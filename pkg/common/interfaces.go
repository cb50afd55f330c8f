package common

import (
	"context"
)

// Database is the narrow store contract grid sources are written against.
// Implementations exist for Bun, GORM and plain database/sql.
//
// Every query string uses "?" placeholders; adapters rewrite them for
// drivers that expect another style.
type Database interface {
	NewSelect() SelectQuery
	NewDelete() DeleteQuery

	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)

	// Query runs a raw statement and scans the rows into dest, which must be
	// a *[]map[string]interface{}
	Query(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// RunInTransaction commits when fn returns nil and rolls back otherwise.
	// Inside a transaction it simply calls fn.
	RunInTransaction(ctx context.Context, fn func(Database) error) error

	// GetUnderlyingDB returns *bun.DB, *gorm.DB or *sql.DB (or their tx
	// counterparts)
	GetUnderlyingDB() interface{}

	// DriverName is one of "postgres", "sqlite", "mssql"
	DriverName() string
}

// SelectQuery builds a SELECT without a mapped model. Table accepts an
// aliased expression such as "items AS _a".
type SelectQuery interface {
	Table(table string) SelectQuery
	ColumnExpr(query string, args ...interface{}) SelectQuery
	LeftJoin(query string, args ...interface{}) SelectQuery
	Where(query string, args ...interface{}) SelectQuery
	OrderExpr(order string, args ...interface{}) SelectQuery
	Group(group string) SelectQuery
	Having(having string, args ...interface{}) SelectQuery
	Limit(n int) SelectQuery
	Offset(n int) SelectQuery

	// Scan executes the query. dest must be a *[]map[string]interface{}.
	Scan(ctx context.Context, dest interface{}) error
}

// DeleteQuery builds a DELETE against a single table
type DeleteQuery interface {
	Table(table string) DeleteQuery
	Where(query string, args ...interface{}) DeleteQuery
	Exec(ctx context.Context) (Result, error)
}

// Result interface for query execution results
type Result interface {
	RowsAffected() int64
}

// Driver names returned by Database.DriverName
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMSSQL    = "mssql"
)
