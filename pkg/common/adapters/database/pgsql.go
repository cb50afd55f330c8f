package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/logger"
)

// sqlConn is satisfied by both *sql.DB and *sql.Tx
type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// PgSQLAdapter runs grid queries through database/sql without an ORM.
// Placeholders are rewritten to $n, which PostgreSQL (pgx) requires.
type PgSQLAdapter struct {
	db   *sql.DB
	tx   *sql.Tx
	name string
}

func NewPgSQLAdapter(db *sql.DB) *PgSQLAdapter {
	return &PgSQLAdapter{db: db, name: common.DriverPostgres}
}

// NewSQLAdapter wraps a non-PostgreSQL database/sql pool; placeholders are
// rewritten only when driverName is "postgres"
func NewSQLAdapter(db *sql.DB, driverName string) *PgSQLAdapter {
	return &PgSQLAdapter{db: db, name: driverName}
}

func (p *PgSQLAdapter) conn() sqlConn {
	if p.tx != nil {
		return p.tx
	}
	return p.db
}

func (p *PgSQLAdapter) rebind(query string) string {
	if p.name != common.DriverPostgres {
		return query
	}
	return replacePlaceholders(query)
}

func (p *PgSQLAdapter) NewSelect() common.SelectQuery {
	return &PgSQLSelectQuery{adapter: p}
}

func (p *PgSQLAdapter) NewDelete() common.DeleteQuery {
	return newDeleteQuery("PgSQLDeleteQuery", p.Exec)
}

func (p *PgSQLAdapter) Exec(ctx context.Context, query string, args ...interface{}) (res common.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("PgSQLAdapter.Exec", r)
		}
	}()
	query = p.rebind(query)
	logger.Debug("PgSQL Exec: %s [args: %v]", query, args)
	result, err := p.conn().ExecContext(ctx, query, args...)
	if err != nil {
		logger.Error("PgSQL Exec failed: %v", err)
		return nil, err
	}
	return &sqlResult{rowsAffected: result.RowsAffected}, nil
}

func (p *PgSQLAdapter) Query(ctx context.Context, dest interface{}, query string, args ...interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("PgSQLAdapter.Query", r)
		}
	}()
	query = p.rebind(query)
	logger.Debug("PgSQL Query: %s [args: %v]", query, args)
	rows, err := p.conn().QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error("PgSQL Query failed: %v", err)
		return err
	}
	defer rows.Close()

	return scanRows(rows, dest)
}

func (p *PgSQLAdapter) RunInTransaction(ctx context.Context, fn func(common.Database) error) (err error) {
	if p.tx != nil {
		return fn(p)
	}

	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("PgSQLAdapter.RunInTransaction", r)
		}
	}()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if rcv := recover(); rcv != nil {
			_ = tx.Rollback()
			panic(rcv)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	return fn(&PgSQLAdapter{db: p.db, tx: tx, name: p.name})
}

func (p *PgSQLAdapter) GetUnderlyingDB() interface{} {
	if p.tx != nil {
		return p.tx
	}
	return p.db
}

func (p *PgSQLAdapter) DriverName() string {
	return p.name
}

// PgSQLSelectQuery assembles the statement itself and executes it on Scan
type PgSQLSelectQuery struct {
	adapter *PgSQLAdapter
	table   string
	columns []string
	joins   []string
	wheres  []string
	orderBy []string
	groupBy []string
	havings []string
	limit   int
	offset  int

	// args are kept per clause because clauses are rendered in SQL order,
	// not in call order
	columnArgs []interface{}
	joinArgs   []interface{}
	whereArgs  []interface{}
	havingArgs []interface{}
	orderArgs  []interface{}
}

func (p *PgSQLSelectQuery) Table(table string) common.SelectQuery {
	p.table = table
	return p
}

func (p *PgSQLSelectQuery) ColumnExpr(query string, args ...interface{}) common.SelectQuery {
	p.columns = append(p.columns, query)
	p.columnArgs = append(p.columnArgs, args...)
	return p
}

func (p *PgSQLSelectQuery) LeftJoin(query string, args ...interface{}) common.SelectQuery {
	p.joins = append(p.joins, "LEFT JOIN "+query)
	p.joinArgs = append(p.joinArgs, args...)
	return p
}

func (p *PgSQLSelectQuery) Where(query string, args ...interface{}) common.SelectQuery {
	p.wheres = append(p.wheres, query)
	p.whereArgs = append(p.whereArgs, args...)
	return p
}

func (p *PgSQLSelectQuery) OrderExpr(order string, args ...interface{}) common.SelectQuery {
	p.orderBy = append(p.orderBy, order)
	p.orderArgs = append(p.orderArgs, args...)
	return p
}

func (p *PgSQLSelectQuery) Group(group string) common.SelectQuery {
	p.groupBy = append(p.groupBy, group)
	return p
}

func (p *PgSQLSelectQuery) Having(having string, args ...interface{}) common.SelectQuery {
	p.havings = append(p.havings, having)
	p.havingArgs = append(p.havingArgs, args...)
	return p
}

func (p *PgSQLSelectQuery) Limit(n int) common.SelectQuery {
	p.limit = n
	return p
}

func (p *PgSQLSelectQuery) Offset(n int) common.SelectQuery {
	p.offset = n
	return p
}

// buildSQL returns the statement with "?" placeholders and its arguments
func (p *PgSQLSelectQuery) buildSQL() (string, []interface{}) {
	var sb strings.Builder
	args := make([]interface{}, 0)

	sb.WriteString("SELECT ")
	if len(p.columns) > 0 {
		sb.WriteString(strings.Join(p.columns, ", "))
		args = append(args, p.columnArgs...)
	} else {
		sb.WriteString("*")
	}

	if p.table != "" {
		sb.WriteString(" FROM ")
		sb.WriteString(p.table)
	}

	if len(p.joins) > 0 {
		sb.WriteString(" ")
		sb.WriteString(strings.Join(p.joins, " "))
		args = append(args, p.joinArgs...)
	}

	if len(p.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(p.wheres, " AND "))
		args = append(args, p.whereArgs...)
	}

	if len(p.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(p.groupBy, ", "))
	}

	if len(p.havings) > 0 {
		sb.WriteString(" HAVING ")
		sb.WriteString(strings.Join(p.havings, " AND "))
		args = append(args, p.havingArgs...)
	}

	if len(p.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(p.orderBy, ", "))
		args = append(args, p.orderArgs...)
	}

	if p.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(p.limit))
	}

	if p.offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(p.offset))
	}

	return sb.String(), args
}

func (p *PgSQLSelectQuery) Scan(ctx context.Context, dest interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("PgSQLSelectQuery.Scan", r)
		}
	}()

	query, args := p.buildSQL()
	query = p.adapter.rebind(query)
	logger.Debug("PgSQL SELECT: %s [args: %v]", query, args)

	rows, err := p.adapter.conn().QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error("PgSQL SELECT failed. SQL: %s. Error: %v", query, err)
		return err
	}
	defer rows.Close()

	return scanRows(rows, dest)
}

// replacePlaceholders rewrites every "?" outside quoted literals to $1, $2, ...
func replacePlaceholders(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	var quote rune
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			sb.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			sb.WriteRune(r)
		case r == '?':
			n++
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// scanRows reads every row into dest, a *[]map[string]interface{}.
// []byte values are copied because the driver may reuse the buffer.
func scanRows(rows *sql.Rows, dest interface{}) error {
	out, ok := dest.(*[]map[string]interface{})
	if !ok {
		return fmt.Errorf("unsupported destination type: %T", dest)
	}

	columns, err := rows.Columns()
	if err != nil {
		return err
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
			row[col] = values[i]
		}
		results = append(results, row)
	}

	*out = results
	return rows.Err()
}
