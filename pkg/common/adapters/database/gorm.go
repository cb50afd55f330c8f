package database

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/logger"
)

// GormAdapter adapts GORM to the Database interface
type GormAdapter struct {
	db   *gorm.DB
	inTx bool
}

func NewGormAdapter(db *gorm.DB) *GormAdapter {
	return &GormAdapter{db: db}
}

// EnableQueryDebug switches GORM into debug mode, logging every statement
func (g *GormAdapter) EnableQueryDebug() *GormAdapter {
	g.db = g.db.Debug()
	logger.Info("GORM query debug mode enabled")
	return g
}

func (g *GormAdapter) NewSelect() common.SelectQuery {
	return &GormSelectQuery{db: g.db}
}

func (g *GormAdapter) NewDelete() common.DeleteQuery {
	return newDeleteQuery("GormDeleteQuery", g.Exec)
}

func (g *GormAdapter) Exec(ctx context.Context, query string, args ...interface{}) (res common.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("GormAdapter.Exec", r)
		}
	}()
	result := g.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return nil, result.Error
	}
	return &GormResult{rowsAffected: result.RowsAffected}, nil
}

func (g *GormAdapter) Query(ctx context.Context, dest interface{}, query string, args ...interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("GormAdapter.Query", r)
		}
	}()
	return g.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error
}

func (g *GormAdapter) RunInTransaction(ctx context.Context, fn func(common.Database) error) (err error) {
	if g.inTx {
		return fn(g)
	}
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("GormAdapter.RunInTransaction", r)
		}
	}()
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormAdapter{db: tx, inTx: true})
	})
}

func (g *GormAdapter) GetUnderlyingDB() interface{} {
	return g.db
}

func (g *GormAdapter) DriverName() string {
	switch name := g.db.Dialector.Name(); name {
	case "sqlserver":
		return common.DriverMSSQL
	default:
		return name
	}
}

type exprArgs struct {
	sql  string
	args []interface{}
}

// GormSelectQuery collects the clauses and builds the GORM chain on Scan,
// because GORM takes all selected columns in a single Select call.
type GormSelectQuery struct {
	db         *gorm.DB
	table      string
	columns    []string
	columnArgs []interface{}
	joins      []exprArgs
	wheres     []exprArgs
	orders     []exprArgs
	groups     []string
	havings    []exprArgs
	limit      int
	offset     int
}

func (g *GormSelectQuery) Table(table string) common.SelectQuery {
	g.table = table
	return g
}

func (g *GormSelectQuery) ColumnExpr(query string, args ...interface{}) common.SelectQuery {
	g.columns = append(g.columns, query)
	g.columnArgs = append(g.columnArgs, args...)
	return g
}

func (g *GormSelectQuery) LeftJoin(query string, args ...interface{}) common.SelectQuery {
	g.joins = append(g.joins, exprArgs{sql: "LEFT JOIN " + query, args: args})
	return g
}

func (g *GormSelectQuery) Where(query string, args ...interface{}) common.SelectQuery {
	g.wheres = append(g.wheres, exprArgs{sql: query, args: args})
	return g
}

func (g *GormSelectQuery) OrderExpr(o string, args ...interface{}) common.SelectQuery {
	g.orders = append(g.orders, exprArgs{sql: o, args: args})
	return g
}

func (g *GormSelectQuery) Group(group string) common.SelectQuery {
	g.groups = append(g.groups, group)
	return g
}

func (g *GormSelectQuery) Having(having string, args ...interface{}) common.SelectQuery {
	g.havings = append(g.havings, exprArgs{sql: having, args: args})
	return g
}

func (g *GormSelectQuery) Limit(n int) common.SelectQuery {
	g.limit = n
	return g
}

func (g *GormSelectQuery) Offset(n int) common.SelectQuery {
	g.offset = n
	return g
}

func (g *GormSelectQuery) build(ctx context.Context) *gorm.DB {
	tx := g.db.WithContext(ctx).Table(g.table)
	if len(g.columns) > 0 {
		tx = tx.Select(strings.Join(g.columns, ", "), g.columnArgs...)
	}
	for _, j := range g.joins {
		tx = tx.Joins(j.sql, j.args...)
	}
	for _, w := range g.wheres {
		tx = tx.Where(w.sql, w.args...)
	}
	for _, grp := range g.groups {
		tx = tx.Group(grp)
	}
	for _, h := range g.havings {
		tx = tx.Having(h.sql, h.args...)
	}
	for _, o := range g.orders {
		if len(o.args) == 0 {
			tx = tx.Order(o.sql)
			continue
		}
		tx = tx.Order(clause.OrderBy{Expression: clause.Expr{SQL: o.sql, Vars: o.args, WithoutParentheses: true}})
	}
	if g.limit > 0 {
		tx = tx.Limit(g.limit)
	}
	if g.offset > 0 {
		tx = tx.Offset(g.offset)
	}
	return tx
}

func (g *GormSelectQuery) Scan(ctx context.Context, dest interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("GormSelectQuery.Scan", r)
		}
	}()
	res := g.build(ctx).Scan(dest)
	if res.Error != nil {
		logger.Error("GormSelectQuery.Scan failed. SQL: %s. Error: %v", res.Statement.SQL.String(), res.Error)
	}
	return res.Error
}

type GormResult struct {
	rowsAffected int64
}

func (g *GormResult) RowsAffected() int64 {
	return g.rowsAffected
}
