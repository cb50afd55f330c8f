package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/logger"
)

// QueryDebugHook logs every SQL statement Bun runs
type QueryDebugHook struct{}

func (h *QueryDebugHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryDebugHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	if event.Err != nil && event.Err != sql.ErrNoRows {
		logger.Error("SQL Query Failed [%s]: %s. Error: %v", duration, event.Query, event.Err)
		return
	}
	logger.Debug("SQL Query Success [%s]: %s", duration, event.Query)
}

// BunAdapter adapts Bun to the Database interface. The same type serves
// the pool and an open transaction.
type BunAdapter struct {
	db   bun.IDB
	inTx bool
}

func NewBunAdapter(db *bun.DB) *BunAdapter {
	return &BunAdapter{db: db}
}

// EnableQueryDebug logs all SQL. Only available on the pool.
func (b *BunAdapter) EnableQueryDebug() {
	if db, ok := b.db.(*bun.DB); ok {
		db.AddQueryHook(&QueryDebugHook{})
		logger.Info("Bun query debug mode enabled")
	}
}

func (b *BunAdapter) NewSelect() common.SelectQuery {
	return &BunSelectQuery{query: b.db.NewSelect()}
}

func (b *BunAdapter) NewDelete() common.DeleteQuery {
	return newDeleteQuery("BunDeleteQuery", b.Exec)
}

func (b *BunAdapter) Exec(ctx context.Context, query string, args ...interface{}) (res common.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("BunAdapter.Exec", r)
		}
	}()
	result, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlResult{rowsAffected: result.RowsAffected}, nil
}

func (b *BunAdapter) Query(ctx context.Context, dest interface{}, query string, args ...interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("BunAdapter.Query", r)
		}
	}()
	return b.db.NewRaw(query, args...).Scan(ctx, dest)
}

func (b *BunAdapter) RunInTransaction(ctx context.Context, fn func(common.Database) error) (err error) {
	if b.inTx {
		return fn(b)
	}
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("BunAdapter.RunInTransaction", r)
		}
	}()
	return b.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(&BunAdapter{db: tx, inTx: true})
	})
}

func (b *BunAdapter) GetUnderlyingDB() interface{} {
	return b.db
}

func (b *BunAdapter) DriverName() string {
	name := b.db.Dialect().Name().String()
	if name == "pg" {
		return common.DriverPostgres
	}
	return name
}

// BunSelectQuery wraps bun.SelectQuery. Table goes through TableExpr so an
// aliased expression like "items AS _a" is not quoted as one identifier.
type BunSelectQuery struct {
	query *bun.SelectQuery
}

func (b *BunSelectQuery) Table(table string) common.SelectQuery {
	b.query = b.query.TableExpr(table)
	return b
}

func (b *BunSelectQuery) ColumnExpr(query string, args ...interface{}) common.SelectQuery {
	b.query = b.query.ColumnExpr(query, args...)
	return b
}

func (b *BunSelectQuery) LeftJoin(query string, args ...interface{}) common.SelectQuery {
	b.query = b.query.Join("LEFT JOIN "+query, args...)
	return b
}

func (b *BunSelectQuery) Where(query string, args ...interface{}) common.SelectQuery {
	b.query = b.query.Where(query, args...)
	return b
}

func (b *BunSelectQuery) OrderExpr(order string, args ...interface{}) common.SelectQuery {
	b.query = b.query.OrderExpr(order, args...)
	return b
}

func (b *BunSelectQuery) Group(group string) common.SelectQuery {
	b.query = b.query.GroupExpr(group)
	return b
}

func (b *BunSelectQuery) Having(having string, args ...interface{}) common.SelectQuery {
	b.query = b.query.Having(having, args...)
	return b
}

func (b *BunSelectQuery) Limit(n int) common.SelectQuery {
	b.query = b.query.Limit(n)
	return b
}

func (b *BunSelectQuery) Offset(n int) common.SelectQuery {
	b.query = b.query.Offset(n)
	return b
}

func (b *BunSelectQuery) Scan(ctx context.Context, dest interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic("BunSelectQuery.Scan", r)
		}
	}()
	if err = b.query.Scan(ctx, dest); err != nil {
		logger.Error("BunSelectQuery.Scan failed. SQL: %s. Error: %v", b.query.String(), err)
	}
	return err
}
