package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/logger"
)

type execFunc func(ctx context.Context, query string, args ...interface{}) (common.Result, error)

// sqlDeleteQuery renders a DELETE statement and hands it to the adapter's
// Exec, so every adapter shares the same placeholder handling.
type sqlDeleteQuery struct {
	exec   execFunc
	label  string
	table  string
	wheres []string
	args   []interface{}
}

func newDeleteQuery(label string, exec execFunc) *sqlDeleteQuery {
	return &sqlDeleteQuery{exec: exec, label: label}
}

func (d *sqlDeleteQuery) Table(table string) common.DeleteQuery {
	d.table = table
	return d
}

func (d *sqlDeleteQuery) Where(query string, args ...interface{}) common.DeleteQuery {
	d.wheres = append(d.wheres, query)
	d.args = append(d.args, args...)
	return d
}

func (d *sqlDeleteQuery) String() string {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(d.table)
	if len(d.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(d.wheres, " AND "))
	}
	return sb.String()
}

func (d *sqlDeleteQuery) Exec(ctx context.Context) (res common.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = logger.HandlePanic(d.label+".Exec", r)
		}
	}()
	if d.table == "" {
		return nil, fmt.Errorf("delete without table")
	}
	if len(d.wheres) == 0 {
		return nil, fmt.Errorf("refusing to delete from %s without a WHERE clause", d.table)
	}

	query := d.String()
	res, err = d.exec(ctx, query, d.args...)
	if err != nil {
		logger.Error("%s.Exec failed. SQL: %s. Error: %v", d.label, query, err)
	}
	return res, err
}

// sqlResult adapts database/sql results, which Bun also returns
type sqlResult struct {
	rowsAffected func() (int64, error)
}

func (r *sqlResult) RowsAffected() int64 {
	if r == nil || r.rowsAffected == nil {
		return 0
	}
	n, _ := r.rowsAffected()
	return n
}
