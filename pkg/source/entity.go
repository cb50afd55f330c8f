package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/InterNations/DataGridBundle/pkg/cache"
	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/grid"
	"github.com/InterNations/DataGridBundle/pkg/logger"
	"github.com/InterNations/DataGridBundle/pkg/metrics"
	"github.com/InterNations/DataGridBundle/pkg/tracing"
)

const (
	// TableAlias is the alias of the entity table in row queries
	TableAlias = "_a"
	// CountAlias is the alias of the entity table in grouped count queries
	CountAlias = "__count"
)

// QueryHook receives a copy of the built query and returns the one to run
type QueryHook func(q Query) Query

// RowHook may modify a row; returning nil drops it
type RowHook func(row *grid.Row) *grid.Row

// Relation describes how a dotted field segment joins its parent.
// Unregistered segments join table <segment> on <parent>.<segment>_id = id.
type Relation struct {
	Table      string
	LocalKey   string
	ForeignKey string
}

// Entity is a grid source over one table of a common.Database
type Entity struct {
	db         common.Database
	table      string
	primaryKey string
	relations  map[string]Relation
	columns    func() []*grid.Column

	prepareQuery      QueryHook
	prepareCountQuery QueryHook
	prepareRow        RowHook

	totals    *cache.Cache
	totalsTTL time.Duration

	query *Query
}

type Option func(*Entity)

// WithPrimaryKey names the key column used by Delete. Defaults to "id".
func WithPrimaryKey(column string) Option {
	return func(e *Entity) { e.primaryKey = column }
}

func WithRelation(segment string, rel Relation) Option {
	return func(e *Entity) { e.relations[segment] = rel }
}

// WithColumns registers a column factory. It is called on every bind so
// each grid works on its own column values.
func WithColumns(build func() []*grid.Column) Option {
	return func(e *Entity) { e.columns = build }
}

func WithPrepareQuery(hook QueryHook) Option {
	return func(e *Entity) { e.prepareQuery = hook }
}

func WithPrepareCountQuery(hook QueryHook) Option {
	return func(e *Entity) { e.prepareCountQuery = hook }
}

func WithPrepareRow(hook RowHook) Option {
	return func(e *Entity) { e.prepareRow = hook }
}

// WithTotalCache serves total counts from c. Delete drops the table's
// cached totals.
func WithTotalCache(c *cache.Cache, ttl time.Duration) Option {
	return func(e *Entity) {
		e.totals = c
		e.totalsTTL = ttl
	}
}

func NewEntity(db common.Database, table string, opts ...Option) *Entity {
	e := &Entity{
		db:         db,
		table:      table,
		primaryKey: "id",
		relations:  map[string]Relation{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialise checks that the entity can be queried
func (e *Entity) Initialise(context.Context) error {
	if e.db == nil {
		return grid.NewError(grid.ErrConfiguration, "Entity.Initialise", fmt.Errorf("entity %s has no database", e.table))
	}
	if e.table == "" {
		return grid.NewError(grid.ErrConfiguration, "Entity.Initialise", fmt.Errorf("entity without table"))
	}
	return nil
}

func (e *Entity) ProvideColumns(columns *grid.Columns) error {
	if e.columns == nil {
		return nil
	}
	for _, col := range e.columns() {
		if err := columns.Add(col); err != nil {
			return err
		}
	}
	return nil
}

func (e *Entity) Hash() string { return e.table }

func (e *Entity) Table() string { return e.table }

// LastQuery returns a copy of the query built by the last Execute
func (e *Entity) LastQuery() (Query, bool) {
	if e.query == nil {
		return Query{}, false
	}
	return e.query.Clone(), true
}

// field resolves a column's field to an aliased expression, adding the
// joins its dotted path needs to q
func (e *Entity) field(q *Query, field string) string {
	segments := strings.Split(field, ".")
	if len(segments) == 1 {
		return TableAlias + "." + field
	}

	parent := TableAlias
	for _, seg := range segments[:len(segments)-1] {
		alias := "_" + seg
		if !q.hasJoin(alias) {
			rel, ok := e.relations[seg]
			if !ok {
				rel = Relation{Table: seg, LocalKey: seg + "_id", ForeignKey: "id"}
			}
			q.Joins = append(q.Joins, Join{
				Table: rel.Table,
				Alias: alias,
				On:    fmt.Sprintf("%s.%s = %s.%s", alias, rel.ForeignKey, parent, rel.LocalKey),
			})
		}
		parent = alias
	}
	return parent + "." + segments[len(segments)-1]
}

// Build creates the row query for columns without running it
func (e *Entity) Build(columns []*grid.Column, page, limit int) (Query, error) {
	q := Query{Table: e.table, Alias: TableAlias}

	explicit := false
	for _, col := range columns {
		field := e.field(&q, col.Field())
		q.Selects = append(q.Selects, Selection{Expr: field, As: col.ID()})

		switch {
		case col.IsSorted() && !col.IsDefaultSort() && !explicit:
			q.OrderBy = []Sort{{Expr: field, Order: col.Order()}}
			explicit = true
		case col.IsSorted() && col.IsDefaultSort() && !explicit && len(q.OrderBy) == 0:
			q.OrderBy = []Sort{{Expr: field, Order: col.Order()}}
		}

		if !col.IsFiltered() {
			continue
		}
		preds := make([]Expr, 0, len(col.Filters()))
		for _, f := range col.Filters() {
			pred, err := Predicate(field, f)
			if err != nil {
				return Query{}, err
			}
			preds = append(preds, pred)
		}
		if col.FiltersConnection() == grid.Disjunction {
			q.AndWhere(Or(preds))
			continue
		}
		for _, pred := range preds {
			q.AndWhere(pred)
		}
	}

	if page > 0 {
		q.Offset = page * limit
	}
	if limit > 0 {
		q.Limit = limit
	}
	return q, nil
}

// Execute builds and runs the row query. Result keys named after a
// column's field are copied to the column id.
func (e *Entity) Execute(ctx context.Context, columns []*grid.Column, page, limit int) (rows *grid.Rows, err error) {
	ctx, span := tracing.StartSpan(ctx, "grid.source.execute",
		attribute.String("db.table", e.table),
		attribute.Int("grid.page", page),
		attribute.Int("grid.limit", limit),
	)
	start := time.Now()
	defer func() {
		metrics.GetProvider().RecordDBQuery("execute", e.table, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	q, err := e.Build(columns, page, limit)
	if err != nil {
		return nil, err
	}
	e.query = &q

	run := q.Clone()
	if e.prepareQuery != nil {
		run = e.prepareQuery(run)
	}

	var items []map[string]interface{}
	if err = run.Apply(e.db.NewSelect()).Scan(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", e.table, err)
	}

	rows = grid.NewRows()
	for _, item := range items {
		row := grid.NewRow()
		for k, v := range item {
			row.SetField(k, v)
		}
		for _, col := range columns {
			if v, ok := item[col.Field()]; ok && v != nil {
				row.SetField(col.ID(), v)
			}
		}
		if e.prepareRow != nil {
			if row = e.prepareRow(row); row == nil {
				continue
			}
		}
		rows.Add(row)
	}
	return rows, nil
}

// CountSQL derives the count statement from the last executed query
func (e *Entity) CountSQL(columns *grid.Columns) (string, []interface{}, error) {
	if e.query == nil {
		return "", nil, grid.NewError(grid.ErrConfiguration, "Entity.TotalCount", fmt.Errorf("no query executed on %s", e.table))
	}
	primary, err := columns.Primary()
	if err != nil {
		return "", nil, err
	}

	q := e.query.Clone()
	if e.prepareCountQuery != nil {
		q = e.prepareCountQuery(q)
	}
	q.OrderBy = nil
	q.Limit = 0
	q.Offset = 0

	pk := e.field(&q, primary.Field())
	if len(q.GroupBy) == 0 {
		q.Selects = []Selection{{Expr: "COUNT(DISTINCT " + pk + ")", As: "total"}}
		query, args := q.SQL()
		return query, args, nil
	}

	q.Selects = []Selection{{Expr: pk, As: primary.ID()}}
	inner, args := q.SQL()
	key := CountAlias + "." + primary.Field()
	query := fmt.Sprintf("SELECT COUNT(%s) AS total FROM %s AS %s WHERE %s IN (%s)", key, e.table, CountAlias, key, inner)
	return query, args, nil
}

// TotalCount counts the rows matching the last executed query, ignoring
// its order and page
func (e *Entity) TotalCount(ctx context.Context, columns *grid.Columns) (total int, err error) {
	ctx, span := tracing.StartSpan(ctx, "grid.source.count", attribute.String("db.table", e.table))
	start := time.Now()
	defer func() {
		metrics.GetProvider().RecordDBQuery("count", e.table, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	query, args, err := e.CountSQL(columns)
	if err != nil {
		return 0, err
	}

	var key string
	if e.totals != nil {
		key = cache.TotalCountKey{Table: e.table, SQL: query, Args: args}.Key()
		var cached cache.CachedTotal
		if err := e.totals.Get(ctx, key, &cached); err == nil {
			metrics.GetProvider().RecordCacheHit("grid_total")
			logger.Debug("Total count cache hit for %s: %d", e.table, cached.Total)
			return cached.Total, nil
		}
		metrics.GetProvider().RecordCacheMiss("grid_total")
		logger.Debug("Total count cache miss for %s", e.table)
	}

	var result []map[string]interface{}
	if err = e.db.Query(ctx, &result, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", e.table, err)
	}
	if total, err = singleInt(result, "total"); err != nil {
		return 0, err
	}

	if e.totals != nil {
		if err := e.totals.SetWithTags(ctx, key, cache.CachedTotal{Total: total}, e.totalsTTL, []string{cache.TableTag(e.table)}); err != nil {
			logger.Warn("Failed to cache total count for %s: %v", e.table, err)
		}
	}
	return total, nil
}

// Delete removes the rows with the given primary keys. Every key has to
// exist, otherwise nothing is deleted.
func (e *Entity) Delete(ctx context.Context, ids []string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "grid.source.delete",
		attribute.String("db.table", e.table),
		attribute.Int("grid.delete.count", len(ids)),
	)
	start := time.Now()
	defer func() {
		metrics.GetProvider().RecordDBQuery("delete", e.table, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	if len(ids) == 0 {
		return nil
	}

	err = e.db.RunInTransaction(ctx, func(tx common.Database) error {
		exists := fmt.Sprintf("SELECT COUNT(*) AS total FROM %s WHERE %s = ?", e.table, e.primaryKey)
		for _, id := range ids {
			var result []map[string]interface{}
			if err := tx.Query(ctx, &result, exists, id); err != nil {
				return fmt.Errorf("failed to look up %s %s: %w", e.table, id, err)
			}
			n, err := singleInt(result, "total")
			if err != nil {
				return err
			}
			if n == 0 {
				return grid.NewError(grid.ErrNotFound, "Entity.Delete", fmt.Errorf("No %s found for id %s", e.table, id))
			}
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
		args := make([]interface{}, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		res, err := tx.NewDelete().
			Table(e.table).
			Where(fmt.Sprintf("%s IN (%s)", e.primaryKey, placeholders), args...).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete from %s: %w", e.table, err)
		}
		logger.Info("Deleted %d rows from %s", res.RowsAffected(), e.table)
		return nil
	})
	if err != nil {
		return err
	}

	if e.totals != nil {
		if err := e.totals.DeleteByTag(ctx, cache.TableTag(e.table)); err != nil {
			logger.Warn("Failed to invalidate cached totals for %s: %v", e.table, err)
		}
	}
	return nil
}

// singleInt reads an integer column from a one-row result. Drivers return
// counts as int64, as numeric text or as []byte.
func singleInt(result []map[string]interface{}, column string) (int, error) {
	if len(result) != 1 {
		return 0, grid.NewError(grid.ErrInvalidData, "Entity.TotalCount", fmt.Errorf("count returned %d rows", len(result)))
	}
	switch v := result[0][column].(type) {
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case int:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int(v), nil
		}
	case []byte:
		if n, err := strconv.Atoi(strings.TrimSpace(string(v))); err == nil {
			return n, nil
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, nil
		}
	}
	return 0, grid.NewError(grid.ErrInvalidData, "Entity.TotalCount",
		fmt.Errorf("count %v (%T) is not an integer", result[0][column], result[0][column]))
}
