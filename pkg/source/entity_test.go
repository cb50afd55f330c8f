package source

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InterNations/DataGridBundle/pkg/cache"
	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/common/adapters/database"
	"github.com/InterNations/DataGridBundle/pkg/grid"
)

func newMockEntity(t *testing.T, opts ...Option) (*Entity, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEntity(database.NewSQLAdapter(db, common.DriverSQLite), "items", opts...), mock
}

func textFilter(t *testing.T, id, value string, opts ...grid.ColumnOption) *grid.Column {
	t.Helper()
	col := grid.NewTextColumn(id, opts...)
	require.NoError(t, col.SetData(grid.StringValue(value)))
	return col
}

func TestEntityBuild(t *testing.T) {
	e := NewEntity(nil, "items", WithRelation("author", Relation{Table: "authors", LocalKey: "author_id", ForeignKey: "id"}))

	id := grid.NewRangeColumn("id", grid.AsPrimary(), grid.WithDefaultOrder(grid.OrderAsc))
	require.NoError(t, id.SetData(grid.MapValue(map[string]string{"from": "2", "to": "9"})))
	status := grid.NewSelectColumn("status", []grid.Option{{Key: "foo"}, {Key: "bar"}}, grid.AsMultiple())
	require.NoError(t, status.SetData(grid.ListValue("foo", "bar")))
	author := grid.NewTextColumn("author.name", grid.WithField("author.name"))
	author.SetOrder(grid.OrderDesc)

	q, err := e.Build([]*grid.Column{id, textFilter(t, "str", "foo"), status, author}, 2, 10)
	require.NoError(t, err)

	assert.Equal(t, []Selection{
		{Expr: "_a.id", As: "id"},
		{Expr: "_a.str", As: "str"},
		{Expr: "_a.status", As: "status"},
		{Expr: "_author.name", As: "author.name"},
	}, q.Selects)
	assert.Equal(t, []Join{{Table: "authors", Alias: "_author", On: "_author.id = _a.author_id"}}, q.Joins)

	where, args := q.Where.SQL()
	assert.Equal(t, `(_a.id >= ?) AND (_a.id <= ?) AND (_a.str LIKE ? ESCAPE '\') AND ((_a.status = ?) OR (_a.status = ?))`, where)
	assert.Equal(t, []interface{}{"2", "9", "%foo%", "foo", "bar"}, args)

	assert.Equal(t, []Sort{{Expr: "_author.name", Order: grid.OrderDesc}}, q.OrderBy)
	assert.Equal(t, 20, q.Offset)
	assert.Equal(t, 10, q.Limit)
}

func TestEntityBuildNestedRelations(t *testing.T) {
	e := NewEntity(nil, "items")
	q, err := e.Build([]*grid.Column{
		grid.NewTextColumn("company", grid.WithField("author.company.name")),
		grid.NewTextColumn("author", grid.WithField("author.name")),
	}, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, []Join{
		{Table: "author", Alias: "_author", On: "_author.id = _a.author_id"},
		{Table: "company", Alias: "_company", On: "_company.id = _author.company_id"},
	}, q.Joins)
	assert.Equal(t, "_company.name", q.Selects[0].Expr)
	assert.Equal(t, "_author.name", q.Selects[1].Expr)
	assert.Zero(t, q.Limit)
	assert.Zero(t, q.Offset)
}

func TestEntityBuildOrder(t *testing.T) {
	sorted := func(id string, order grid.Order) *grid.Column {
		c := grid.NewTextColumn(id)
		c.SetOrder(order)
		return c
	}
	byDefault := func(id string, order grid.Order) *grid.Column {
		return grid.NewTextColumn(id, grid.WithDefaultOrder(order))
	}

	tests := []struct {
		name     string
		columns  []*grid.Column
		expected []Sort
	}{
		{
			name:    "unsorted",
			columns: []*grid.Column{grid.NewTextColumn("a"), grid.NewTextColumn("b")},
		},
		{
			name:     "default sort",
			columns:  []*grid.Column{grid.NewTextColumn("a"), byDefault("b", grid.OrderDesc)},
			expected: []Sort{{Expr: "_a.b", Order: grid.OrderDesc}},
		},
		{
			name:     "first default wins",
			columns:  []*grid.Column{byDefault("a", grid.OrderAsc), byDefault("b", grid.OrderDesc)},
			expected: []Sort{{Expr: "_a.a", Order: grid.OrderAsc}},
		},
		{
			name:     "request sort beats default",
			columns:  []*grid.Column{byDefault("a", grid.OrderAsc), sorted("b", grid.OrderDesc)},
			expected: []Sort{{Expr: "_a.b", Order: grid.OrderDesc}},
		},
		{
			name:     "first request sort wins",
			columns:  []*grid.Column{sorted("a", grid.OrderDesc), sorted("b", grid.OrderAsc), byDefault("c", grid.OrderAsc)},
			expected: []Sort{{Expr: "_a.a", Order: grid.OrderDesc}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewEntity(nil, "items").Build(tt.columns, 0, 20)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, q.OrderBy)
		})
	}
}

func TestEntityExecute(t *testing.T) {
	var hooked Query
	e, mock := newMockEntity(t,
		WithPrepareQuery(func(q Query) Query {
			q.AndWhere(Raw{Query: "_a.hidden = 0"})
			hooked = q
			return q
		}),
		WithPrepareRow(func(row *grid.Row) *grid.Row {
			if row.Field("str") == "skip foo" {
				return nil
			}
			row.SetColor("red")
			return row
		}),
	)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT _a.id AS "id", _a.str AS "str" FROM items AS _a WHERE (_a.str LIKE ? ESCAPE '\') AND (_a.hidden = 0) LIMIT 20 OFFSET 20`)).
		WithArgs("%foo%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "str"}).
			AddRow(int64(1), "foo").
			AddRow(int64(2), "skip foo").
			AddRow(int64(3), "foobar"))

	columns := []*grid.Column{grid.NewRangeColumn("id", grid.AsPrimary()), textFilter(t, "str", "foo")}
	rows, err := e.Execute(context.Background(), columns, 1, 20)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Equal(t, 2, rows.Len())
	assert.Equal(t, int64(1), rows.All()[0].Field("id"))
	assert.Equal(t, "foobar", rows.All()[1].Field("str"))
	assert.Equal(t, "red", rows.All()[1].Color())

	// the hook works on a copy
	assert.Len(t, hooked.Where, 2)
	last, ok := e.LastQuery()
	require.True(t, ok)
	assert.Len(t, last.Where, 1)
}

func TestEntityExecuteError(t *testing.T) {
	e, mock := newMockEntity(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("no such table: items"))

	_, err := e.Execute(context.Background(), []*grid.Column{grid.NewRangeColumn("id")}, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table: items")
}

func TestEntityTotalCount(t *testing.T) {
	ctx := context.Background()
	columns, err := grid.NewColumns(grid.NewRangeColumn("id", grid.AsPrimary()), textFilter(t, "str", "foo"))
	require.NoError(t, err)

	t.Run("before execute", func(t *testing.T) {
		e, _ := newMockEntity(t)
		_, err := e.TotalCount(ctx, columns)
		assert.ErrorIs(t, err, grid.ErrConfiguration)
	})

	t.Run("distinct primary key", func(t *testing.T) {
		e, mock := newMockEntity(t)
		q, err := e.Build(columns.SourceColumns(), 3, 20)
		require.NoError(t, err)
		e.query = &q

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(DISTINCT _a.id) AS "total" FROM items AS _a WHERE _a.str LIKE ? ESCAPE '\'`)).
			WithArgs("%foo%").
			WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(2)))

		total, err := e.TotalCount(ctx, columns)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("grouped query counts through a subquery", func(t *testing.T) {
		e, mock := newMockEntity(t, WithPrepareCountQuery(func(q Query) Query {
			q.GroupBy = []string{"_a.id"}
			return q
		}))
		q, err := e.Build(columns.SourceColumns(), 0, 20)
		require.NoError(t, err)
		e.query = &q

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(__count.id) AS total FROM items AS __count WHERE __count.id IN (SELECT _a.id AS "id" FROM items AS _a WHERE _a.str LIKE ? ESCAPE '\' GROUP BY _a.id)`)).
			WithArgs("%foo%").
			WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow([]byte("7")))

		total, err := e.TotalCount(ctx, columns)
		require.NoError(t, err)
		assert.Equal(t, 7, total)
	})

	t.Run("not an integer", func(t *testing.T) {
		e, mock := newMockEntity(t)
		q, err := e.Build(columns.SourceColumns(), 0, 20)
		require.NoError(t, err)
		e.query = &q

		mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow("many"))
		_, err = e.TotalCount(ctx, columns)
		assert.ErrorIs(t, err, grid.ErrInvalidData)
	})

	t.Run("no primary column", func(t *testing.T) {
		e, _ := newMockEntity(t)
		e.query = &Query{Table: "items", Alias: TableAlias}
		noPrimary, err := grid.NewColumns(grid.NewTextColumn("str"))
		require.NoError(t, err)
		_, err = e.TotalCount(ctx, noPrimary)
		assert.ErrorIs(t, err, grid.ErrConfiguration)
	})
}

func TestSingleInt(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected int
		wantErr  bool
	}{
		{name: "int64", value: int64(31), expected: 31},
		{name: "int32", value: int32(4), expected: 4},
		{name: "int", value: 9, expected: 9},
		{name: "whole float", value: float64(12), expected: 12},
		{name: "numeric text", value: "15", expected: 15},
		{name: "bytes", value: []byte("16"), expected: 16},
		{name: "fraction", value: 1.5, wantErr: true},
		{name: "nil", value: nil, wantErr: true},
		{name: "text", value: "many", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := singleInt([]map[string]interface{}{{"total": tt.value}}, "total")
			if tt.wantErr {
				assert.ErrorIs(t, err, grid.ErrInvalidData)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, n)
		})
	}

	_, err := singleInt(nil, "total")
	assert.ErrorIs(t, err, grid.ErrInvalidData)
}

func expectExists(mock sqlmock.Sqlmock, id string, n int64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS total FROM items WHERE id = ?")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(n))
}

func TestEntityDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes existing rows", func(t *testing.T) {
		e, mock := newMockEntity(t)
		mock.ExpectBegin()
		expectExists(mock, "1", 1)
		expectExists(mock, "2", 1)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM items WHERE id IN (?, ?)")).
			WithArgs("1", "2").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		require.NoError(t, e.Delete(ctx, []string{"1", "2"}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing id aborts the batch", func(t *testing.T) {
		e, mock := newMockEntity(t)
		mock.ExpectBegin()
		expectExists(mock, "1", 1)
		expectExists(mock, "9", 0)
		mock.ExpectRollback()

		err := e.Delete(ctx, []string{"1", "9", "2"})
		assert.ErrorIs(t, err, grid.ErrNotFound)
		assert.Contains(t, err.Error(), "No items found for id 9")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("custom primary key", func(t *testing.T) {
		e, mock := newMockEntity(t, WithPrimaryKey("uuid"))
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS total FROM items WHERE uuid = ?")).
			WithArgs("a").
			WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(1)))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM items WHERE uuid IN (?)")).
			WithArgs("a").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, e.Delete(ctx, []string{"a"}))
	})

	t.Run("nothing to delete", func(t *testing.T) {
		e, mock := newMockEntity(t)
		require.NoError(t, e.Delete(ctx, nil))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEntityTotalCache(t *testing.T) {
	ctx := context.Background()
	totals := cache.NewCache(cache.NewMemoryProvider(nil))
	e, mock := newMockEntity(t, WithTotalCache(totals, time.Minute))

	columns, err := grid.NewColumns(grid.NewRangeColumn("id", grid.AsPrimary()))
	require.NoError(t, err)
	q, err := e.Build(columns.SourceColumns(), 0, 20)
	require.NoError(t, err)
	e.query = &q

	count := regexp.QuoteMeta(`SELECT COUNT(DISTINCT _a.id) AS "total" FROM items AS _a`)
	mock.ExpectQuery(count).WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(31)))

	for i := 0; i < 2; i++ {
		total, err := e.TotalCount(ctx, columns)
		require.NoError(t, err)
		assert.Equal(t, 31, total)
	}
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin()
	expectExists(mock, "1", 1)
	mock.ExpectExec("DELETE FROM items").WithArgs("1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, e.Delete(ctx, []string{"1"}))

	mock.ExpectQuery(count).WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(30)))
	total, err := e.TotalCount(ctx, columns)
	require.NoError(t, err)
	assert.Equal(t, 30, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityInitialiseAndColumns(t *testing.T) {
	assert.ErrorIs(t, NewEntity(nil, "items").Initialise(context.Background()), grid.ErrConfiguration)

	e, _ := newMockEntity(t, WithColumns(func() []*grid.Column {
		return []*grid.Column{grid.NewRangeColumn("id", grid.AsPrimary()), grid.NewTextColumn("str")}
	}))
	require.NoError(t, e.Initialise(context.Background()))
	assert.Equal(t, "items", e.Hash())

	first, second := &grid.Columns{}, &grid.Columns{}
	require.NoError(t, e.ProvideColumns(first))
	require.NoError(t, e.ProvideColumns(second))
	assert.Equal(t, 2, first.Len())
	assert.NotSame(t, first.All()[0], second.All()[0])
}
