package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InterNations/DataGridBundle/pkg/common"
)

func TestNewPgSQLAdapter(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewPgSQLAdapter(db)
	assert.Equal(t, db, adapter.db)
	assert.Equal(t, common.DriverPostgres, adapter.DriverName())
}

func TestPgSQLSelectQuery_BuildSQL(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(common.SelectQuery)
		expected string
		args     []interface{}
	}{
		{
			name:     "simple select",
			setup:    func(q common.SelectQuery) { q.Table("items AS _a") },
			expected: "SELECT * FROM items AS _a",
			args:     []interface{}{},
		},
		{
			name: "columns and join",
			setup: func(q common.SelectQuery) {
				q.Table("items AS _a").
					ColumnExpr("_a.id AS id").
					ColumnExpr("_category.name AS \"category.name\"").
					LeftJoin("categories AS _category ON _category.id = _a.category_id")
			},
			expected: `SELECT _a.id AS id, _category.name AS "category.name" FROM items AS _a LEFT JOIN categories AS _category ON _category.id = _a.category_id`,
			args:     []interface{}{},
		},
		{
			name: "args follow clause order, not call order",
			setup: func(q common.SelectQuery) {
				q.Table("items AS _a").
					Having("COUNT(*) > ?", 1).
					Where("_a.str LIKE ?", "%foo%").
					Group("_a.id").
					OrderExpr("_a.id DESC").
					Limit(20).
					Offset(40)
			},
			expected: "SELECT * FROM items AS _a WHERE _a.str LIKE ? GROUP BY _a.id HAVING COUNT(*) > ? ORDER BY _a.id DESC LIMIT 20 OFFSET 40",
			args:     []interface{}{"%foo%", 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &PgSQLSelectQuery{adapter: &PgSQLAdapter{name: common.DriverPostgres}}
			tt.setup(q)
			sql, args := q.buildSQL()
			assert.Equal(t, tt.expected, sql)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestReplacePlaceholders(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"SELECT 1", "SELECT 1"},
		{"a = ? AND b IN (?, ?)", "a = $1 AND b IN ($2, $3)"},
		{"a = '?' AND b = ?", "a = '?' AND b = $1"},
		{`"we?rd" = ?`, `"we?rd" = $1`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.out, replacePlaceholders(tt.in))
	}
}

func TestPgSQLSelectQuery_Scan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "str"}).
		AddRow(int64(1), []byte("foo")).
		AddRow(int64(2), "bar")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT _a.id AS id, _a.str AS str FROM items AS _a WHERE _a.str LIKE $1 LIMIT 2")).
		WithArgs("%o%").
		WillReturnRows(rows)

	var out []map[string]interface{}
	err = NewPgSQLAdapter(db).NewSelect().
		Table("items AS _a").
		ColumnExpr("_a.id AS id").
		ColumnExpr("_a.str AS str").
		Where("_a.str LIKE ?", "%o%").
		Limit(2).
		Scan(context.Background(), &out)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0]["id"])
	assert.Equal(t, []byte("foo"), out[0]["str"])
	assert.Equal(t, "bar", out[1]["str"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSQLSelectQuery_ScanRejectsStructs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	var out []struct{ ID int }
	err = NewPgSQLAdapter(db).NewSelect().Table("items").Scan(context.Background(), &out)
	assert.Error(t, err)
}

func TestSQLAdapterKeepsQuestionMarks(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE items SET str = ? WHERE id = ?")).
		WithArgs("x", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	adapter := NewSQLAdapter(db, common.DriverSQLite)
	res, err := adapter.Exec(context.Background(), "UPDATE items SET str = ? WHERE id = ?", "x", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected())
	assert.Equal(t, common.DriverSQLite, adapter.DriverName())
}

func TestPgSQLDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM items WHERE id IN ($1, $2)")).
		WithArgs(1, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))

	res, err := NewPgSQLAdapter(db).NewDelete().
		Table("items").
		Where("id IN (?, ?)", 1, 2).
		Exec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsAffected())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRequiresWhere(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewPgSQLAdapter(db).NewDelete().Table("items").Exec(context.Background())
	assert.Error(t, err)

	_, err = NewPgSQLAdapter(db).NewDelete().Where("id = ?", 1).Exec(context.Background())
	assert.Error(t, err)
}

func TestPgSQLRunInTransaction(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM items").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = NewPgSQLAdapter(db).RunInTransaction(context.Background(), func(tx common.Database) error {
			_, err := tx.NewDelete().Table("items").Where("id = ?", 1).Exec(context.Background())
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err = NewPgSQLAdapter(db).RunInTransaction(context.Background(), func(tx common.Database) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested call reuses the transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectCommit()

		err = NewPgSQLAdapter(db).RunInTransaction(context.Background(), func(tx common.Database) error {
			return tx.RunInTransaction(context.Background(), func(inner common.Database) error {
				assert.Same(t, tx, inner)
				return nil
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
