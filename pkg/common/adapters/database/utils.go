package database

import (
	"database/sql"

	"github.com/glebarez/sqlite"
	"github.com/uptrace/bun/dialect/mssqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
)

// GetPostgresDialect returns a Bun PostgreSQL dialect
func GetPostgresDialect() *pgdialect.Dialect {
	return pgdialect.New()
}

// GetSQLiteDialect returns a Bun SQLite dialect
func GetSQLiteDialect() *sqlitedialect.Dialect {
	return sqlitedialect.New()
}

// GetMSSQLDialect returns a Bun MSSQL dialect
func GetMSSQLDialect() *mssqldialect.Dialect {
	return mssqldialect.New()
}

// GetPostgresDialector returns a GORM PostgreSQL dialector
func GetPostgresDialector(db *sql.DB) gorm.Dialector {
	return postgres.New(postgres.Config{
		Conn: db,
	})
}

// GetSQLiteDialector returns a GORM SQLite dialector over the pure Go driver
func GetSQLiteDialector(db *sql.DB) gorm.Dialector {
	return sqlite.Dialector{
		Conn: db,
	}
}

// GetMSSQLDialector returns a GORM MSSQL dialector
func GetMSSQLDialector(db *sql.DB) gorm.Dialector {
	return sqlserver.New(sqlserver.Config{
		Conn: db,
	})
}
