// Package store opens the database a grid source reads from and wraps it
// in the adapter of the configured query layer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"     // registers the pure Go "sqlite" driver
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/common/adapters/database"
	"github.com/InterNations/DataGridBundle/pkg/config"
	"github.com/InterNations/DataGridBundle/pkg/logger"
)

const (
	ORMBun  = "bun"
	ORMGorm = "gorm"
	ORMSQL  = "sql"
)

// sqlDriverNames maps the configured driver to the database/sql driver
var sqlDriverNames = map[string]string{
	common.DriverPostgres: "pgx",
	common.DriverSQLite:   "sqlite",
	common.DriverMSSQL:    "sqlserver",
}

// Validate checks the database configuration
func Validate(cfg config.DatabaseConfig) error {
	if _, ok := sqlDriverNames[cfg.Driver]; !ok {
		return NewConfigurationError("driver", fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver))
	}
	switch cfg.ORM {
	case ORMBun, ORMGorm, ORMSQL:
	default:
		return NewConfigurationError("orm", fmt.Errorf("%w: %q", ErrUnsupportedORM, cfg.ORM))
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return NewConfigurationError("dsn", fmt.Errorf("dsn is required"))
	}
	return nil
}

// Open connects to the configured database. The returned closer releases
// the connection pool.
func Open(ctx context.Context, cfg config.DatabaseConfig) (common.Database, io.Closer, error) {
	if err := Validate(cfg); err != nil {
		return nil, nil, err
	}

	native, err := connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	db, err := Wrap(native, cfg)
	if err != nil {
		native.Close()
		return nil, nil, err
	}

	logger.Info("Database connection established: driver=%s, orm=%s", cfg.Driver, cfg.ORM)
	return db, native, nil
}

// Wrap puts an open pool behind the adapter of cfg.ORM
func Wrap(native *sql.DB, cfg config.DatabaseConfig) (common.Database, error) {
	switch cfg.ORM {
	case ORMBun:
		adapter := database.NewBunAdapter(bun.NewDB(native, bunDialect(cfg.Driver)))
		if cfg.Debug {
			adapter.EnableQueryDebug()
		}
		return adapter, nil

	case ORMGorm:
		gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
		gdb, err := gorm.Open(gormDialector(cfg.Driver, native), gcfg)
		if err != nil {
			return nil, NewConnectionError(cfg.Driver, "initialize gorm", err)
		}
		adapter := database.NewGormAdapter(gdb)
		if cfg.Debug {
			adapter.EnableQueryDebug()
		}
		return adapter, nil

	case ORMSQL:
		if cfg.Driver == common.DriverPostgres {
			return database.NewPgSQLAdapter(native), nil
		}
		return database.NewSQLAdapter(native, cfg.Driver), nil
	}
	return nil, NewConfigurationError("orm", fmt.Errorf("%w: %q", ErrUnsupportedORM, cfg.ORM))
}

func connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt, cfg.RetryDelay, 10*time.Second)
			logger.Info("Retrying %s connection: attempt=%d/%d, delay=%v", cfg.Driver, attempt+1, attempts, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		db, err := sql.Open(sqlDriverNames[cfg.Driver], cfg.DSN)
		if err != nil {
			lastErr = err
			continue
		}
		configurePool(db, cfg)

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			lastErr = err
			db.Close()
			logger.Warn("Failed to ping %s database: %v", cfg.Driver, err)
			continue
		}

		if cfg.Driver == common.DriverSQLite {
			prepareSQLite(ctx, db, cfg.DSN)
		}
		return db, nil
	}
	return nil, NewConnectionError(cfg.Driver, "connect", fmt.Errorf("after %d attempts: %w", attempts, lastErr))
}

func configurePool(db *sql.DB, cfg config.DatabaseConfig) {
	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == common.DriverSQLite && isMemoryDSN(cfg.DSN) {
		// every connection to :memory: is a separate database
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

func prepareSQLite(ctx context.Context, db *sql.DB, dsn string) {
	if isMemoryDSN(dsn) {
		return
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		logger.Warn("Failed to enable WAL mode for SQLite: %v", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		logger.Warn("Failed to set busy timeout for SQLite: %v", err)
	}
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func bunDialect(driver string) schema.Dialect {
	switch driver {
	case common.DriverSQLite:
		return database.GetSQLiteDialect()
	case common.DriverMSSQL:
		return database.GetMSSQLDialect()
	default:
		return database.GetPostgresDialect()
	}
}

func gormDialector(driver string, db *sql.DB) gorm.Dialector {
	switch driver {
	case common.DriverSQLite:
		return database.GetSQLiteDialector(db)
	case common.DriverMSSQL:
		return database.GetMSSQLDialector(db)
	default:
		return database.GetPostgresDialector(db)
	}
}

func calculateBackoff(attempt int, initial, maxDelay time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	delay := initial * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
