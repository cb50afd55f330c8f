package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/InterNations/DataGridBundle/pkg/cache"
	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/config"
	"github.com/InterNations/DataGridBundle/pkg/dispatch"
	"github.com/InterNations/DataGridBundle/pkg/errortracking"
	"github.com/InterNations/DataGridBundle/pkg/logger"
	"github.com/InterNations/DataGridBundle/pkg/metrics"
	"github.com/InterNations/DataGridBundle/pkg/server"
	"github.com/InterNations/DataGridBundle/pkg/session"
	"github.com/InterNations/DataGridBundle/pkg/store"
	"github.com/InterNations/DataGridBundle/pkg/tracing"
)

const (
	demoItems    = 250
	cacheEntries = 10000
)

func main() {
	cfgMgr := config.NewManager()
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		log.Fatalf("Failed to get configuration: %v", err)
	}

	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}
	defer logger.Sync()
	logger.Info("Data grid server starting")

	if err := run(context.Background(), cfg); err != nil {
		logger.Error("Server stopped: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	tracker, err := errortracking.NewProviderFromConfig(cfg.ErrorTracking)
	if err != nil {
		return err
	}
	logger.InitErrorTracking(tracker)

	shutdownTracer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metrics.SetProvider(metrics.NewPrometheusProvider(cfg.Metrics))
	}

	db, dbCloser, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if cfg.Database.Driver == common.DriverSQLite {
		if err := seedItems(ctx, db, demoItems); err != nil {
			dbCloser.Close()
			return err
		}
	}

	sessions, totals, err := newCaches(cfg, cacheEntries)
	if err != nil {
		dbCloser.Close()
		return err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		totals:   totals,
		sessions: session.NewCacheStore(sessions, cfg.Session.TTL).WithPrefix(cfg.Session.KeyPrefix),
	}

	var closeNATS func()
	if cfg.Dispatch.Provider == "nats" {
		d, nc, err := dispatch.ConnectNATS(dispatch.NATSConfig{
			URL:           cfg.Dispatch.NATSURL,
			SubjectPrefix: cfg.Dispatch.SubjectPrefix,
			AwaitReply:    cfg.Dispatch.AwaitReply,
			Timeout:       cfg.Dispatch.Timeout,
		})
		if err != nil {
			_ = errors.Join(totals.Close(), sessions.Close(), dbCloser.Close())
			return err
		}
		if err := a.subscribeActions(nc, d); err != nil {
			nc.Close()
			_ = errors.Join(totals.Close(), sessions.Close(), dbCloser.Close())
			return err
		}
		a.dispatcher = d
		closeNATS = func() { _ = nc.Drain() }
	}

	var srv *server.GracefulServer
	health := func(w http.ResponseWriter, r *http.Request) { srv.HealthCheckHandler()(w, r) }
	ready := func(w http.ResponseWriter, r *http.Request) {
		srv.ReadinessHandler(map[string]server.CheckFunc{"database": func(ctx context.Context) error {
			var rows []map[string]interface{}
			return db.Query(ctx, &rows, "SELECT 1 AS ok")
		}})(w, r)
	}
	srv = server.New(cfg.Server, a.newRouter(health, ready))

	// hooks run in reverse order
	srv.OnShutdown("error tracking", func(context.Context) error { return logger.CloseErrorTracking() })
	srv.OnShutdown("tracer", shutdownTracer)
	srv.OnShutdown("database", func(context.Context) error { return dbCloser.Close() })
	srv.OnShutdown("cache", func(context.Context) error {
		return errors.Join(totals.Close(), sessions.Close())
	})
	if closeNATS != nil {
		srv.OnShutdown("nats", func(context.Context) error {
			closeNATS()
			return nil
		})
	}

	return srv.ListenAndServe(ctx)
}

// newCaches opens one provider for session buckets and another for cached
// totals. A bounded memory cache of totals never evicts a session.
func newCaches(cfg *config.Config, maxEntries int) (cache.Provider, *cache.Cache, error) {
	sessions, err := cache.NewProviderFromConfig(cfg.Cache, &cache.Options{DefaultTTL: cfg.Session.TTL, MaxSize: maxEntries})
	if err != nil {
		return nil, nil, fmt.Errorf("session cache: %w", err)
	}
	totals, err := cache.NewProviderFromConfig(cfg.Cache, &cache.Options{DefaultTTL: cfg.Grid.TotalCacheTTL, MaxSize: maxEntries})
	if err != nil {
		sessions.Close()
		return nil, nil, fmt.Errorf("total cache: %w", err)
	}
	return sessions, cache.NewCache(totals), nil
}
