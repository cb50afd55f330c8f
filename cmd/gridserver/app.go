package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"

	"github.com/InterNations/DataGridBundle/pkg/cache"
	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/config"
	"github.com/InterNations/DataGridBundle/pkg/dispatch"
	"github.com/InterNations/DataGridBundle/pkg/grid"
	"github.com/InterNations/DataGridBundle/pkg/gridhttp"
	"github.com/InterNations/DataGridBundle/pkg/logger"
	"github.com/InterNations/DataGridBundle/pkg/metrics"
	"github.com/InterNations/DataGridBundle/pkg/middleware"
	"github.com/InterNations/DataGridBundle/pkg/session"
	"github.com/InterNations/DataGridBundle/pkg/source"
	"github.com/InterNations/DataGridBundle/pkg/tracing"
)

const (
	routeItemList    = "item_list"
	routeItemEdit    = "item_edit"
	routeItemArchive = "items:archive"
)

var itemStatuses = []grid.Option{
	{Key: "active", Label: "Active"},
	{Key: "pending", Label: "Pending"},
	{Key: "archived", Label: "Archived"},
}

// app holds what the item grid handlers share between requests
type app struct {
	cfg        *config.Config
	db         common.Database
	totals     *cache.Cache
	sessions   session.Store
	dispatcher grid.Dispatcher
	urls       *gridhttp.URLBuilder
}

func itemColumns() []*grid.Column {
	return []*grid.Column{
		grid.NewRangeColumn("id", grid.AsPrimary(), grid.WithDefaultOrder(grid.OrderAsc), grid.WithTitle("ID"), grid.WithSize(60)),
		grid.NewTextColumn("str", grid.WithTitle("Name")),
		grid.NewSelectColumn("status", itemStatuses, grid.WithTitle("Status"), grid.AsMultiple()),
		grid.NewDateColumn("created", grid.WithTitle("Created"), grid.WithFormat("2006-01-02")),
	}
}

// newRouter registers the grid, its row and mass action targets and the
// operational endpoints. The dispatcher of a "mux" setup is bound to the
// returned router.
func (a *app) newRouter(health, ready http.HandlerFunc) *mux.Router {
	r := mux.NewRouter()
	a.urls = gridhttp.NewURLBuilder(r, "")
	if a.dispatcher == nil {
		a.dispatcher = dispatch.NewMuxDispatcher(r)
	}

	r.Use(middleware.PanicRecovery)
	r.Use(metrics.Middleware(metrics.GetProvider(), routeTemplate))
	r.Use(tracing.Middleware)
	r.Use(middleware.NewRequestSizeLimiter(a.cfg.Server.MaxRequestBytes, a.cfg.Server.MaxQueryBytes).Middleware)

	if a.cfg.Metrics.Enabled {
		r.Handle(a.cfg.Metrics.Path, metrics.GetProvider().Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/health", health).Methods(http.MethodGet)
	r.HandleFunc("/ready", ready).Methods(http.MethodGet)
	r.HandleFunc("/actions/items/archive", a.archiveItems).Methods(http.MethodPost).Name(routeItemArchive)

	items := r.PathPrefix("/items").Subrouter()
	items.Use(session.Middleware(session.CookieOptions{
		Name:   a.cfg.Session.CookieName,
		MaxAge: a.cfg.Session.TTL,
		Secure: a.cfg.Session.Secure,
	}))
	items.Use(middleware.NewMassActionLimiter(a.cfg.Server.MassActionRate, a.cfg.Server.MassActionBurst).Middleware)
	items.Handle("", a.urls.Handler(a.itemsGrid)).Methods(http.MethodGet).Name(routeItemList)
	items.HandleFunc("/{id:[0-9]+}/edit", a.editItem).Methods(http.MethodGet).Name(routeItemEdit)

	return r
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// itemsGrid builds the item grid for one request
func (a *app) itemsGrid(r *http.Request) (*grid.Grid, error) {
	ctx := r.Context()
	opts := []grid.GridOption{grid.WithDispatcher(a.dispatcher)}
	if len(a.cfg.Grid.Limits) > 0 {
		opts = append(opts, grid.WithLimits(a.cfg.Grid.Limits...))
	}
	if id, ok := session.IDFromContext(ctx); ok {
		opts = append(opts, grid.WithSession(session.Bind(a.sessions, id)))
	}

	g := grid.New(grid.Request{
		Controller: "ItemController::list",
		Route:      routeItemList,
		Params:     gridhttp.ParseQuery(r.URL.Query()),
	}, opts...)
	if !a.cfg.Grid.ShowFilters {
		g.HideFilters()
	}
	if !a.cfg.Grid.ShowTitles {
		g.HideTitles()
	}

	if err := g.AddMassAction(grid.NewDeleteMassAction(true)); err != nil {
		return nil, err
	}
	archive := grid.NewMassAction("Archive", grid.Delegated(routeItemArchive))
	archive.Confirm = true
	if err := g.AddMassAction(archive); err != nil {
		return nil, err
	}
	g.AddRowAction(grid.NewRowAction("Edit", routeItemEdit))

	entity := source.NewEntity(a.db, "items",
		source.WithColumns(itemColumns),
		source.WithTotalCache(a.totals, a.cfg.Grid.TotalCacheTTL),
		source.WithPrepareRow(func(row *grid.Row) *grid.Row {
			if fmt.Sprint(row.Field("status")) == "archived" {
				row.SetColor("#eeeeee")
				row.SetLegend("archived")
			}
			return row
		}),
	)
	if err := g.SetSource(ctx, entity); err != nil {
		return nil, err
	}
	if g.IsReadyForRedirect() {
		return g, nil
	}
	return g, g.Prepare(ctx)
}

func (a *app) editItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var rows []map[string]interface{}
	if err := a.db.Query(r.Context(), &rows, "SELECT id, str, status, created FROM items WHERE id = ?", id); err != nil {
		gridhttp.WriteError(w, err)
		return
	}
	if len(rows) == 0 {
		gridhttp.WriteError(w, grid.NewError(grid.ErrNotFound, "editItem", fmt.Errorf("item %s does not exist", id)))
		return
	}
	writeData(w, rows[0])
}

// archiveItems is the mux target of the delegated "Archive" mass action
func (a *app) archiveItems(w http.ResponseWriter, r *http.Request) {
	req, err := dispatch.DecodeRequest(r)
	if err != nil {
		gridhttp.WriteError(w, err)
		return
	}
	n, err := a.archive(r.Context(), req)
	if err != nil {
		gridhttp.WriteError(w, err)
		return
	}
	writeData(w, map[string]int64{"archived": n})
}

// archive marks the requested items archived and drops their cached totals
func (a *app) archive(ctx context.Context, req grid.DispatchRequest) (int64, error) {
	query := "UPDATE items SET status = 'archived'"
	var args []interface{}
	if !req.AllPrimaryKeys {
		if len(req.PrimaryKeys) == 0 {
			return 0, nil
		}
		query += " WHERE id IN (" + strings.TrimSuffix(strings.Repeat("?,", len(req.PrimaryKeys)), ",") + ")"
		for _, k := range req.PrimaryKeys {
			args = append(args, k)
		}
	}

	res, err := a.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if err := a.totals.DeleteByTag(ctx, cache.TableTag("items")); err != nil {
		logger.Warn("Failed to drop cached totals for items: %v", err)
	}
	n := res.RowsAffected()
	logger.Info("Archived %d items", n)
	return n, nil
}

// subscriber is the part of *nats.Conn that serves delegated actions
type subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// subscribeActions serves the delegated item actions on the subjects d
// publishes them to
func (a *app) subscribeActions(conn subscriber, d *dispatch.NATSDispatcher) error {
	target, err := dispatch.ParseIdentifier(routeItemArchive)
	if err != nil {
		return err
	}
	subject := d.Subject(target)
	archive := func(ctx context.Context, req grid.DispatchRequest) error {
		_, err := a.archive(ctx, req)
		return err
	}
	if _, err := conn.Subscribe(subject, dispatch.Handle(archive)); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	logger.Info("Serving %s on %s", routeItemArchive, subject)
	return nil
}

func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(gridhttp.Response{Success: true, Data: data}); err != nil {
		logger.Error("Error sending response: %v", err)
	}
}

// seedItems creates and fills the demo table when it is empty
func seedItems(ctx context.Context, db common.Database, count int) error {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY,
		str TEXT NOT NULL,
		status TEXT NOT NULL,
		created TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("create items table: %w", err)
	}

	var rows []map[string]interface{}
	if err := db.Query(ctx, &rows, "SELECT COUNT(*) AS total FROM items"); err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if len(rows) > 0 && fmt.Sprint(rows[0]["total"]) != "0" {
		return nil
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return db.RunInTransaction(ctx, func(tx common.Database) error {
		for i := 1; i <= count; i++ {
			status := itemStatuses[i%len(itemStatuses)].Key
			created := start.AddDate(0, 0, i).Format("2006-01-02 15:04:05")
			if _, err := tx.Exec(ctx, "INSERT INTO items (id, str, status, created) VALUES (?, ?, ?, ?)",
				i, fmt.Sprintf("item %d", i), status, created); err != nil {
				return fmt.Errorf("insert item %d: %w", i, err)
			}
		}
		logger.Info("Seeded %d items", count)
		return nil
	})
}
