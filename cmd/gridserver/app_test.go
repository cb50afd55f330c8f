package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InterNations/DataGridBundle/pkg/cache"
	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/config"
	"github.com/InterNations/DataGridBundle/pkg/dispatch"
	"github.com/InterNations/DataGridBundle/pkg/grid"
	"github.com/InterNations/DataGridBundle/pkg/gridhttp"
	"github.com/InterNations/DataGridBundle/pkg/session"
	"github.com/InterNations/DataGridBundle/pkg/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{MassActionRate: 100, MassActionBurst: 100},
		Database: config.DatabaseConfig{
			Driver:        common.DriverSQLite,
			ORM:           store.ORMBun,
			DSN:           ":memory:",
			RetryAttempts: 1,
		},
		Grid:    config.GridConfig{Limits: []int{20, 50}, TotalCacheTTL: time.Minute, ShowFilters: true, ShowTitles: true},
		Session: config.SessionConfig{CookieName: "grid_test", TTL: time.Hour},
	}
}

func newTestApp(t *testing.T, setup ...func(*app)) (*app, http.Handler) {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig()

	db, closer, err := store.Open(ctx, cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { closer.Close() })
	require.NoError(t, seedItems(ctx, db, 45))

	a := &app{
		cfg:      cfg,
		db:       db,
		totals:   cache.NewCache(cache.NewMemoryProvider(nil)),
		sessions: session.NewMemoryStore(),
	}
	for _, fn := range setup {
		fn(a)
	}
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	return a, a.newRouter(ok, ok)
}

type viewBody struct {
	Success bool          `json:"success"`
	Data    gridhttp.View `json:"data"`
}

func get(t *testing.T, h http.Handler, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) gridhttp.View {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body viewBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	return body.Data
}

func TestSeedItemsIsIdempotent(t *testing.T) {
	a, _ := newTestApp(t)
	require.NoError(t, seedItems(context.Background(), a.db, 45))

	var rows []map[string]interface{}
	require.NoError(t, a.db.Query(context.Background(), &rows, "SELECT COUNT(*) AS total FROM items"))
	assert.EqualValues(t, 45, rows[0]["total"])
}

func TestItemsGrid(t *testing.T) {
	_, h := newTestApp(t)

	rec := get(t, h, "/items")
	view := decodeView(t, rec)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "grid_test", cookies[0].Name)

	ids := make([]string, 0, len(view.Columns))
	for _, c := range view.Columns {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{grid.MassActionColumnID, "id", "str", "status", "created", grid.DefaultActionsColumn}, ids)
	require.Len(t, view.Rows, 20)
	require.Len(t, view.MassActions, 2)
	assert.Equal(t, 3, view.Pager.PageCount)
	assert.Equal(t, 45, view.Pager.TotalCount)

	t.Run("filter is redirected and kept in the session", func(t *testing.T) {
		target := "/items?" + url.Values{gridhttp.Key(view.Hash, "status") + "[]": {"archived"}}.Encode()
		rec := get(t, h, target, cookies...)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/items", rec.Header().Get("Location"))

		filtered := decodeView(t, get(t, h, "/items", cookies...))
		assert.Equal(t, 15, filtered.Pager.TotalCount)
		for _, row := range filtered.Rows {
			assert.Equal(t, "archived", row.Legend)
		}

		// another session does not see the filter
		assert.Equal(t, 45, decodeView(t, get(t, h, "/items")).Pager.TotalCount)
	})

	t.Run("edit link", func(t *testing.T) {
		cells := view.Rows[0].Cells
		links := cells[len(cells)-1].Links
		require.Len(t, links, 1)
		rec := get(t, h, links[0].URL)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"str":"item 1"`)
	})

	t.Run("unknown item", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(t, h, "/items/999/edit").Code)
	})
}

func TestDelegatedArchiveAction(t *testing.T) {
	a, h := newTestApp(t)
	ctx := context.Background()

	rec := get(t, h, "/items")
	view := decodeView(t, rec)
	cookies := rec.Result().Cookies()

	values := url.Values{
		gridhttp.Key(view.Hash, grid.KeyActionID):               {"1"},
		gridhttp.Key(view.Hash, grid.MassActionColumnID) + "[1]": {"on"},
		gridhttp.Key(view.Hash, grid.MassActionColumnID) + "[4]": {"on"},
	}
	rec = get(t, h, "/items?"+values.Encode(), cookies...)
	assert.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	var rows []map[string]interface{}
	require.NoError(t, a.db.Query(ctx, &rows, "SELECT id FROM items WHERE status = 'archived' AND id IN (1, 4)"))
	assert.Len(t, rows, 2)
}

// loopbackNATS delivers published actions to the handlers subscribed on
// the same subject. Requests are answered with the archive outcome.
type loopbackNATS struct {
	handlers map[string]nats.MsgHandler
	serve    dispatch.HandlerFunc
}

func (c *loopbackNATS) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	c.handlers[subject] = cb
	return &nats.Subscription{Subject: subject}, nil
}

func (c *loopbackNATS) PublishMsg(msg *nats.Msg) error {
	if h, ok := c.handlers[msg.Subject]; ok {
		h(msg)
	}
	return nil
}

func (c *loopbackNATS) RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error) {
	if _, ok := c.handlers[msg.Subject]; !ok {
		return nil, nats.ErrNoResponders
	}
	data, err := json.Marshal(dispatch.Process(ctx, c.serve, msg))
	if err != nil {
		return nil, err
	}
	return &nats.Msg{Data: data}, nil
}

func (c *loopbackNATS) FlushWithContext(context.Context) error { return nil }

func TestArchiveOverNATS(t *testing.T) {
	for _, await := range []bool{false, true} {
		t.Run(fmt.Sprintf("await reply %v", await), func(t *testing.T) {
			conn := &loopbackNATS{handlers: map[string]nats.MsgHandler{}}
			a, h := newTestApp(t, func(a *app) {
				d := dispatch.NewNATSDispatcher(conn, dispatch.NATSConfig{SubjectPrefix: "datagrid.actions", AwaitReply: await})
				require.NoError(t, a.subscribeActions(conn, d))
				conn.serve = func(ctx context.Context, req grid.DispatchRequest) error {
					_, err := a.archive(ctx, req)
					return err
				}
				a.dispatcher = d
			})
			require.Contains(t, conn.handlers, "datagrid.actions.items.archive")

			rec := get(t, h, "/items")
			view := decodeView(t, rec)
			values := url.Values{
				gridhttp.Key(view.Hash, grid.KeyActionID):               {"1"},
				gridhttp.Key(view.Hash, grid.MassActionColumnID) + "[2]": {"on"},
				gridhttp.Key(view.Hash, grid.MassActionColumnID) + "[5]": {"on"},
			}
			rec = get(t, h, "/items?"+values.Encode(), rec.Result().Cookies()...)
			assert.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

			var rows []map[string]interface{}
			require.NoError(t, a.db.Query(context.Background(), &rows, "SELECT id FROM items WHERE status = 'archived' AND id IN (2, 5)"))
			assert.Len(t, rows, 2)
		})
	}
}

func TestNewCachesKeepSessionsApart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Cache.Provider = "memory"

	provider, totals, err := newCaches(cfg, 10)
	require.NoError(t, err)
	defer provider.Close()
	defer totals.Close()
	assert.NotSame(t, provider, totals.Provider())

	sessions := session.NewCacheStore(provider, time.Hour)
	require.NoError(t, sessions.Apply(ctx, "s1", "grid_a", grid.Patch{Set: grid.Bucket{"str": grid.StringValue("foo")}}))

	for i := 0; i < 50; i++ {
		require.NoError(t, totals.Set(ctx, fmt.Sprintf("grid_total:%d", i), i, time.Minute))
	}

	bucket, err := sessions.Load(ctx, "s1", "grid_a")
	require.NoError(t, err)
	assert.Equal(t, "foo", bucket["str"].String)
}

func TestDeleteAction(t *testing.T) {
	a, h := newTestApp(t)
	ctx := context.Background()

	rec := get(t, h, "/items")
	view := decodeView(t, rec)
	cookies := rec.Result().Cookies()

	values := url.Values{
		gridhttp.Key(view.Hash, grid.KeyActionID):               {"0"},
		gridhttp.Key(view.Hash, grid.MassActionColumnID) + "[2]": {"on"},
	}
	assert.Equal(t, http.StatusSeeOther, get(t, h, "/items?"+values.Encode(), cookies...).Code)

	var rows []map[string]interface{}
	require.NoError(t, a.db.Query(ctx, &rows, "SELECT COUNT(*) AS total FROM items"))
	assert.EqualValues(t, 44, rows[0]["total"])
	assert.Equal(t, 44, decodeView(t, get(t, h, "/items", cookies...)).Pager.TotalCount)
}
