package grid

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InterNations/DataGridBundle/pkg/errortracking"
	"github.com/InterNations/DataGridBundle/pkg/logger"
)

type fakeSource struct {
	hash  string
	rows  *Rows
	total int
	err   error

	page     int
	limit    int
	queried  []string
	deleted  []string
	provided []*Column
}

func (s *fakeSource) Execute(_ context.Context, columns []*Column, page, limit int) (*Rows, error) {
	s.page, s.limit = page, limit
	s.queried = ids(columns)
	return s.rows, s.err
}

func (s *fakeSource) TotalCount(context.Context, *Columns) (int, error) { return s.total, nil }

func (s *fakeSource) Hash() string { return s.hash }

func (s *fakeSource) Delete(_ context.Context, keys []string) error {
	s.deleted = append(s.deleted, keys...)
	return nil
}

func (s *fakeSource) ProvideColumns(columns *Columns) error {
	for _, col := range s.provided {
		if err := columns.Add(col); err != nil {
			return err
		}
	}
	return nil
}

type memorySession struct {
	buckets map[string]Bucket
	loadErr error
	applied int
}

func newMemorySession() *memorySession {
	return &memorySession{buckets: map[string]Bucket{}}
}

func (m *memorySession) Load(_ context.Context, hash string) (Bucket, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.buckets[hash].Clone(), nil
}

func (m *memorySession) Apply(_ context.Context, hash string, patch Patch) error {
	m.applied++
	m.buckets[hash] = patch.Apply(m.buckets[hash])
	return nil
}

type taggedTracker struct {
	errortracking.NoOpProvider
	tags []map[string]string
}

func (r *taggedTracker) CaptureError(ctx context.Context, _ error, _ errortracking.Severity, _ map[string]interface{}) {
	r.tags = append(r.tags, errortracking.TagsFromContext(ctx))
}

type recordingDispatcher struct {
	identifier string
	request    DispatchRequest
}

func (d *recordingDispatcher) Dispatch(_ context.Context, identifier string, req DispatchRequest) error {
	d.identifier, d.request = identifier, req
	return nil
}

func newSource() *fakeSource {
	return &fakeSource{
		hash: "items",
		provided: []*Column{
			NewRangeColumn("id", AsPrimary()),
			NewTextColumn("str"),
		},
		rows: NewRows(),
	}
}

// requestWith places bucket under the hash the grid computes for the
// default source
func requestWith(bucket Bucket) Request {
	req := Request{
		Controller:  "ItemController::list",
		Route:       "item_list",
		RouteParams: map[string]string{},
		Params:      Params{Namespaced: map[string]Bucket{}, Values: map[string]Value{}},
	}
	if bucket != nil {
		sum := md5.Sum([]byte(req.Controller + defaultColumnsHash() + "items"))
		req.Params.Namespaced["grid_"+hex.EncodeToString(sum[:])] = bucket
	}
	return req
}

func defaultColumnsHash() string {
	columns, _ := NewColumns(NewRangeColumn("id"), NewTextColumn("str"))
	return columns.Hash()
}

func TestGridHash(t *testing.T) {
	src := newSource()
	g := New(Request{Controller: "ItemController::list"}, WithID("mine"))
	require.NoError(t, g.SetSource(context.Background(), src))

	sum := md5.Sum([]byte("ItemController::list" + defaultColumnsHash() + "items" + "mine"))
	assert.Equal(t, "grid_"+hex.EncodeToString(sum[:]), g.Hash())

	other := New(Request{Controller: "ItemController::list"})
	require.NoError(t, other.SetSource(context.Background(), newSource()))
	assert.NotEqual(t, g.Hash(), other.Hash())
}

func TestSetSourcePersistsState(t *testing.T) {
	ctx := context.Background()
	session := newMemorySession()

	g := New(requestWith(Bucket{"str": StringValue("foo"), KeyPage: StringValue("2")}), WithSession(session))
	require.NoError(t, g.SetSource(ctx, newSource()))

	assert.Equal(t, "foo", g.Columns().ByIDOrNil("str").Data().String)
	assert.Equal(t, 2, g.Page())
	assert.Equal(t, 20, g.CurrentLimit())
	assert.True(t, g.IsReadyForRedirect())
	assert.Equal(t, StringValue("foo"), g.Session()["str"])

	// the redirect target carries no parameters
	next := New(requestWith(nil), WithSession(session))
	require.NoError(t, next.SetSource(ctx, newSource()))
	assert.Equal(t, g.Hash(), next.Hash())
	assert.Equal(t, "foo", next.Columns().ByIDOrNil("str").Data().String)
	assert.Equal(t, 2, next.Page())
	assert.False(t, next.IsReadyForRedirect())
	assert.Equal(t, 2, session.applied)
}

func TestSetSourceSurvivesBrokenSession(t *testing.T) {
	session := newMemorySession()
	session.loadErr = errors.New("connection refused")

	g := New(requestWith(Bucket{"str": StringValue("foo")}), WithSession(session))
	require.NoError(t, g.SetSource(context.Background(), newSource()))
	assert.Equal(t, "foo", g.Columns().ByIDOrNil("str").Data().String)
}

func TestSetSourceRejectsInvalidState(t *testing.T) {
	g := New(requestWith(Bucket{KeyOrder: StringValue("missing|asc")}))
	err := g.SetSource(context.Background(), newSource())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetSourceAppliesOrder(t *testing.T) {
	src := newSource()
	src.provided[0] = NewRangeColumn("id", AsPrimary(), WithDefaultOrder(OrderAsc))

	g := New(requestWith(nil))
	require.NoError(t, g.SetSource(context.Background(), src))
	assert.True(t, g.Columns().ByIDOrNil("id").IsDefaultSort())

	g = New(requestWith(Bucket{KeyOrder: StringValue("str|desc")}))
	src = newSource()
	src.provided[0] = NewRangeColumn("id", AsPrimary(), WithDefaultOrder(OrderAsc))
	require.NoError(t, g.SetSource(context.Background(), src))
	str := g.Columns().ByIDOrNil("str")
	assert.Equal(t, OrderDesc, str.Order())
	assert.False(t, str.IsDefaultSort())
}

func TestMassActions(t *testing.T) {
	selected := Bucket{
		KeyActionID:        StringValue("0"),
		MassActionColumnID: MapValue(map[string]string{"7": "on", "3": "on"}),
	}

	t.Run("direct handler", func(t *testing.T) {
		var got ActionContext
		g := New(requestWith(selected))
		action := NewMassAction("Archive", Direct(func(_ context.Context, ac ActionContext) error {
			got = ac
			return nil
		}))
		action.Parameters["reason"] = "cleanup"
		require.NoError(t, g.AddMassAction(action))

		require.NoError(t, g.SetSource(context.Background(), newSource()))
		assert.Same(t, g, got.Grid)
		assert.Equal(t, []string{"3", "7"}, got.PrimaryKeys)
		assert.False(t, got.AllPrimaryKeys)
		assert.Equal(t, "cleanup", got.Parameters["reason"])
		assert.Equal(t, StringValue("0"), got.Session[KeyPage])
	})

	t.Run("direct handler saves to the session", func(t *testing.T) {
		store := newMemorySession()
		g := New(requestWith(selected), WithSession(store))
		var seen Bucket
		require.NoError(t, g.AddMassAction(NewMassAction("Flag", Direct(func(ctx context.Context, ac ActionContext) error {
			if err := ac.SaveSession(ctx, Patch{Set: Bucket{"flagged": ListValue(ac.PrimaryKeys...)}, Unset: []string{"str"}}); err != nil {
				return err
			}
			seen = ac.Session
			return nil
		}))))

		require.NoError(t, g.SetSource(context.Background(), newSource()))
		assert.Equal(t, []string{"3", "7"}, seen["flagged"].List)
		assert.Equal(t, []string{"3", "7"}, store.buckets[g.Hash()]["flagged"].List)
		assert.Equal(t, 2, store.applied)
	})

	t.Run("failing handler is reported with grid tags", func(t *testing.T) {
		tracker := &taggedTracker{}
		logger.InitErrorTracking(tracker)
		defer logger.InitErrorTracking(nil)

		g := New(requestWith(selected))
		require.NoError(t, g.AddMassAction(NewMassAction("Archive", Direct(func(context.Context, ActionContext) error {
			return errors.New("locked")
		}))))

		require.EqualError(t, g.SetSource(context.Background(), newSource()), "locked")
		require.Len(t, tracker.tags, 1)
		assert.Equal(t, g.Hash(), tracker.tags[0][errortracking.TagGridHash])
		assert.Equal(t, "Archive", tracker.tags[0][errortracking.TagGridAction])
		assert.Equal(t, "item_list", tracker.tags[0][errortracking.TagGridRoute])
	})

	t.Run("delegated handler", func(t *testing.T) {
		dispatcher := &recordingDispatcher{}
		g := New(requestWith(Bucket{KeyActionID: StringValue("0"), KeyActionAllKeys: StringValue("1")}), WithDispatcher(dispatcher))
		require.NoError(t, g.AddMassAction(NewMassAction("Export", Delegated("export:items"))))

		require.NoError(t, g.SetSource(context.Background(), newSource()))
		assert.Equal(t, "export:items", dispatcher.identifier)
		assert.True(t, dispatcher.request.AllPrimaryKeys)
	})

	t.Run("delegated handler needs a dispatcher", func(t *testing.T) {
		g := New(requestWith(selected))
		require.NoError(t, g.AddMassAction(NewMassAction("Export", Delegated("export:items"))))
		assert.ErrorIs(t, g.SetSource(context.Background(), newSource()), ErrConfiguration)
	})

	t.Run("malformed identifier", func(t *testing.T) {
		g := New(requestWith(selected), WithDispatcher(&recordingDispatcher{}))
		require.NoError(t, g.AddMassAction(NewMassAction("Export", Delegated("export"))))
		err := g.SetSource(context.Background(), newSource())
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Contains(t, err.Error(), "Callback export is not callable or Controller action")
	})

	t.Run("undefined action", func(t *testing.T) {
		g := New(requestWith(Bucket{KeyActionID: StringValue("2"), KeyActionAllKeys: StringValue("1")}))
		require.NoError(t, g.AddMassAction(NewDeleteMassAction(true)))
		err := g.SetSource(context.Background(), newSource())
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "Action 2 is not defined.")
	})

	t.Run("delete", func(t *testing.T) {
		src := newSource()
		g := New(requestWith(selected))
		require.NoError(t, g.AddMassAction(NewDeleteMassAction(true)))
		require.NoError(t, g.SetSource(context.Background(), src))
		assert.Equal(t, []string{"3", "7"}, src.deleted)
	})

	t.Run("actions after the source", func(t *testing.T) {
		g := New(requestWith(nil))
		require.NoError(t, g.SetSource(context.Background(), newSource()))
		assert.ErrorIs(t, g.AddMassAction(NewDeleteMassAction(false)), ErrConfiguration)
	})
}

func TestPrepare(t *testing.T) {
	ctx := context.Background()

	t.Run("adds action columns and assigns the primary field", func(t *testing.T) {
		src := newSource()
		row := NewRow()
		row.SetField("id", int64(1))
		src.rows = NewRows(row)
		src.total = 45

		g := New(requestWith(nil))
		require.NoError(t, g.AddMassAction(NewDeleteMassAction(true)))
		g.AddRowAction(NewRowAction("Edit", "item_edit"))
		require.NoError(t, g.SetSource(ctx, src))
		require.NoError(t, g.Prepare(ctx))

		assert.Equal(t, []string{MassActionColumnID, "id", "str", DefaultActionsColumn}, ids(g.Columns().All()))
		assert.Equal(t, []string{"id", "str"}, src.queried)
		assert.Equal(t, "id", row.PrimaryField())
		assert.Equal(t, int64(1), row.PrimaryFieldValue())
		assert.Equal(t, 45, g.TotalCount())
		assert.Equal(t, 3, g.PageCount())
		assert.True(t, g.IsPrepared())
		assert.True(t, g.IsTitleSectionVisible())
		assert.Len(t, g.Columns().ByIDOrNil(DefaultActionsColumn).RowActions(), 1)
	})

	t.Run("titles hide when no column has one", func(t *testing.T) {
		g := New(requestWith(nil))
		require.NoError(t, g.SetSource(ctx, newSource()))
		require.NoError(t, g.Prepare(ctx))
		assert.False(t, g.IsTitleSectionVisible())
	})

	t.Run("row actions into an existing actions column", func(t *testing.T) {
		src := newSource()
		src.provided = append(src.provided, NewActionsColumn("links", "Links", nil))
		g := New(requestWith(nil))
		action := NewRowAction("Show", "item_show")
		action.Column = "links"
		g.AddRowAction(action)
		require.NoError(t, g.SetSource(ctx, src))
		require.NoError(t, g.Prepare(ctx))
		assert.Equal(t, 3, g.Columns().Len())
		assert.Len(t, g.Columns().ByIDOrNil("links").RowActions(), 1)
	})

	t.Run("row actions into a data column", func(t *testing.T) {
		g := New(requestWith(nil))
		action := NewRowAction("Show", "item_show")
		action.Column = "str"
		g.AddRowAction(action)
		require.NoError(t, g.SetSource(ctx, newSource()))
		assert.ErrorIs(t, g.Prepare(ctx), ErrConfiguration)
	})

	t.Run("no primary column", func(t *testing.T) {
		src := newSource()
		src.provided = []*Column{NewTextColumn("str")}
		g := New(Request{Controller: "ItemController::list"})
		require.NoError(t, g.SetSource(ctx, src))
		assert.ErrorIs(t, g.Prepare(ctx), ErrConfiguration)
	})

	t.Run("source without rows", func(t *testing.T) {
		src := newSource()
		src.rows = nil
		g := New(requestWith(nil))
		require.NoError(t, g.SetSource(ctx, src))
		assert.ErrorIs(t, g.Prepare(ctx), ErrInvalidData)
	})

	t.Run("unbound", func(t *testing.T) {
		assert.ErrorIs(t, New(Request{}).Prepare(ctx), ErrConfiguration)
	})

	t.Run("source sees page and limit", func(t *testing.T) {
		src := newSource()
		g := New(requestWith(Bucket{KeyLimit: StringValue("50"), KeyPage: StringValue("3")}))
		require.NoError(t, g.SetSource(ctx, src))
		require.NoError(t, g.Prepare(ctx))
		assert.Equal(t, 3, src.page)
		assert.Equal(t, 50, src.limit)
	})
}

func TestPagerAndSections(t *testing.T) {
	g := New(Request{})
	assert.Equal(t, []Limit{{20, "20"}, {50, "50"}, {100, "100"}}, g.Limits())
	assert.Equal(t, 20, g.CurrentLimit())
	assert.True(t, g.IsPagerSectionVisible())

	assert.ErrorIs(t, g.SetPage(0), ErrInvalidData)
	require.NoError(t, g.SetPage(4))
	assert.Equal(t, 4, g.Page())

	g.SetLabeledLimits(Limit{Value: 10, Label: "ten"})
	assert.Equal(t, 10, g.CurrentLimit())
	assert.False(t, g.IsPagerSectionVisible())

	g.SetLimits()
	assert.Equal(t, 1, g.PageCount())

	assert.False(t, g.IsFilterSectionVisible())
	require.NoError(t, g.AddColumn(NewTextColumn("str")))
	assert.True(t, g.IsFilterSectionVisible())
	g.HideFilters()
	assert.False(t, g.IsFilterSectionVisible())
}
