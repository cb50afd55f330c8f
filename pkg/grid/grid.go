package grid

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/InterNations/DataGridBundle/pkg/errortracking"
	"github.com/InterNations/DataGridBundle/pkg/logger"
	"github.com/InterNations/DataGridBundle/pkg/metrics"
	"github.com/InterNations/DataGridBundle/pkg/tracing"
)

// Source is the store the grid reads rows from
type Source interface {
	// Execute runs the row query for the given source columns
	Execute(ctx context.Context, columns []*Column, page, limit int) (*Rows, error)
	// TotalCount counts the rows matching the last executed query
	TotalCount(ctx context.Context, columns *Columns) (int, error)
	// Hash identifies the source in the grid hash
	Hash() string
	Delete(ctx context.Context, ids []string) error
}

// Initializer is implemented by sources that need setup when bound
type Initializer interface {
	Initialise(ctx context.Context) error
}

// ColumnProvider is implemented by sources that add their own columns
type ColumnProvider interface {
	ProvideColumns(columns *Columns) error
}

// Session persists the per-grid bucket between requests
type Session interface {
	Load(ctx context.Context, hash string) (Bucket, error)
	Apply(ctx context.Context, hash string, patch Patch) error
}

// URLGenerator builds URLs for named routes
type URLGenerator interface {
	Generate(route string, params map[string]string) (string, error)
}

// Request is what the grid needs to know about the current HTTP request
type Request struct {
	// Controller identifies the handler; it is part of the grid hash
	Controller string
	// Route is the named route URLs are generated for
	Route       string
	RouteParams map[string]string
	Params      Params
}

// Limit is one entry of the page size selector
type Limit struct {
	Value int
	Label string
}

// Grid binds columns to a source and reconciles request and session state
type Grid struct {
	id         string
	hash       string
	request    Request
	session    Session
	dispatcher Dispatcher
	source     Source

	columns    *Columns
	rows       *Rows
	totalCount int
	prepared   bool

	page   int
	limit  int
	limits []Limit

	massActions      []*MassAction
	rowActions       map[string][]*RowAction
	rowActionColumns []string

	showFilters bool
	showTitles  bool

	routeParams map[string]string
	bucket      Bucket
}

// GridOption configures a grid at construction
type GridOption func(*Grid)

func WithSession(s Session) GridOption {
	return func(g *Grid) { g.session = s }
}

func WithDispatcher(d Dispatcher) GridOption {
	return func(g *Grid) { g.dispatcher = d }
}

func WithColumns(c *Columns) GridOption {
	return func(g *Grid) { g.columns = c }
}

// WithID distinguishes two grids over the same source on one page
func WithID(id string) GridOption {
	return func(g *Grid) { g.id = id }
}

func WithLimits(limits ...int) GridOption {
	return func(g *Grid) { g.SetLimits(limits...) }
}

// New creates an unbound grid. Bind it with SetSource after registering
// mass actions.
func New(req Request, opts ...GridOption) *Grid {
	g := &Grid{
		request:     req,
		session:     nopSession{},
		columns:     &Columns{},
		rowActions:  map[string][]*RowAction{},
		showFilters: true,
		showTitles:  true,
		routeParams: map[string]string{},
	}
	for k, v := range req.RouteParams {
		g.routeParams[k] = v
	}
	g.SetLimits(20, 50, 100)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddMassAction registers an action. Actions are addressed by position, so
// they can only be added before the source is bound.
func (g *Grid) AddMassAction(action *MassAction) error {
	if g.source != nil {
		return errorf(ErrConfiguration, "Grid.AddMassAction", "The actions have to be defined before the source.")
	}
	g.massActions = append(g.massActions, action)
	return nil
}

func (g *Grid) AddRowAction(action *RowAction) {
	column := action.Column
	if column == "" {
		column = DefaultActionsColumn
	}
	if _, ok := g.rowActions[column]; !ok {
		g.rowActionColumns = append(g.rowActionColumns, column)
	}
	g.rowActions[column] = append(g.rowActions[column], action)
}

func (g *Grid) AddColumn(column *Column, position ...int) error {
	return g.columns.Add(column, position...)
}

// SetSource binds the source: columns are collected, the hash computed,
// request and session reconciled, and a requested mass action executed.
func (g *Grid) SetSource(ctx context.Context, source Source) error {
	g.source = source

	if init, ok := source.(Initializer); ok {
		if err := init.Initialise(ctx); err != nil {
			return fmt.Errorf("failed to initialise source: %w", err)
		}
	}
	if provider, ok := source.(ColumnProvider); ok {
		if err := provider.ProvideColumns(g.columns); err != nil {
			return err
		}
	}

	g.createHash()

	bucket, err := g.session.Load(ctx, g.hash)
	if err != nil {
		logger.Warn("Failed to load grid session %s: %v", g.hash, err)
		bucket = Bucket{}
	}

	state, patch, err := Reconcile(ReconcileInput{
		Hash:    g.hash,
		Params:  g.request.Params,
		Session: bucket,
		Columns: g.columns,
		Limit:   g.limit,
		Page:    g.page,
	})
	if err != nil {
		return err
	}

	for _, col := range g.columns.All() {
		col.data = state.Columns[col.ID()]
	}

	if err := g.session.Apply(ctx, g.hash, patch); err != nil {
		logger.Warn("Failed to save grid session %s: %v", g.hash, err)
	}
	g.bucket = patch.Apply(bucket)

	if state.Action != nil {
		if err := g.executeMassAction(ctx, *state.Action); err != nil {
			return err
		}
	}

	g.limit = state.Limit
	g.page = state.Page
	if state.Sort != nil {
		col, err := g.columns.ByID(state.Sort.ColumnID)
		if err != nil {
			return err
		}
		col.SetOrder(state.Sort.Order)
	}

	return nil
}

func (g *Grid) executeMassAction(ctx context.Context, req ActionRequest) (err error) {
	if req.Index >= len(g.massActions) {
		return errorf(ErrNotFound, "Grid.executeMassAction", "Action %d is not defined.", req.Index)
	}
	action := g.massActions[req.Index]
	if err := action.Handler.validate(); err != nil {
		return err
	}

	ctx = errortracking.WithTags(ctx,
		errortracking.TagGridHash, g.hash,
		errortracking.TagGridAction, action.Title,
		errortracking.TagGridRoute, g.request.Route,
	)
	ctx, span := tracing.StartSpan(ctx, "grid.mass_action",
		attribute.String("grid.action", action.Title),
		attribute.Int("grid.action.keys", len(req.PrimaryKeys)),
		attribute.Bool("grid.action.all_keys", req.AllPrimaryKeys),
	)
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			logger.ErrorCtx(ctx, err, "Mass action %q on grid %s failed: %v", action.Title, g.hash, err)
		}
		metrics.GetProvider().RecordMassAction(action.Title, status)
		tracing.EndSpan(span, err)
	}()

	logger.Info("Executing mass action %q (%s) on %d rows, all keys: %t",
		action.Title, action.Handler, len(req.PrimaryKeys), req.AllPrimaryKeys)

	if action.Handler.IsDirect() {
		return action.Handler.direct(ctx, ActionContext{
			Grid:           g,
			PrimaryKeys:    req.PrimaryKeys,
			AllPrimaryKeys: req.AllPrimaryKeys,
			Session:        g.bucket.Clone(),
			Parameters:     action.Parameters,
		})
	}

	if g.dispatcher == nil {
		return errorf(ErrConfiguration, "Grid.executeMassAction", "no dispatcher for delegated action %s", action.Handler.Identifier())
	}
	return g.dispatcher.Dispatch(ctx, action.Handler.Identifier(), DispatchRequest{
		PrimaryKeys:    req.PrimaryKeys,
		AllPrimaryKeys: req.AllPrimaryKeys,
		Parameters:     action.Parameters,
	})
}

// Prepare runs the row query, adds the action columns, assigns the primary
// field to every row and counts the total. It can be called again after
// the columns changed.
func (g *Grid) Prepare(ctx context.Context) error {
	if g.source == nil {
		return errorf(ErrConfiguration, "Grid.Prepare", "no source bound")
	}

	ctx, span := tracing.StartSpan(ctx, "grid.prepare", attribute.String("grid.hash", g.hash))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	rows, err := g.source.Execute(ctx, g.columns.SourceColumns(), g.page, g.limit)
	if err != nil {
		return err
	}
	if rows == nil {
		err = errorf(ErrInvalidData, "Grid.Prepare", "Source have to return Rows object.")
		return err
	}

	for _, id := range g.rowActionColumns {
		actions := g.rowActions[id]
		if col := g.columns.ByIDOrNil(id); col != nil {
			if col.Kind() != KindActions {
				err = errorf(ErrConfiguration, "Grid.Prepare", "column %q cannot hold row actions", id)
				return err
			}
			col.SetRowActions(actions)
			continue
		}
		if err = g.columns.Add(NewActionsColumn(id, "Actions", actions)); err != nil {
			return err
		}
	}

	if len(g.massActions) > 0 && !g.columns.Has(MassActionColumnID) {
		if err = g.columns.Add(NewMassActionColumn(g.hash), 1); err != nil {
			return err
		}
	}

	primary, err := g.columns.Primary()
	if err != nil {
		return err
	}
	for _, row := range rows.All() {
		row.SetPrimaryField(primary.ID())
	}

	if g.showTitles {
		g.showTitles = false
		for _, col := range g.columns.All() {
			if col.Title() != "" {
				g.showTitles = true
				break
			}
		}
	}

	total, err := g.source.TotalCount(ctx, g.columns)
	if err != nil {
		return err
	}

	g.rows = rows
	g.totalCount = total
	g.prepared = true
	return nil
}

func (g *Grid) createHash() {
	sum := md5.Sum([]byte(g.request.Controller + g.columns.Hash() + g.source.Hash() + g.id))
	g.hash = "grid_" + hex.EncodeToString(sum[:])
}

func (g *Grid) Hash() string                       { return g.hash }
func (g *Grid) ID() string                         { return g.id }
func (g *Grid) Columns() *Columns                  { return g.columns }
func (g *Grid) Rows() *Rows                        { return g.rows }
func (g *Grid) MassActions() []*MassAction         { return g.massActions }
func (g *Grid) Route() string                      { return g.request.Route }
func (g *Grid) Params() Params                     { return g.request.Params }
func (g *Grid) Limits() []Limit                    { return g.limits }
func (g *Grid) CurrentLimit() int                  { return g.limit }
func (g *Grid) Page() int                          { return g.page }
func (g *Grid) TotalCount() int                    { return g.totalCount }
func (g *Grid) IsPrepared() bool                   { return g.prepared }
func (g *Grid) IsTitleSectionVisible() bool        { return g.showTitles }
func (g *Grid) HideFilters()                       { g.showFilters = false }
func (g *Grid) HideTitles()                        { g.showTitles = false }
func (g *Grid) SetRouteParameter(k, v string)      { g.routeParams[k] = v }
func (g *Grid) RouteParameters() map[string]string { return g.routeParams }

// SetID must be called before SetSource to affect the hash
func (g *Grid) SetID(id string) *Grid {
	g.id = id
	return g
}

// RowActions returns the row actions per column id
func (g *Grid) RowActions() map[string][]*RowAction {
	return g.rowActions
}

// Session returns the grid's bucket as persisted by SetSource
func (g *Grid) Session() Bucket {
	return g.bucket.Clone()
}

// SetLimits sets the page size choices; the first one becomes current
func (g *Grid) SetLimits(limits ...int) {
	out := make([]Limit, 0, len(limits))
	for _, l := range limits {
		out = append(out, Limit{Value: l, Label: strconv.Itoa(l)})
	}
	g.SetLabeledLimits(out...)
}

func (g *Grid) SetLabeledLimits(limits ...Limit) {
	g.limits = limits
	g.limit = 0
	if len(limits) > 0 {
		g.limit = limits[0].Value
	}
}

func (g *Grid) SetPage(page int) error {
	if page <= 0 {
		return errorf(ErrInvalidData, "Grid.SetPage", "Page has to have a positive number")
	}
	g.page = page
	return nil
}

// PageCount is the number of pages at the current limit
func (g *Grid) PageCount() int {
	if g.limit <= 0 {
		return 1
	}
	return int(math.Ceil(float64(g.totalCount) / float64(g.limit)))
}

func (g *Grid) IsFilterSectionVisible() bool {
	if !g.showFilters {
		return false
	}
	for _, col := range g.columns.All() {
		if col.IsFilterable() {
			return true
		}
	}
	return false
}

func (g *Grid) IsPagerSectionVisible() bool {
	n := len(g.limits)
	return n > 1 || (n == 0 && g.limit < g.totalCount)
}

// IsReadyForRedirect reports whether the request carried namespaced grid
// parameters, after which the host should redirect to the clean URL
func (g *Grid) IsReadyForRedirect() bool {
	return len(g.request.Params.Bucket(g.hash)) > 0
}

// DeleteAction deletes rows by primary key through the source
func (g *Grid) DeleteAction(ctx context.Context, ids []string) error {
	if g.source == nil {
		return errorf(ErrConfiguration, "Grid.DeleteAction", "no source bound")
	}
	return g.source.Delete(ctx, ids)
}

type nopSession struct{}

func (nopSession) Load(context.Context, string) (Bucket, error) { return Bucket{}, nil }

func (nopSession) Apply(context.Context, string, Patch) error { return nil }
