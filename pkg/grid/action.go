package grid

import (
	"context"
	"fmt"
	"strings"
)

// ActionContext is what a mass action handler receives
type ActionContext struct {
	Grid           *Grid
	PrimaryKeys    []string
	AllPrimaryKeys bool
	// Session is the grid's bucket as persisted after reconciliation.
	// Changes go through SaveSession.
	Session    Bucket
	Parameters map[string]interface{}
}

// SaveSession applies patch to the grid's bucket in the bound session and
// to ac.Session
func (ac *ActionContext) SaveSession(ctx context.Context, patch Patch) error {
	g := ac.Grid
	if err := g.session.Apply(ctx, g.hash, patch); err != nil {
		return fmt.Errorf("failed to save grid session %s: %w", g.hash, err)
	}
	g.bucket = patch.Apply(g.bucket)
	ac.Session = patch.Apply(ac.Session)
	return nil
}

// DirectFunc runs a mass action in-process
type DirectFunc func(ctx context.Context, ac ActionContext) error

// Handler is either a function or the identifier of an action handled
// elsewhere ("target:action"), resolved through a Dispatcher
type Handler struct {
	direct     DirectFunc
	identifier string
}

func Direct(fn DirectFunc) Handler {
	return Handler{direct: fn}
}

func Delegated(identifier string) Handler {
	return Handler{identifier: identifier}
}

func (h Handler) IsDirect() bool { return h.direct != nil }

func (h Handler) Identifier() string { return h.identifier }

func (h Handler) String() string {
	if h.direct != nil {
		return "direct"
	}
	return h.identifier
}

func (h Handler) validate() error {
	if h.direct != nil {
		return nil
	}
	if strings.Contains(h.identifier, ":") {
		return nil
	}
	return errorf(ErrConfiguration, "Grid.executeMassAction", "Callback %s is not callable or Controller action", h.identifier)
}

// DispatchRequest is sent to a Dispatcher for delegated handlers
type DispatchRequest struct {
	PrimaryKeys    []string               `json:"primaryKeys"`
	AllPrimaryKeys bool                   `json:"allPrimaryKeys"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
}

// Dispatcher forwards delegated mass actions to the hosting application
type Dispatcher interface {
	Dispatch(ctx context.Context, identifier string, req DispatchRequest) error
}

// MassAction is applied once to a set of selected rows
type MassAction struct {
	Title      string
	Handler    Handler
	Confirm    bool
	Parameters map[string]interface{}
	Group      string
}

func NewMassAction(title string, handler Handler) *MassAction {
	return &MassAction{Title: title, Handler: handler, Parameters: map[string]interface{}{}}
}

// NewDeleteMassAction deletes the selected rows through the grid's source
func NewDeleteMassAction(confirm bool) *MassAction {
	a := NewMassAction("Delete", Direct(func(ctx context.Context, ac ActionContext) error {
		return ac.Grid.DeleteAction(ctx, ac.PrimaryKeys)
	}))
	a.Confirm = confirm
	return a
}

// RouteFunc builds a row action URL itself instead of going through a
// named route
type RouteFunc func(gen URLGenerator, params map[string]string, row *Row) (string, error)

// RowAction is a link rendered in every row of its column
type RowAction struct {
	Title           string
	Route           string
	RouteFunc       RouteFunc
	Confirm         bool
	ConfirmMessage  string
	Target          string
	Column          string
	RouteParameters map[string]string
	Attributes      map[string]string
}

// DefaultActionsColumn is where row actions go unless told otherwise
const DefaultActionsColumn = "__actions"

func NewRowAction(title, route string) *RowAction {
	return &RowAction{
		Title:           title,
		Route:           route,
		ConfirmMessage:  "Do you want to " + strings.ToLower(title) + " this row?",
		Target:          "_self",
		Column:          DefaultActionsColumn,
		RouteParameters: map[string]string{},
		Attributes:      map[string]string{},
	}
}
