package grid

import (
	"fmt"
	"strings"

	"github.com/InterNations/DataGridBundle/pkg/logger"
)

// Kind is the closed set of column variants
type Kind int

const (
	KindText Kind = iota
	KindRange
	KindSelect
	KindBoolean
	KindBlank
	KindDate
	KindMassAction
	KindActions
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindRange:
		return "range"
	case KindSelect:
		return "select"
	case KindBoolean:
		return "boolean"
	case KindBlank:
		return "blank"
	case KindDate:
		return "date"
	case KindMassAction:
		return "massaction"
	case KindActions:
		return "actions"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Order is the sort direction of a column. The zero value means unsorted.
type Order string

const (
	OrderNone Order = ""
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder accepts "asc" or "desc" in any case
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc":
		return OrderAsc, nil
	case "desc":
		return OrderDesc, nil
	}
	return OrderNone, errorf(ErrInvalidData, "ParseOrder", "order has to be asc or desc, got %q", s)
}

// Option is one selectable value of a select or boolean column
type Option struct {
	Key   string
	Label string
}

// Blank is the select value that clears the current selection
const Blank = "_default"

// MassActionColumnID is the reserved id of the row selector column
const MassActionColumnID = "__action"

// ForeignValuePolicy decides what a select column does with submitted values
// that are not among its options
type ForeignValuePolicy int

const (
	// DropForeignValues discards unknown values and logs them. Stale session
	// data pointing at a removed option degrades to "not selected".
	DropForeignValues ForeignValuePolicy = iota
	// RejectForeignValues fails reconciliation with ErrInvalidData
	RejectForeignValues
)

// Column is one grid column. Behaviour that differs per variant is selected
// by Kind; the source only uses the shared filter and order accessors.
type Column struct {
	kind           Kind
	id             string
	field          string
	title          string
	sortable       bool
	filterable     bool
	source         bool
	size           int
	submitOnChange bool
	primary        bool
	order          Order
	defaultSort    bool
	align          string
	inputType      string
	data           Value

	// select and boolean
	options  []Option
	defaults []string
	multiple bool
	foreign  ForeignValuePolicy

	// date
	format string

	// actions
	rowActions []*RowAction

	// mass action
	gridHash string
}

// ColumnOption configures a column at construction
type ColumnOption func(*Column)

// WithField sets the store field. Dotted paths traverse relations.
func WithField(field string) ColumnOption {
	return func(c *Column) { c.field = field }
}

func WithTitle(title string) ColumnOption {
	return func(c *Column) { c.title = title }
}

func WithSortable(sortable bool) ColumnOption {
	return func(c *Column) { c.sortable = sortable }
}

func WithFilterable(filterable bool) ColumnOption {
	return func(c *Column) { c.filterable = filterable }
}

// WithSource controls whether the column takes part in the store query
func WithSource(source bool) ColumnOption {
	return func(c *Column) { c.source = source }
}

func WithSize(size int) ColumnOption {
	return func(c *Column) { c.size = size }
}

func WithSubmitOnChange(submit bool) ColumnOption {
	return func(c *Column) { c.submitOnChange = submit }
}

// AsPrimary marks the column holding the row identity
func AsPrimary() ColumnOption {
	return func(c *Column) { c.primary = true }
}

// WithDefaultOrder sorts by this column unless the request sorts another one
func WithDefaultOrder(order Order) ColumnOption {
	return func(c *Column) {
		c.order = order
		c.defaultSort = order != OrderNone
	}
}

func WithAlign(align string) ColumnOption {
	return func(c *Column) { c.align = align }
}

// WithInputType sets the HTML input type of text and range filters
func WithInputType(inputType string) ColumnOption {
	return func(c *Column) { c.inputType = inputType }
}

// WithOptions replaces the selectable values of a select or boolean column
func WithOptions(options ...Option) ColumnOption {
	return func(c *Column) { c.options = options }
}

// WithDefaults sets the select values filtered on when nothing is selected
func WithDefaults(keys ...string) ColumnOption {
	return func(c *Column) { c.defaults = keys }
}

func AsMultiple() ColumnOption {
	return func(c *Column) { c.multiple = true }
}

func WithForeignValuePolicy(p ForeignValuePolicy) ColumnOption {
	return func(c *Column) { c.foreign = p }
}

// WithFormat sets the time layout of a date column
func WithFormat(layout string) ColumnOption {
	return func(c *Column) { c.format = layout }
}

func newColumn(kind Kind, id string, opts []ColumnOption) *Column {
	c := &Column{
		kind:       kind,
		id:         id,
		field:      id,
		sortable:   true,
		filterable: true,
		source:     true,
		inputType:  "text",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func NewTextColumn(id string, opts ...ColumnOption) *Column {
	return newColumn(KindText, id, opts)
}

func NewRangeColumn(id string, opts ...ColumnOption) *Column {
	return newColumn(KindRange, id, opts)
}

func NewSelectColumn(id string, options []Option, opts ...ColumnOption) *Column {
	return newColumn(KindSelect, id, append([]ColumnOption{WithOptions(options...)}, opts...))
}

// NewBooleanColumn is a select over 1 => true and 0 => false unless options
// are given
func NewBooleanColumn(id string, opts ...ColumnOption) *Column {
	defaults := WithOptions(Option{Key: "1", Label: "true"}, Option{Key: "0", Label: "false"})
	return newColumn(KindBoolean, id, append([]ColumnOption{defaults}, opts...))
}

// NewBlankColumn is display only: not sortable, not filterable, not queried
func NewBlankColumn(id string, opts ...ColumnOption) *Column {
	base := []ColumnOption{WithSortable(false), WithFilterable(false), WithSource(false)}
	return newColumn(KindBlank, id, append(base, opts...))
}

func NewDateColumn(id string, opts ...ColumnOption) *Column {
	return newColumn(KindDate, id, append([]ColumnOption{WithFormat("2006-01-02 15:04:05")}, opts...))
}

// NewActionsColumn holds the row actions rendered as links in each row
func NewActionsColumn(id, title string, actions []*RowAction, opts ...ColumnOption) *Column {
	c := newColumn(KindActions, id, opts)
	c.title = title
	c.sortable = false
	c.source = false
	c.rowActions = actions
	return c
}

// NewMassActionColumn is the checkbox column used to select rows
func NewMassActionColumn(gridHash string) *Column {
	c := newColumn(KindMassAction, MassActionColumnID, nil)
	c.size = 15
	c.sortable = false
	c.source = false
	c.align = "center"
	c.gridHash = gridHash
	return c
}

func (c *Column) Kind() Kind                   { return c.kind }
func (c *Column) Type() string                 { return c.kind.String() }
func (c *Column) ID() string                   { return c.id }
func (c *Column) Field() string                { return c.field }
func (c *Column) Title() string                { return c.title }
func (c *Column) IsSortable() bool             { return c.sortable }
func (c *Column) IsFilterable() bool           { return c.filterable }
func (c *Column) IsVisibleForSource() bool     { return c.source }
func (c *Column) Size() int                    { return c.size }
func (c *Column) SubmitOnChange() bool         { return c.submitOnChange }
func (c *Column) IsPrimary() bool              { return c.primary }
func (c *Column) Align() string                { return c.align }
func (c *Column) InputType() string            { return c.inputType }
func (c *Column) Options() []Option            { return c.options }
func (c *Column) Defaults() []string           { return c.defaults }
func (c *Column) IsMultiple() bool             { return c.multiple }
func (c *Column) Format() string               { return c.format }
func (c *Column) RowActions() []*RowAction     { return c.rowActions }
func (c *Column) Order() Order                 { return c.order }
func (c *Column) IsSorted() bool               { return c.order != OrderNone }
func (c *Column) IsDefaultSort() bool          { return c.defaultSort }
func (c *Column) SetTitle(title string)        { c.title = title }
func (c *Column) SetSubmitOnChange(on bool)    { c.submitOnChange = on }
func (c *Column) SetRowActions(a []*RowAction) { c.rowActions = a }

// SetOrder sorts by this column on behalf of the request; the column no
// longer counts as the default sort
func (c *Column) SetOrder(order Order) {
	c.order = order
	c.defaultSort = false
}

// Data is the last reconciled value
func (c *Column) Data() Value {
	return c.data
}

// SetData normalizes raw and stores the result
func (c *Column) SetData(raw Value) error {
	data, err := c.normalize(c.data, raw)
	if err != nil {
		return err
	}
	c.data = data
	return nil
}

// normalize computes the data SetData would store without touching the
// column. prev is the current data, which select columns merge into.
func (c *Column) normalize(prev Value, raw Value) (Value, error) {
	switch c.kind {
	case KindText, KindDate:
		if len(raw.List) > 0 || len(raw.Map) > 0 {
			return prev, nil
		}
		return StringValue(raw.String), nil

	case KindRange:
		out := map[string]string{}
		if from := raw.Map["from"]; from != "" {
			out["from"] = from
		}
		if to := raw.Map["to"]; to != "" {
			out["to"] = to
		}
		if len(out) == 0 {
			return Value{}, nil
		}
		return MapValue(out), nil

	case KindSelect, KindBoolean:
		return c.normalizeSelect(prev, raw)

	default:
		return prev, nil
	}
}

func (c *Column) normalizeSelect(prev Value, raw Value) (Value, error) {
	submitted := raw.Strings()
	for _, v := range submitted {
		if v == Blank {
			return Value{}, nil
		}
	}

	kept := make([]string, 0, len(submitted))
	for _, v := range submitted {
		if c.hasOption(v) {
			kept = append(kept, v)
			continue
		}
		if c.foreign == RejectForeignValues {
			return prev, errorf(ErrInvalidData, "Column.SetData", "value %q is not an option of column %q", v, c.id)
		}
		logger.Debug("Dropping value %q of column %q: not an option", v, c.id)
	}

	if len(kept) == 0 {
		return prev, nil
	}
	return ListValue(dedup(append(append([]string(nil), prev.List...), kept...))...), nil
}

func (c *Column) hasOption(key string) bool {
	for _, o := range c.options {
		if o.Key == key {
			return true
		}
	}
	return false
}

// Label returns the option label for key, or key itself
func (c *Column) Label(key string) string {
	for _, o := range c.options {
		if o.Key == key {
			return o.Label
		}
	}
	return key
}

// Filters derives the predicates for the current data. No data, no filters.
func (c *Column) Filters() []Filter {
	switch c.kind {
	case KindText, KindDate:
		if c.data.String == "" {
			return nil
		}
		return []Filter{NewFilter(OperatorSubstring, c.data.String)}

	case KindRange:
		var filters []Filter
		if from := c.data.Map["from"]; from != "" {
			filters = append(filters, NewFilter(OperatorGTE, from))
		}
		if to := c.data.Map["to"]; to != "" {
			filters = append(filters, NewFilter(OperatorLTE, to))
		}
		return filters

	case KindSelect, KindBoolean:
		values := c.data.List
		if len(values) == 0 {
			values = c.defaults
		}
		filters := make([]Filter, 0, len(values))
		for _, v := range values {
			filters = append(filters, NewFilter(OperatorEQ, v))
		}
		return filters

	default:
		return nil
	}
}

// FiltersConnection is OR for select columns and AND for everything else
func (c *Column) FiltersConnection() Connection {
	if c.kind == KindSelect || c.kind == KindBoolean {
		return Disjunction
	}
	return Conjunction
}

func (c *Column) IsFiltered() bool {
	return len(c.Filters()) > 0
}
