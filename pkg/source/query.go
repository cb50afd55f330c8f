package source

import (
	"fmt"
	"strings"

	"github.com/InterNations/DataGridBundle/pkg/common"
	"github.com/InterNations/DataGridBundle/pkg/grid"
)

// Expr is a predicate rendered with "?" placeholders
type Expr interface {
	SQL() (string, []interface{})
}

// Cmp compares a field expression with a bound value
type Cmp struct {
	Field string
	Op    string
	Value interface{}
}

func (c Cmp) SQL() (string, []interface{}) {
	return fmt.Sprintf("%s %s ?", c.Field, c.Op), []interface{}{c.Value}
}

// Like matches a field against a pattern escaped with "\"
type Like struct {
	Field   string
	Pattern string
}

func (l Like) SQL() (string, []interface{}) {
	return l.Field + ` LIKE ? ESCAPE '\'`, []interface{}{l.Pattern}
}

// And joins its terms with AND. An empty And renders as "".
type And []Expr

func (a And) SQL() (string, []interface{}) {
	return join(a, " AND ")
}

// Or joins its terms with OR
type Or []Expr

func (o Or) SQL() (string, []interface{}) {
	return join(o, " OR ")
}

// Raw is a literal predicate with its own arguments
type Raw struct {
	Query string
	Args  []interface{}
}

func (r Raw) SQL() (string, []interface{}) {
	return r.Query, r.Args
}

func join(terms []Expr, sep string) (string, []interface{}) {
	parts := make([]string, 0, len(terms))
	var args []interface{}
	for _, term := range terms {
		s, a := term.SQL()
		if s == "" {
			continue
		}
		if len(terms) > 1 {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
		args = append(args, a...)
	}
	return strings.Join(parts, sep), args
}

// operators maps a filter operator to its predicate builder
var operators = map[grid.Operator]func(field, value string) Expr{
	grid.OperatorEQ: func(field, value string) Expr {
		return Cmp{Field: field, Op: "=", Value: strings.TrimSpace(value)}
	},
	grid.OperatorGTE: func(field, value string) Expr {
		return Cmp{Field: field, Op: ">=", Value: strings.TrimSpace(value)}
	},
	grid.OperatorLTE: func(field, value string) Expr {
		return Cmp{Field: field, Op: "<=", Value: strings.TrimSpace(value)}
	},
	grid.OperatorSubstring: contains,
	grid.OperatorRegexp:    contains,
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// contains matches value anywhere in field. "%" and "_" in value match
// themselves.
func contains(field, value string) Expr {
	return Like{Field: field, Pattern: "%" + likeEscaper.Replace(strings.TrimSpace(value)) + "%"}
}

// Predicate builds the predicate of one filter on field
func Predicate(field string, f grid.Filter) (Expr, error) {
	build, ok := operators[f.Operator()]
	if !ok {
		return nil, grid.NewError(grid.ErrInvalidData, "source.Predicate", fmt.Errorf("unsupported operator %q", f.Operator()))
	}
	return build(field, f.Value()), nil
}

// Selection is one selected expression and its result name
type Selection struct {
	Expr string
	As   string
}

// Join is a LEFT JOIN of Table under Alias
type Join struct {
	Table string
	Alias string
	On    string
}

// Sort is one ORDER BY term
type Sort struct {
	Expr  string
	Order grid.Order
}

// Query is the row query an Entity builds. It is a value: hooks receive a
// copy and return the query to run.
type Query struct {
	Table   string
	Alias   string
	Selects []Selection
	Joins   []Join
	Where   And
	OrderBy []Sort
	GroupBy []string
	Having  Expr
	Limit   int
	Offset  int
}

// Clone returns a deep copy of q
func (q Query) Clone() Query {
	out := q
	out.Selects = append([]Selection(nil), q.Selects...)
	out.Joins = append([]Join(nil), q.Joins...)
	out.Where = append(And(nil), q.Where...)
	out.OrderBy = append([]Sort(nil), q.OrderBy...)
	out.GroupBy = append([]string(nil), q.GroupBy...)
	return out
}

// AndWhere adds a predicate to the conjunctive WHERE
func (q *Query) AndWhere(e Expr) {
	q.Where = append(q.Where, e)
}

func (q *Query) hasJoin(alias string) bool {
	for _, j := range q.Joins {
		if j.Alias == alias {
			return true
		}
	}
	return false
}

func (q Query) from() string {
	if q.Alias == "" {
		return q.Table
	}
	return q.Table + " AS " + q.Alias
}

// Apply builds q on an adapter query
func (q Query) Apply(sel common.SelectQuery) common.SelectQuery {
	sel = sel.Table(q.from())
	for _, s := range q.Selects {
		sel = sel.ColumnExpr(s.render())
	}
	for _, j := range q.Joins {
		sel = sel.LeftJoin(j.render())
	}
	if where, args := q.Where.SQL(); where != "" {
		sel = sel.Where(where, args...)
	}
	if len(q.GroupBy) > 0 {
		sel = sel.Group(strings.Join(q.GroupBy, ", "))
	}
	if q.Having != nil {
		if having, args := q.Having.SQL(); having != "" {
			sel = sel.Having(having, args...)
		}
	}
	for _, s := range q.OrderBy {
		sel = sel.OrderExpr(s.render())
	}
	if q.Limit > 0 {
		sel = sel.Limit(q.Limit)
	}
	if q.Offset > 0 {
		sel = sel.Offset(q.Offset)
	}
	return sel
}

// SQL renders q without LIMIT and OFFSET, which differ per dialect. It is
// used for count subqueries and cache keys.
func (q Query) SQL() (string, []interface{}) {
	var (
		sb   strings.Builder
		args []interface{}
	)

	sb.WriteString("SELECT ")
	if len(q.Selects) == 0 {
		sb.WriteString("*")
	}
	for i, s := range q.Selects {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(s.render())
	}

	sb.WriteString(" FROM ")
	sb.WriteString(q.from())

	for _, j := range q.Joins {
		sb.WriteString(" LEFT JOIN ")
		sb.WriteString(j.render())
	}

	if where, a := q.Where.SQL(); where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
		args = append(args, a...)
	}

	if len(q.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(q.GroupBy, ", "))
	}

	if q.Having != nil {
		if having, a := q.Having.SQL(); having != "" {
			sb.WriteString(" HAVING ")
			sb.WriteString(having)
			args = append(args, a...)
		}
	}

	for i, s := range q.OrderBy {
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(s.render())
	}

	return sb.String(), args
}

// render quotes the result name; column ids may contain dots and
// upper case letters
func (s Selection) render() string {
	if s.As == "" {
		return s.Expr
	}
	return s.Expr + ` AS "` + s.As + `"`
}

func (j Join) render() string {
	return fmt.Sprintf("%s AS %s ON %s", j.Table, j.Alias, j.On)
}

func (s Sort) render() string {
	if s.Order == grid.OrderDesc {
		return s.Expr + " DESC"
	}
	return s.Expr + " ASC"
}
