package gridhttp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/InterNations/DataGridBundle/pkg/grid"
)

// URLBuilder generates URLs for named gorilla/mux routes. Parameters that
// are not path variables of the route end up in the query string.
type URLBuilder struct {
	router  *mux.Router
	baseURL string
}

// NewURLBuilder creates a builder. A non-empty baseURL such as
// "http://localhost" makes every URL absolute.
func NewURLBuilder(router *mux.Router, baseURL string) *URLBuilder {
	return &URLBuilder{router: router, baseURL: strings.TrimRight(baseURL, "/")}
}

// Generate implements grid.URLGenerator
func (b *URLBuilder) Generate(route string, params map[string]string) (string, error) {
	r := b.router.Get(route)
	if r == nil {
		return "", fmt.Errorf("route %q is not defined", route)
	}
	vars, err := r.GetVarNames()
	if err != nil {
		return "", fmt.Errorf("route %q: %w", route, err)
	}

	isVar := make(map[string]bool, len(vars))
	pairs := make([]string, 0, len(vars)*2)
	for _, name := range vars {
		v, ok := params[name]
		if !ok {
			return "", fmt.Errorf("route %q: missing parameter %q", route, name)
		}
		isVar[name] = true
		pairs = append(pairs, name, v)
	}

	u, err := r.URL(pairs...)
	if err != nil {
		return "", fmt.Errorf("route %q: %w", route, err)
	}

	query := url.Values{}
	for k, v := range params {
		if !isVar[k] {
			query.Set(k, v)
		}
	}
	u.RawQuery = query.Encode()

	if u.Host != "" {
		return u.String(), nil
	}
	return b.baseURL + u.String(), nil
}

// Key returns the query key of a grid parameter: hash[key]
func Key(hash, key string) string {
	return hash + "[" + key + "]"
}

// RouteURL generates the URL of the grid's route with its route parameters,
// overridden by params
func (b *URLBuilder) RouteURL(g *grid.Grid, params map[string]string) (string, error) {
	merged := make(map[string]string, len(g.RouteParameters())+len(params))
	for k, v := range g.RouteParameters() {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return b.Generate(g.Route(), merged)
}

// SortingURL toggles the order of a column. An unsorted column sorts
// ascending first.
func (b *URLBuilder) SortingURL(g *grid.Grid, column *grid.Column) (string, error) {
	order := grid.OrderAsc
	if column.IsSorted() && column.Order() == grid.OrderAsc {
		order = grid.OrderDesc
	}
	return b.RouteURL(g, map[string]string{
		Key(g.Hash(), grid.KeyOrder): column.ID() + "|" + string(order),
	})
}

// PaginationURL links to a zero based page; the first page leaves the
// value empty
func (b *URLBuilder) PaginationURL(g *grid.Grid, page int) (string, error) {
	value := ""
	if page > 0 {
		value = fmt.Sprint(page)
	}
	return b.RouteURL(g, map[string]string{Key(g.Hash(), grid.KeyPage): value})
}

// LimitURL is the base of the limit selector; the value is appended by the
// client
func (b *URLBuilder) LimitURL(g *grid.Grid) (string, error) {
	return b.RouteURL(g, map[string]string{Key(g.Hash(), grid.KeyLimit): ""})
}
