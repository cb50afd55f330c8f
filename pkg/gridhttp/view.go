package gridhttp

import (
	"fmt"

	"github.com/InterNations/DataGridBundle/pkg/grid"
)

// View is the JSON projection of a prepared grid. Templates render it;
// all values are plain text.
type View struct {
	Hash        string           `json:"hash"`
	ID          string           `json:"id,omitempty"`
	Columns     []ColumnView     `json:"columns"`
	Rows        []RowView        `json:"rows"`
	MassActions []MassActionView `json:"massActions,omitempty"`
	Pager       *PagerView       `json:"pager,omitempty"`
	ShowFilters bool             `json:"showFilters"`
	ShowTitles  bool             `json:"showTitles"`
}

type ColumnView struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Type       string       `json:"type"`
	Align      string       `json:"align,omitempty"`
	Size       int          `json:"size,omitempty"`
	Order      grid.Order   `json:"order,omitempty"`
	SortingURL string       `json:"sortingUrl,omitempty"`
	Filter     *grid.Widget `json:"filter,omitempty"`
}

type RowView struct {
	Color  string     `json:"color,omitempty"`
	Legend string     `json:"legend,omitempty"`
	Cells  []CellView `json:"cells"`
}

type CellView struct {
	Column   string      `json:"column"`
	Value    string      `json:"value"`
	Selector string      `json:"selector,omitempty"`
	Links    []grid.Link `json:"links,omitempty"`
}

type MassActionView struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Confirm bool   `json:"confirm,omitempty"`
	Group   string `json:"group,omitempty"`
}

type PagerView struct {
	Page       int         `json:"page"`
	PageCount  int         `json:"pageCount"`
	TotalCount int         `json:"totalCount"`
	Limit      int         `json:"limit"`
	LimitURL   string      `json:"limitUrl"`
	Limits     []LimitView `json:"limits,omitempty"`
	PrevURL    string      `json:"prevUrl,omitempty"`
	NextURL    string      `json:"nextUrl,omitempty"`
}

type LimitView struct {
	Value    int    `json:"value"`
	Label    string `json:"label"`
	Selected bool   `json:"selected,omitempty"`
}

// View projects a prepared grid
func (b *URLBuilder) View(g *grid.Grid) (*View, error) {
	if !g.IsPrepared() {
		return nil, grid.NewError(grid.ErrConfiguration, "gridhttp.View", fmt.Errorf("grid %s is not prepared", g.Hash()))
	}

	view := &View{
		Hash:        g.Hash(),
		ID:          g.ID(),
		ShowFilters: g.IsFilterSectionVisible(),
		ShowTitles:  g.IsTitleSectionVisible(),
		Rows:        make([]RowView, 0, g.Rows().Len()),
	}

	for _, col := range g.Columns().All() {
		cv := ColumnView{
			ID:    col.ID(),
			Title: col.Title(),
			Type:  col.Type(),
			Align: col.Align(),
			Size:  col.Size(),
			Order: col.Order(),
		}
		if col.IsSortable() {
			u, err := b.SortingURL(g, col)
			if err != nil {
				return nil, err
			}
			cv.SortingURL = u
		}
		if view.ShowFilters && col.IsFilterable() {
			w := col.FilterWidget(g.Hash())
			cv.Filter = &w
		}
		view.Columns = append(view.Columns, cv)
	}

	for _, row := range g.Rows().All() {
		rv := RowView{Color: row.Color(), Legend: row.Legend()}
		for _, col := range g.Columns().All() {
			cell, err := col.Cell(row)
			if err != nil {
				return nil, err
			}
			c := CellView{Column: col.ID(), Value: cell}
			switch col.Kind() {
			case grid.KindMassAction:
				c.Selector = col.SelectorName(row)
			case grid.KindActions:
				links, err := col.Links(row, b)
				if err != nil {
					return nil, err
				}
				c.Links = links
			}
			rv.Cells = append(rv.Cells, c)
		}
		view.Rows = append(view.Rows, rv)
	}

	for i, action := range g.MassActions() {
		view.MassActions = append(view.MassActions, MassActionView{
			Index: i, Title: action.Title, Confirm: action.Confirm, Group: action.Group,
		})
	}

	if g.IsPagerSectionVisible() {
		pager, err := b.pager(g)
		if err != nil {
			return nil, err
		}
		view.Pager = pager
	}
	return view, nil
}

func (b *URLBuilder) pager(g *grid.Grid) (*PagerView, error) {
	// the _page parameter is zero based; an empty value is the first page
	current := g.Page()
	p := &PagerView{
		Page:       current + 1,
		PageCount:  g.PageCount(),
		TotalCount: g.TotalCount(),
		Limit:      g.CurrentLimit(),
	}

	var err error
	if p.LimitURL, err = b.LimitURL(g); err != nil {
		return nil, err
	}
	for _, l := range g.Limits() {
		p.Limits = append(p.Limits, LimitView{Value: l.Value, Label: l.Label, Selected: l.Value == g.CurrentLimit()})
	}
	if current > 0 {
		if p.PrevURL, err = b.PaginationURL(g, current-1); err != nil {
			return nil, err
		}
	}
	if current+1 < p.PageCount {
		if p.NextURL, err = b.PaginationURL(g, current+1); err != nil {
			return nil, err
		}
	}
	return p, nil
}
