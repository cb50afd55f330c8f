package grid

import (
	"fmt"
	"time"
)

// Cell formats the column's value of row for display. Templates escape the
// result; Cell never produces markup.
func (c *Column) Cell(row *Row) (string, error) {
	switch c.kind {
	case KindMassAction:
		return toString(row.PrimaryFieldValue()), nil
	case KindActions:
		return "", nil
	case KindSelect, KindBoolean:
		return c.Label(toString(row.Field(c.id))), nil
	case KindDate:
		return c.dateCell(row.Field(c.id))
	default:
		return toString(row.Field(c.id)), nil
	}
}

// SelectorName is the checkbox name of row in the mass action column:
// hash[__action][<primary key>]
func (c *Column) SelectorName(row *Row) string {
	return fmt.Sprintf("%s[%s][%s]", c.gridHash, MassActionColumnID, toString(row.PrimaryFieldValue()))
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (c *Column) dateCell(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case time.Time:
		return v.Format(c.format), nil
	case *time.Time:
		if v == nil {
			return "", nil
		}
		return v.Format(c.format), nil
	case []byte:
		return c.dateCell(string(v))
	case string:
		if v == "" {
			return "", nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.Format(c.format), nil
			}
		}
		return "", errorf(ErrInvalidData, "Column.Cell", "column %q: cannot parse %q as a date", c.id, v)
	default:
		return "", errorf(ErrInvalidData, "Column.Cell", "column %q: date value has to be a time, got %T", c.id, value)
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// Link is one rendered row action
type Link struct {
	URL            string            `json:"url"`
	Title          string            `json:"title"`
	Target         string            `json:"target"`
	ConfirmMessage string            `json:"confirmMessage,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// Links resolves the row actions of an actions column for one row. The
// row's primary key is passed as a route parameter named after the primary
// field; the action's own parameters override it.
func (c *Column) Links(row *Row, gen URLGenerator) ([]Link, error) {
	links := make([]Link, 0, len(c.rowActions))
	for _, action := range c.rowActions {
		params := map[string]string{row.PrimaryField(): toString(row.PrimaryFieldValue())}
		for k, v := range action.RouteParameters {
			params[k] = v
		}

		var (
			url string
			err error
		)
		if action.RouteFunc != nil {
			url, err = action.RouteFunc(gen, params, row)
		} else {
			url, err = gen.Generate(action.Route, params)
		}
		if err != nil {
			return nil, fmt.Errorf("row action %q: %w", action.Title, err)
		}

		link := Link{URL: url, Title: action.Title, Target: action.Target, Attributes: action.Attributes}
		if action.Confirm {
			link.ConfirmMessage = action.ConfirmMessage
		}
		links = append(links, link)
	}
	return links, nil
}

// Input is one form field of a filter widget
type Input struct {
	Name        string `json:"name"`
	Value       string `json:"value,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// SelectOption is an option of a select filter with its selection state
type SelectOption struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Selected bool   `json:"selected,omitempty"`
}

// Widget describes a column's filter control; the template draws it
type Widget struct {
	Type           string         `json:"type"`
	InputType      string         `json:"inputType,omitempty"`
	Inputs         []Input        `json:"inputs,omitempty"`
	Options        []SelectOption `json:"options,omitempty"`
	Multiple       bool           `json:"multiple,omitempty"`
	SubmitOnChange bool           `json:"submitOnChange,omitempty"`
	Size           int            `json:"size,omitempty"`
	HasValue       bool           `json:"hasValue,omitempty"`
}

// FilterWidget describes the filter control of the column for the grid
// with the given hash. Field names follow the hash[column] convention.
func (c *Column) FilterWidget(gridHash string) Widget {
	name := fmt.Sprintf("%s[%s]", gridHash, c.id)
	w := Widget{Type: "none", InputType: c.inputType, SubmitOnChange: c.submitOnChange, Size: c.size}

	switch c.kind {
	case KindText, KindDate:
		w.Type = "text"
		w.Inputs = []Input{{Name: name, Value: c.data.String}}
		w.HasValue = c.data.String != ""

	case KindRange:
		w.Type = "range"
		w.Inputs = []Input{
			{Name: name + "[from]", Value: c.data.Map["from"], Placeholder: "From:"},
			{Name: name + "[to]", Value: c.data.Map["to"], Placeholder: "To:"},
		}
		w.HasValue = c.IsFiltered()

	case KindSelect, KindBoolean:
		w.Type = "select"
		w.Multiple = c.multiple
		w.SubmitOnChange = true
		w.Inputs = []Input{{Name: name + "[]"}}
		w.Options = append(w.Options, SelectOption{Key: Blank})
		for _, o := range c.options {
			w.Options = append(w.Options, SelectOption{Key: o.Key, Label: o.Label, Selected: contains(c.data.List, o.Key)})
		}
		w.HasValue = len(c.data.List) > 0

	case KindMassAction:
		w.Type = "mass-selector"

	case KindActions:
		if !c.submitOnChange {
			w.Type = "submit"
			w.Inputs = []Input{{Name: gridHash + "[submit]", Value: "Filter"}}
		}
	}

	return w
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
