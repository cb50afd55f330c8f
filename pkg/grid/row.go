package grid

// Row is one materialized record keyed by column id or field name
type Row struct {
	fields       map[string]interface{}
	color        string
	legend       string
	primaryField string
}

func NewRow() *Row {
	return &Row{fields: map[string]interface{}{}}
}

func (r *Row) SetField(id string, value interface{}) {
	r.fields[id] = value
}

// Field returns the value or "" when the row has no such field
func (r *Row) Field(id string) interface{} {
	if v, ok := r.fields[id]; ok {
		return v
	}
	return ""
}

func (r *Row) HasField(id string) bool {
	_, ok := r.fields[id]
	return ok
}

// Fields returns the underlying map; callers must not modify it
func (r *Row) Fields() map[string]interface{} {
	return r.fields
}

func (r *Row) SetColor(color string)   { r.color = color }
func (r *Row) Color() string           { return r.color }
func (r *Row) SetLegend(legend string) { r.legend = legend }
func (r *Row) Legend() string          { return r.legend }

func (r *Row) SetPrimaryField(id string) { r.primaryField = id }
func (r *Row) PrimaryField() string      { return r.primaryField }

// PrimaryFieldValue returns the identity of the row, nil before Prepare
func (r *Row) PrimaryFieldValue() interface{} {
	return r.fields[r.primaryField]
}

// Rows is the ordered result of one query execution
type Rows struct {
	rows []*Row
}

func NewRows(rows ...*Row) *Rows {
	return &Rows{rows: rows}
}

func (r *Rows) Add(row *Row) {
	r.rows = append(r.rows, row)
}

func (r *Rows) All() []*Row {
	if r == nil {
		return nil
	}
	return r.rows
}

func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rows)
}
