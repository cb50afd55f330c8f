package grid

import (
	"crypto/sha256"
	"encoding/hex"
)

// Columns is the ordered column registry. Order is display order and the
// order the source sees.
type Columns struct {
	columns []*Column
}

func NewColumns(columns ...*Column) (*Columns, error) {
	c := &Columns{}
	for _, col := range columns {
		if err := c.Add(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add appends column, or inserts it at the 1-based position when one is
// given. Positions of 1 or less prepend; positions past the end append.
func (c *Columns) Add(column *Column, position ...int) error {
	if c.Has(column.ID()) {
		return errorf(ErrConfiguration, "Columns.Add", "Column with ID %q already exists", column.ID())
	}

	if len(position) == 0 {
		c.columns = append(c.columns, column)
		return nil
	}

	index := position[0] - 1
	if index < 0 {
		index = 0
	}
	if index > len(c.columns) {
		index = len(c.columns)
	}

	c.columns = append(c.columns, nil)
	copy(c.columns[index+1:], c.columns[index:])
	c.columns[index] = column
	return nil
}

// ByID returns the column or an ErrNotFound error
func (c *Columns) ByID(id string) (*Column, error) {
	if col := c.ByIDOrNil(id); col != nil {
		return col, nil
	}
	return nil, errorf(ErrNotFound, "Columns.ByID", "Column with ID %q does not exist", id)
}

func (c *Columns) ByIDOrNil(id string) *Column {
	for _, col := range c.columns {
		if col.ID() == id {
			return col
		}
	}
	return nil
}

func (c *Columns) Has(id string) bool {
	return c.ByIDOrNil(id) != nil
}

// Primary returns the first column marked primary
func (c *Columns) Primary() (*Column, error) {
	for _, col := range c.columns {
		if col.IsPrimary() {
			return col, nil
		}
	}
	return nil, errorf(ErrConfiguration, "Columns.Primary", "Primary column doesn't exists")
}

// Hash is sha256 over "__COLUMN:<id>" for every column in order
func (c *Columns) Hash() string {
	h := sha256.New()
	for _, col := range c.columns {
		h.Write([]byte("__COLUMN:" + col.ID()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// All returns the columns in order. The slice is a copy.
func (c *Columns) All() []*Column {
	return append([]*Column(nil), c.columns...)
}

// SourceColumns returns only the columns that take part in the store query
func (c *Columns) SourceColumns() []*Column {
	out := make([]*Column, 0, len(c.columns))
	for _, col := range c.columns {
		if col.IsVisibleForSource() {
			out = append(out, col)
		}
	}
	return out
}

func (c *Columns) Len() int {
	return len(c.columns)
}
