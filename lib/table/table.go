package table

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
)

// Column is one named column, Values holds one scalar per row.
// A scalar is nil, string, int64, float64 or bool.
type Column struct {
	Name   string
	Values []any
}

// Table is the uniform, immutable result of decoding any payload.
// All columns have the same number of rows and column names are unique.
type Table struct {
	columns []Column
	rows    int
}

// New validates the columns and copies them into a Table.
func New(columns ...Column) (Table, error) {
	out := make([]Column, len(columns))
	names := make(map[string]struct{}, len(columns))
	rows := 0
	for i, c := range columns {
		if c.Name == "" {
			return Table{}, fmt.Errorf("column %d has no name", i)
		}
		if _, dup := names[c.Name]; dup {
			return Table{}, fmt.Errorf("duplicate column name %q", c.Name)
		}
		names[c.Name] = struct{}{}

		if i == 0 {
			rows = len(c.Values)
		} else if len(c.Values) != rows {
			return Table{}, fmt.Errorf(
				"column %q has %d rows, expected %d",
				c.Name, len(c.Values), rows,
			)
		}

		values := make([]any, len(c.Values))
		for r, v := range c.Values {
			if !isScalar(v) {
				return Table{}, fmt.Errorf("column %q row %d: unsupported cell type %T", c.Name, r, v)
			}
			values[r] = v
		}
		out[i] = Column{Name: c.Name, Values: values}
	}
	return Table{columns: out, rows: rows}, nil
}

// FromRows builds a table out of a header and row-major data, every row must
// have exactly one value per column.
func FromRows(names []string, rows [][]any) (Table, error) {
	columns := make([]Column, len(names))
	for i, name := range names {
		columns[i] = Column{Name: name, Values: make([]any, len(rows))}
	}
	for r, row := range rows {
		if len(row) != len(names) {
			return Table{}, fmt.Errorf("row %d has %d values, expected %d", r, len(row), len(names))
		}
		for c, v := range row {
			columns[c].Values[r] = v
		}
	}
	return New(columns...)
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, int64, float64, bool:
		return true
	}
	return false
}

func (t Table) NumRows() int {
	return t.rows
}

func (t Table) NumColumns() int {
	return len(t.columns)
}

// Names returns the column names in order.
func (t Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Columns returns a copy of every column.
func (t Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	for i, c := range t.columns {
		values := make([]any, len(c.Values))
		copy(values, c.Values)
		out[i] = Column{Name: c.Name, Values: values}
	}
	return out
}

// Column returns a copy of the values of the named column.
func (t Table) Column(name string) ([]any, bool) {
	for _, c := range t.columns {
		if c.Name == name {
			values := make([]any, len(c.Values))
			copy(values, c.Values)
			return values, true
		}
	}
	return nil, false
}

// Row returns the values of row i in column order, it panics if i is out of range.
func (t Table) Row(i int) []any {
	if i < 0 || i >= t.rows {
		panic(fmt.Sprintf("row %d out of range [0, %d)", i, t.rows))
	}
	row := make([]any, len(t.columns))
	for c, col := range t.columns {
		row[c] = col.Values[i]
	}
	return row
}

// Rows returns all rows in row-major order.
func (t Table) Rows() [][]any {
	rows := make([][]any, t.rows)
	for i := range rows {
		rows[i] = t.Row(i)
	}
	return rows
}

// Equal compares names, order and values. NaN is equal to NaN.
func (t Table) Equal(other Table) bool {
	if t.rows != other.rows || len(t.columns) != len(other.columns) {
		return false
	}
	for i, c := range t.columns {
		o := other.columns[i]
		if c.Name != o.Name {
			return false
		}
		for r := range c.Values {
			if !cellEqual(c.Values[r], o.Values[r]) {
				return false
			}
		}
	}
	return true
}

func cellEqual(a, b any) bool {
	fa, aok := a.(float64)
	fb, bok := b.(float64)
	if aok && bok {
		return fa == fb || (math.IsNaN(fa) && math.IsNaN(fb))
	}
	return a == b
}

type gobTable struct {
	Columns []Column
}

func (t Table) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(gobTable{Columns: t.columns})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *Table) GobDecode(data []byte) error {
	var decoded gobTable
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&decoded)
	if err != nil {
		return err
	}
	restored, err := New(decoded.Columns...)
	if err != nil {
		return err
	}
	*t = restored
	return nil
}
