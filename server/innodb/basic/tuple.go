package basic

import (
	"strings"

	"github.com/pkg/errors"
)

// Tuple is one row: a cell per schema field.
type Tuple struct {
	Cells []Cell
}

func NewTuple(cells ...Cell) *Tuple {
	return &Tuple{Cells: cells}
}

// IntTuple is shorthand for all-INT rows.
func IntTuple(values ...int64) *Tuple {
	cells := make([]Cell, len(values))
	for i, v := range values {
		cells[i] = IntCell(v)
	}
	return &Tuple{Cells: cells}
}

func (t *Tuple) Cell(i int) Cell {
	return t.Cells[i]
}

func (t *Tuple) Len() int {
	return len(t.Cells)
}

func (t *Tuple) Equal(o *Tuple) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.Cells) != len(o.Cells) {
		return false
	}
	for i := range t.Cells {
		if !t.Cells[i].Equal(o.Cells[i]) {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no state with t.
func (t *Tuple) Clone() *Tuple {
	cells := make([]Cell, len(t.Cells))
	copy(cells, t.Cells)
	return &Tuple{Cells: cells}
}

// Conforms checks arity, kinds and CHAR widths against the schema.
func (t *Tuple) Conforms(s *Schema) error {
	if len(t.Cells) != len(s.Fields) {
		return errors.WithMessagef(ErrSchemaMismatch, "tuple has %d cells, schema has %d fields", len(t.Cells), len(s.Fields))
	}
	for i, f := range s.Fields {
		if !t.Cells[i].fits(f.Type) {
			return errors.WithMessagef(ErrSchemaMismatch, "cell %d (%s) does not fit %s %s", i, t.Cells[i], f.Name, f.Type)
		}
	}
	return nil
}

// Encode appends the fixed-width image of t. The caller checks Conforms first.
func (t *Tuple) Encode(buf []byte, s *Schema) []byte {
	for i, f := range s.Fields {
		buf = AppendCell(buf, t.Cells[i], f.Type)
	}
	return buf
}

// DecodeTuple reads one tuple image.
func DecodeTuple(s *Schema, data []byte) (*Tuple, error) {
	if len(data) < s.TupleSize() {
		return nil, errors.WithMessagef(ErrCorruption, "tuple image has %d bytes, need %d", len(data), s.TupleSize())
	}
	cells := make([]Cell, len(s.Fields))
	offset := 0
	for i, f := range s.Fields {
		cells[i] = DecodeCell(data[offset:], f.Type)
		offset += f.Type.Size()
	}
	return &Tuple{Cells: cells}, nil
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.Cells))
	for i, c := range t.Cells {
		parts[i] = c.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
