package basic

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CellKind tags the supported column types.
type CellKind uint8

const (
	KindInt CellKind = iota + 1
	KindChar
)

// IntSize is the encoded width of an INT column.
const IntSize = 8

// FieldType is INT or CHAR(Length).
type FieldType struct {
	Kind   CellKind
	Length int
}

func IntType() FieldType {
	return FieldType{Kind: KindInt, Length: IntSize}
}

func CharType(length int) FieldType {
	return FieldType{Kind: KindChar, Length: length}
}

// Size is the number of bytes a value of this type occupies in a page.
func (t FieldType) Size() int {
	if t.Kind == KindInt {
		return IntSize
	}
	return t.Length
}

func (t FieldType) String() string {
	switch t.Kind {
	case KindInt:
		return "INT"
	case KindChar:
		return fmt.Sprintf("CHAR(%d)", t.Length)
	default:
		return "UNKNOWN"
	}
}

// Field describes one column. Immutable once the schema is built.
type Field struct {
	Name      string
	Type      FieldType
	IsPrimary bool
}

// Schema is the ordered column list shared by every page and tuple of a table.
type Schema struct {
	ID     uuid.UUID
	Fields []Field
}

// NewSchema copies the fields and assigns a fresh identifier.
func NewSchema(fields ...Field) *Schema {
	copied := make([]Field, len(fields))
	copy(copied, fields)
	return &Schema{ID: uuid.New(), Fields: copied}
}

// NewIntSchema builds an all-INT schema whose first column is the primary key.
func NewIntSchema(names ...string) *Schema {
	fields := make([]Field, len(names))
	for i, name := range names {
		fields[i] = Field{Name: name, Type: IntType(), IsPrimary: i == 0}
	}
	return NewSchema(fields...)
}

func (s *Schema) NumFields() int {
	return len(s.Fields)
}

// TupleSize is the fixed encoded width of one tuple.
func (s *Schema) TupleSize() int {
	size := 0
	for _, f := range s.Fields {
		size += f.Type.Size()
	}
	return size
}

// PrimaryIndex returns the first primary column, or -1.
func (s *Schema) PrimaryIndex() int {
	for i, f := range s.Fields {
		if f.IsPrimary {
			return i
		}
	}
	return -1
}

// FieldIndex looks a column up by name.
func (s *Schema) FieldIndex(name string) (int, bool) {
	for i, f := range s.Fields {
		if f.Name == name {
			return i, true
		}
	}
	return -1, false
}

func (s *Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.Name + " " + f.Type.String()
		if f.IsPrimary {
			parts[i] += " PRIMARY"
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
