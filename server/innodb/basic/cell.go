package basic

import (
	"strconv"
	"strings"

	"github.com/zhukovaskychina/xmysql-btree/util"
)

// Cell is one column value: a closed union over INT and CHAR.
type Cell struct {
	kind CellKind
	i    int64
	s    string
}

func IntCell(v int64) Cell {
	return Cell{kind: KindInt, i: v}
}

func CharCell(v string) Cell {
	return Cell{kind: KindChar, s: v}
}

func (c Cell) Kind() CellKind {
	return c.kind
}

// Int returns the value of an INT cell.
func (c Cell) Int() int64 {
	return c.i
}

// Text returns the CHAR value, or the decimal form of an INT.
func (c Cell) Text() string {
	if c.kind == KindInt {
		return strconv.FormatInt(c.i, 10)
	}
	return c.s
}

func (c Cell) String() string {
	if c.kind == KindChar {
		return strconv.Quote(c.s)
	}
	return c.Text()
}

// Compare orders cells of the same kind; cells of different kinds order by kind.
func (c Cell) Compare(o Cell) int {
	if c.kind != o.kind {
		if c.kind < o.kind {
			return -1
		}
		return 1
	}
	switch c.kind {
	case KindInt:
		switch {
		case c.i < o.i:
			return -1
		case c.i > o.i:
			return 1
		}
		return 0
	case KindChar:
		switch {
		case c.s < o.s:
			return -1
		case c.s > o.s:
			return 1
		}
		return 0
	}
	return 0
}

func (c Cell) Equal(o Cell) bool {
	return c.Compare(o) == 0
}

// fits reports whether the cell can be stored in a column of type t. CHAR
// images are NUL padded, so a NUL inside the value would not survive a reload.
func (c Cell) fits(t FieldType) bool {
	if c.kind != t.Kind {
		return false
	}
	if c.kind == KindChar {
		return len(c.s) <= t.Length && strings.IndexByte(c.s, 0) < 0
	}
	return true
}

// AppendCell encodes c as a fixed-width value of type t.
func AppendCell(buf []byte, c Cell, t FieldType) []byte {
	if t.Kind == KindInt {
		return util.WriteUB8(buf, uint64(c.i))
	}
	return util.WriteFixed(buf, []byte(c.s), t.Length)
}

// DecodeCell reads a fixed-width value of type t from the start of data.
func DecodeCell(data []byte, t FieldType) Cell {
	if t.Kind == KindInt {
		_, v := util.ReadUB8(data, 0)
		return IntCell(int64(v))
	}
	return CharCell(string(util.TrimZero(data[:t.Length])))
}
