package pages

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
)

// 页面布局常量
const (
	PageSize     = 4096
	ChecksumSize = 4
	PayloadEnd   = PageSize - ChecksumSize

	commonHeaderSize     = 8
	leafHeaderSize       = 18
	internalHeaderSize   = 14
	headerPageHeaderSize = 16

	HeaderBitmapSize = PayloadEnd - headerPageHeaderSize
	// SlotsPerHeader is the number of page indexes one header page tracks.
	SlotsPerHeader = HeaderBitmapSize * 8
)

// 固定页号
const (
	RootPointerIndex uint32 = 0
	FirstHeaderIndex uint32 = 1
	InitialRootIndex uint32 = 2
)

// TableLayout fixes how one table's pages are encoded.
type TableLayout struct {
	TableID          uint32
	Schema           *basic.Schema
	KeyField         int
	LeafCapacity     int
	InternalCapacity int
}

// PhysicalLeafCapacity is the number of tuples that fit in one leaf page.
func PhysicalLeafCapacity(schema *basic.Schema) int {
	return (PayloadEnd - leafHeaderSize) / schema.TupleSize()
}

// PhysicalInternalCapacity is the number of keys that fit in one internal page,
// counting the extra child pointer.
func PhysicalInternalCapacity(keyType basic.FieldType) int {
	return (PayloadEnd - internalHeaderSize - 4) / (keyType.Size() + 4)
}

// NewTableLayout bounds the configured capacities by the physical ones. A
// configured capacity of 0 means the physical maximum.
func NewTableLayout(tableID uint32, schema *basic.Schema, keyField, leafCapacity, internalCapacity int) (*TableLayout, error) {
	if schema == nil || len(schema.Fields) == 0 {
		return nil, errors.WithMessage(basic.ErrSchemaMismatch, "empty schema")
	}
	if keyField < 0 || keyField >= len(schema.Fields) {
		return nil, errors.WithMessagef(basic.ErrSchemaMismatch, "key field %d out of range", keyField)
	}
	leafMax := PhysicalLeafCapacity(schema)
	internalMax := PhysicalInternalCapacity(schema.Fields[keyField].Type)
	layout := &TableLayout{
		TableID:          tableID,
		Schema:           schema,
		KeyField:         keyField,
		LeafCapacity:     clampCapacity(leafCapacity, leafMax),
		InternalCapacity: clampCapacity(internalCapacity, internalMax),
	}
	if layout.LeafCapacity < 2 || layout.InternalCapacity < 2 {
		return nil, errors.WithMessagef(basic.ErrSchemaMismatch,
			"tuples too wide: leaf capacity %d, internal capacity %d", layout.LeafCapacity, layout.InternalCapacity)
	}
	return layout, nil
}

func clampCapacity(configured, physical int) int {
	if configured <= 0 || configured > physical {
		return physical
	}
	return configured
}

func (l *TableLayout) KeyType() basic.FieldType {
	return l.Schema.Fields[l.KeyField].Type
}

// Key extracts the key cell of a tuple.
func (l *TableLayout) Key(t *basic.Tuple) basic.Cell {
	return t.Cell(l.KeyField)
}

// MinLeafOccupancy is the fewest tuples a non-root leaf may hold.
func (l *TableLayout) MinLeafOccupancy() int {
	return l.LeafCapacity / 2
}

// MinInternalOccupancy is the fewest keys a non-root internal page may hold.
func (l *TableLayout) MinInternalOccupancy() int {
	return l.InternalCapacity / 2
}
