package pages

import (
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
)

// InternalPage holds n separator keys and n+1 child indexes. Every child has
// the same category. For separator keys[i], keys under children[i] are <= it
// and keys under children[i+1] are >= it.
type InternalPage struct {
	basePage
	layout        *TableLayout
	childCategory Category
	keys          []basic.Cell
	children      []uint32
}

func NewInternalPage(pid PageID, layout *TableLayout, parent uint32, childCategory Category) *InternalPage {
	return &InternalPage{
		basePage:      newBasePage(pid, parent),
		layout:        layout,
		childCategory: childCategory,
	}
}

func (p *InternalPage) Layout() *TableLayout {
	return p.layout
}

func (p *InternalPage) NumKeys() int {
	return len(p.keys)
}

func (p *InternalPage) Capacity() int {
	return p.layout.InternalCapacity
}

func (p *InternalPage) IsFull() bool {
	return len(p.keys) >= p.layout.InternalCapacity
}

func (p *InternalPage) Key(i int) basic.Cell {
	return p.keys[i]
}

func (p *InternalPage) SetKey(i int, key basic.Cell) {
	p.keys[i] = key
}

// Keys returns a copy.
func (p *InternalPage) Keys() []basic.Cell {
	return append([]basic.Cell(nil), p.keys...)
}

func (p *InternalPage) ChildCategory() Category {
	return p.childCategory
}

func (p *InternalPage) Child(i int) PageID {
	return NewPageID(p.pid.TableID, p.childCategory, p.children[i])
}

func (p *InternalPage) NumChildren() int {
	return len(p.children)
}

// ChildIndexes returns a copy of the child page indexes.
func (p *InternalPage) ChildIndexes() []uint32 {
	return append([]uint32(nil), p.children...)
}

// ChildPosition finds the slot that points at index, or -1.
func (p *InternalPage) ChildPosition(index uint32) int {
	for i, c := range p.children {
		if c == index {
			return i
		}
	}
	return -1
}

// SetEntries replaces the whole routing table. len(children) must be
// len(keys)+1, or both empty.
func (p *InternalPage) SetEntries(keys []basic.Cell, children []uint32, childCategory Category) {
	p.keys = append([]basic.Cell(nil), keys...)
	p.children = append([]uint32(nil), children...)
	p.childCategory = childCategory
}

// InsertEntry puts key at position i with right as the child after it.
func (p *InternalPage) InsertEntry(i int, key basic.Cell, right uint32) {
	p.keys = append(p.keys, basic.Cell{})
	copy(p.keys[i+1:], p.keys[i:])
	p.keys[i] = key

	p.children = append(p.children, 0)
	copy(p.children[i+2:], p.children[i+1:])
	p.children[i+1] = right
}

// RemoveEntry drops key i and the child to its right.
func (p *InternalPage) RemoveEntry(i int) {
	p.keys = append(p.keys[:i], p.keys[i+1:]...)
	p.children = append(p.children[:i+1], p.children[i+2:]...)
}

// ChildFor is the leftmost child whose subtree may hold key.
func (p *InternalPage) ChildFor(key basic.Cell) int {
	for i, k := range p.keys {
		if key.Compare(k) <= 0 {
			return i
		}
	}
	return len(p.keys)
}

func (p *InternalPage) SetBeforeImage() {
	p.before = Serialize(p)
}
