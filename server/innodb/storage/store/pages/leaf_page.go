package pages

import (
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
)

// NoSibling marks the end of the leaf chain. Index 0 is the root pointer page
// and is never a leaf.
const NoSibling uint32 = 0

// LeafPage holds tuples sorted by the key field plus the sibling chain.
type LeafPage struct {
	basePage
	layout *TableLayout
	left   uint32
	right  uint32
	tuples []*basic.Tuple
}

func NewLeafPage(pid PageID, layout *TableLayout, parent uint32) *LeafPage {
	return &LeafPage{
		basePage: newBasePage(pid, parent),
		layout:   layout,
	}
}

func (p *LeafPage) Layout() *TableLayout {
	return p.layout
}

func (p *LeafPage) NumTuples() int {
	return len(p.tuples)
}

func (p *LeafPage) Capacity() int {
	return p.layout.LeafCapacity
}

func (p *LeafPage) IsFull() bool {
	return len(p.tuples) >= p.layout.LeafCapacity
}

func (p *LeafPage) Tuple(i int) *basic.Tuple {
	return p.tuples[i]
}

// Tuples returns a copy of the slot array.
func (p *LeafPage) Tuples() []*basic.Tuple {
	return append([]*basic.Tuple(nil), p.tuples...)
}

func (p *LeafPage) SetTuples(tuples []*basic.Tuple) {
	p.tuples = append([]*basic.Tuple(nil), tuples...)
}

func (p *LeafPage) Key(i int) basic.Cell {
	return p.layout.Key(p.tuples[i])
}

// InsertPosition is the slot after every tuple whose key is <= key.
func (p *LeafPage) InsertPosition(key basic.Cell) int {
	lo, hi := 0, len(p.tuples)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.Key(mid).Compare(key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// LowerBound is the first slot whose key is >= key.
func (p *LeafPage) LowerBound(key basic.Cell) int {
	lo, hi := 0, len(p.tuples)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.Key(mid).Compare(key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (p *LeafPage) InsertTuple(t *basic.Tuple) {
	i := p.InsertPosition(p.layout.Key(t))
	p.tuples = append(p.tuples, nil)
	copy(p.tuples[i+1:], p.tuples[i:])
	p.tuples[i] = t
}

func (p *LeafPage) RemoveTuple(i int) {
	p.tuples = append(p.tuples[:i], p.tuples[i+1:]...)
}

func (p *LeafPage) Left() (PageID, bool) {
	return NewPageID(p.pid.TableID, CategoryLeaf, p.left), p.left != NoSibling
}

func (p *LeafPage) Right() (PageID, bool) {
	return NewPageID(p.pid.TableID, CategoryLeaf, p.right), p.right != NoSibling
}

func (p *LeafPage) LeftIndex() uint32  { return p.left }
func (p *LeafPage) RightIndex() uint32 { return p.right }

func (p *LeafPage) SetLeftIndex(index uint32)  { p.left = index }
func (p *LeafPage) SetRightIndex(index uint32) { p.right = index }

func (p *LeafPage) SetBeforeImage() {
	p.before = Serialize(p)
}
