package pages

import (
	"github.com/zhukovaskychina/xmysql-btree/util"
)

// HeaderPage 空闲页位图. Header k tracks page indexes [k*SlotsPerHeader,
// (k+1)*SlotsPerHeader); headers are chained through next.
type HeaderPage struct {
	basePage
	next   uint32
	base   uint32
	bitmap [HeaderBitmapSize]byte
}

func NewHeaderPage(pid PageID, base uint32) *HeaderPage {
	return &HeaderPage{
		basePage: newBasePage(pid, 0),
		base:     base,
	}
}

func (p *HeaderPage) Base() uint32 {
	return p.base
}

// Next returns the following header page, if any.
func (p *HeaderPage) Next() (PageID, bool) {
	return NewPageID(p.pid.TableID, CategoryHeader, p.next), p.next != 0
}

func (p *HeaderPage) SetNextIndex(index uint32) {
	p.next = index
}

func (p *HeaderPage) Covers(index uint32) bool {
	return index >= p.base && index < p.base+SlotsPerHeader
}

func (p *HeaderPage) IsUsed(index uint32) bool {
	return util.BitSet(p.bitmap[:], int(index-p.base))
}

func (p *HeaderPage) MarkUsed(index uint32) {
	util.SetBit(p.bitmap[:], int(index-p.base))
}

func (p *HeaderPage) MarkFree(index uint32) {
	util.ClearBit(p.bitmap[:], int(index-p.base))
}

// FirstFree returns the lowest unused index tracked by this header.
func (p *HeaderPage) FirstFree() (uint32, bool) {
	slot := util.FirstClearBit(p.bitmap[:], 0)
	if slot < 0 {
		return 0, false
	}
	return p.base + uint32(slot), true
}

func (p *HeaderPage) UsedCount() int {
	return util.CountBits(p.bitmap[:])
}

func (p *HeaderPage) SetBeforeImage() {
	p.before = Serialize(p)
}
