// Package pages implements the fixed-size page images of a B+-tree table file.
package pages

import (
	"sync/atomic"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/latch"
)

// Page is implemented only by *RootPointerPage, *InternalPage, *LeafPage and
// *HeaderPage. Pages know nothing about the buffer pool or locking.
type Page interface {
	ID() PageID
	ParentIndex() uint32
	SetParentIndex(index uint32)

	IsDirty() bool
	Dirtier() basic.TxID
	MarkDirty(tx basic.TxID)
	MarkClean()

	// BeforeImage is the image captured by the last SetBeforeImage.
	BeforeImage() []byte
	SetBeforeImage()
	SetBeforeImageBytes(image []byte)

	Latch() *latch.Latch
	Pin()
	Unpin()
	PinCount() int32

	sealed()
}

type basePage struct {
	pid     PageID
	parent  uint32
	dirty   bool
	dirtier basic.TxID
	before  []byte
	pins    int32
	latch   *latch.Latch
}

func newBasePage(pid PageID, parent uint32) basePage {
	return basePage{pid: pid, parent: parent, latch: latch.NewLatch()}
}

func (b *basePage) ID() PageID {
	return b.pid
}

func (b *basePage) ParentIndex() uint32 {
	return b.parent
}

func (b *basePage) SetParentIndex(index uint32) {
	b.parent = index
}

func (b *basePage) IsDirty() bool {
	return b.dirty
}

func (b *basePage) Dirtier() basic.TxID {
	return b.dirtier
}

func (b *basePage) MarkDirty(tx basic.TxID) {
	b.dirty = true
	b.dirtier = tx
}

func (b *basePage) MarkClean() {
	b.dirty = false
	b.dirtier = 0
}

func (b *basePage) BeforeImage() []byte {
	return b.before
}

// SetBeforeImageBytes installs an image taken elsewhere, e.g. the disk bytes a
// freshly allocated page overwrites. nil means the slot held nothing.
func (b *basePage) SetBeforeImageBytes(image []byte) {
	if image == nil {
		b.before = nil
		return
	}
	b.before = append([]byte(nil), image...)
}

func (b *basePage) Latch() *latch.Latch {
	return b.latch
}

func (b *basePage) Pin() {
	atomic.AddInt32(&b.pins, 1)
}

func (b *basePage) Unpin() {
	if atomic.AddInt32(&b.pins, -1) < 0 {
		atomic.StoreInt32(&b.pins, 0)
	}
}

func (b *basePage) PinCount() int32 {
	return atomic.LoadInt32(&b.pins)
}

func (b *basePage) sealed() {}
