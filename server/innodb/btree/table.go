// Package btree implements B+-tree tables over the buffer pool.
package btree

import (
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/conf"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// PagePool is what a table needs from the buffer pool. The pool stays owned
// by the database; tables only borrow it per call.
type PagePool interface {
	GetPage(tx basic.TxID, pid pages.PageID, perm basic.Permission) (pages.Page, error)
	NewPage(tx basic.TxID, p pages.Page) error
	MarkDirty(tx basic.TxID, p pages.Page)
	Unpin(p pages.Page)
	DiscardPage(pid pages.PageID)
}

// Table 一张按 key field 组织的 B+ 树表
type Table struct {
	name   string
	layout *pages.TableLayout
	pool   PagePool

	// tree 模式下每个操作只持有这一把表级闩锁
	treeMode  bool
	treeLatch *latch.Latch
}

// NewTable wraps an existing page file. latchMode is conf.LatchModeAncestor
// or conf.LatchModeTree.
func NewTable(name string, layout *pages.TableLayout, pool PagePool, latchMode string) *Table {
	return &Table{
		name:      name,
		layout:    layout,
		pool:      pool,
		treeMode:  latchMode == conf.LatchModeTree,
		treeLatch: latch.NewLatch(),
	}
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) ID() uint32 {
	return t.layout.TableID
}

func (t *Table) KeyField() int {
	return t.layout.KeyField
}

func (t *Table) Schema() *basic.Schema {
	return t.layout.Schema
}

func (t *Table) Layout() *pages.TableLayout {
	return t.layout
}

// enter locks the root pointer for tx, S for readers and X for writers, and
// in tree mode takes the table latch. The lock comes first so no lock wait
// ever happens under the table latch.
func (t *Table) enter(tx basic.TxID, m latch.Mode) (func(), error) {
	perm := basic.ReadOnly
	if m == latch.Exclusive {
		perm = basic.ReadWrite
	}
	p, err := t.pool.GetPage(tx, t.rootPointerID(), perm)
	if err != nil {
		return nil, jerrors.Trace(err)
	}
	t.pool.Unpin(p)

	if !t.treeMode {
		return func() {}, nil
	}
	t.treeLatch.Acquire(m)
	return func() { t.treeLatch.Release(m) }, nil
}

func (t *Table) newLatchSet(tx basic.TxID, m latch.Mode) *latchSet {
	return newLatchSet(t.pool, tx, m, !t.treeMode)
}

func (t *Table) rootPointerID() pages.PageID {
	return pages.RootPointerID(t.layout.TableID)
}

func (t *Table) internalID(index uint32) pages.PageID {
	return pages.NewPageID(t.layout.TableID, pages.CategoryInternal, index)
}

func (t *Table) leafID(index uint32) pages.PageID {
	return pages.NewPageID(t.layout.TableID, pages.CategoryLeaf, index)
}

func checkActive(tx *manager.Transaction) error {
	if tx == nil {
		return jerrors.Annotate(basic.ErrTxFinished, "nil transaction")
	}
	if st := tx.State(); st != manager.TRX_STATE_ACTIVE {
		return jerrors.Annotatef(basic.ErrTxFinished, "%s", tx)
	}
	if cause := tx.RollbackOnly(); cause != nil {
		return jerrors.Annotatef(manager.ErrRollbackOnly, "%s after %v", tx.ID, cause)
	}
	return nil
}

// readPage 以只读方式访问单个页面, 只在 fn 期间持有闩锁和 pin
func (t *Table) readPage(tx basic.TxID, pid pages.PageID, fn func(p pages.Page) error) error {
	ls := t.newLatchSet(tx, latch.Shared)
	defer ls.release()
	p, err := ls.get(pid, basic.ReadOnly)
	if err != nil {
		return err
	}
	return fn(p)
}

func asLeaf(p pages.Page) (*pages.LeafPage, error) {
	leaf, ok := p.(*pages.LeafPage)
	if !ok {
		return nil, jerrors.Annotatef(basic.ErrCorruption, "%s is not a leaf page", p.ID())
	}
	return leaf, nil
}

func asInternal(p pages.Page) (*pages.InternalPage, error) {
	internal, ok := p.(*pages.InternalPage)
	if !ok {
		return nil, jerrors.Annotatef(basic.ErrCorruption, "%s is not an internal page", p.ID())
	}
	return internal, nil
}

func asRootPointer(p pages.Page) (*pages.RootPointerPage, error) {
	rp, ok := p.(*pages.RootPointerPage)
	if !ok {
		return nil, jerrors.Annotatef(basic.ErrCorruption, "%s is not a root pointer page", p.ID())
	}
	return rp, nil
}

func asHeader(p pages.Page) (*pages.HeaderPage, error) {
	h, ok := p.(*pages.HeaderPage)
	if !ok {
		return nil, jerrors.Annotatef(basic.ErrCorruption, "%s is not a header page", p.ID())
	}
	return h, nil
}
