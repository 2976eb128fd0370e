package btree

import (
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// Insert adds tuple in key order. Every page from the root pointer down to
// the target leaf is write-locked and latched before anything changes and
// stays latched until the split, if any, has reached the top. A failure after
// the first page changed leaves tx rollback-only.
func (t *Table) Insert(tx *manager.Transaction, tuple *basic.Tuple) (err error) {
	if err := checkActive(tx); err != nil {
		return err
	}
	if err := tuple.Conforms(t.layout.Schema); err != nil {
		return err
	}

	done, err := t.enter(tx.ID, latch.Exclusive)
	if err != nil {
		return err
	}
	defer done()
	ls := t.newLatchSet(tx.ID, latch.Exclusive)
	defer ls.release()
	defer func() { ls.doom(tx, err) }()

	rp, err := t.writeRootPointer(ls)
	if err != nil {
		return err
	}
	leaf, err := t.descendForWrite(ls, rp.Root(), t.layout.Key(tuple))
	if err != nil {
		return err
	}

	leaf.InsertTuple(tuple.Clone())
	ls.dirty(leaf)
	if leaf.NumTuples() <= leaf.Capacity() {
		return nil
	}
	return t.splitLeaf(ls, rp, leaf)
}

func (t *Table) writeRootPointer(ls *latchSet) (*pages.RootPointerPage, error) {
	p, err := ls.get(t.rootPointerID(), basic.ReadWrite)
	if err != nil {
		return nil, jerrors.Trace(err)
	}
	return asRootPointer(p)
}

// descendForWrite 从 root 向下锁住整条路径, returning the leftmost leaf that
// may hold key.
func (t *Table) descendForWrite(ls *latchSet, pid pages.PageID, key basic.Cell) (*pages.LeafPage, error) {
	for {
		p, err := ls.get(pid, basic.ReadWrite)
		if err != nil {
			return nil, jerrors.Trace(err)
		}
		switch page := p.(type) {
		case *pages.LeafPage:
			return page, nil
		case *pages.InternalPage:
			pid = page.Child(page.ChildFor(key))
		default:
			return nil, jerrors.Annotatef(basic.ErrCorruption, "unexpected %s below the root pointer", pid)
		}
	}
}

// splitLeaf moves the upper half of an overflowing leaf to a new right
// sibling and pushes the sibling's first key into the parent.
func (t *Table) splitLeaf(ls *latchSet, rp *pages.RootPointerPage, leaf *pages.LeafPage) error {
	right, err := t.newLeaf(ls, rp, leaf.ParentIndex())
	if err != nil {
		return err
	}

	tuples := leaf.Tuples()
	keep := len(tuples) - len(tuples)/2
	leaf.SetTuples(tuples[:keep])
	right.SetTuples(tuples[keep:])

	// 维护兄弟链表
	if next, ok := leaf.Right(); ok {
		err := ls.update(next, func(p pages.Page) {
			if n, ok := p.(*pages.LeafPage); ok {
				n.SetLeftIndex(right.ID().Index)
			}
		})
		if err != nil {
			return jerrors.Trace(err)
		}
	}
	right.SetRightIndex(leaf.RightIndex())
	right.SetLeftIndex(leaf.ID().Index)
	leaf.SetRightIndex(right.ID().Index)
	ls.dirty(leaf)
	ls.dirty(right)

	return t.insertIntoParent(ls, rp, leaf, right.Key(0), right)
}

// insertIntoParent links right next to left under sep, growing a new root
// when left was the root.
func (t *Table) insertIntoParent(ls *latchSet, rp *pages.RootPointerPage, left pages.Page, sep basic.Cell, right pages.Page) error {
	if left.ParentIndex() == pages.RootPointerIndex {
		root, err := t.newInternal(ls, rp, pages.RootPointerIndex, left.ID().Category)
		if err != nil {
			return err
		}
		root.SetEntries([]basic.Cell{sep}, []uint32{left.ID().Index, right.ID().Index}, left.ID().Category)
		left.SetParentIndex(root.ID().Index)
		right.SetParentIndex(root.ID().Index)
		rp.SetRoot(root.ID())
		rp.SetHeight(rp.Height() + 1)
		ls.dirty(left)
		ls.dirty(right)
		ls.dirty(rp)
		return nil
	}

	p, err := ls.get(t.internalID(left.ParentIndex()), basic.ReadWrite)
	if err != nil {
		return jerrors.Trace(err)
	}
	parent, err := asInternal(p)
	if err != nil {
		return err
	}
	pos := parent.ChildPosition(left.ID().Index)
	if pos < 0 {
		return jerrors.Annotatef(basic.ErrCorruption, "%s does not list child %s", parent.ID(), left.ID())
	}
	parent.InsertEntry(pos, sep, right.ID().Index)
	right.SetParentIndex(parent.ID().Index)
	ls.dirty(right)
	ls.dirty(parent)

	if parent.NumKeys() <= parent.Capacity() {
		return nil
	}
	return t.splitInternal(ls, rp, parent)
}

// splitInternal keeps the lower half of the keys, moves the upper half to a
// new sibling and pushes the middle key up.
func (t *Table) splitInternal(ls *latchSet, rp *pages.RootPointerPage, page *pages.InternalPage) error {
	right, err := t.newInternal(ls, rp, page.ParentIndex(), page.ChildCategory())
	if err != nil {
		return err
	}

	keys := page.Keys()
	children := page.ChildIndexes()
	mid := len(keys) / 2
	sep := keys[mid]
	page.SetEntries(keys[:mid], children[:mid+1], page.ChildCategory())
	right.SetEntries(keys[mid+1:], children[mid+1:], page.ChildCategory())
	ls.dirty(page)
	ls.dirty(right)

	if err := t.reparent(ls, right, children[mid+1:]); err != nil {
		return err
	}
	return t.insertIntoParent(ls, rp, page, sep, right)
}

// reparent points the listed children of page back at it.
func (t *Table) reparent(ls *latchSet, page *pages.InternalPage, moved []uint32) error {
	index := page.ID().Index
	for _, c := range moved {
		child := pages.NewPageID(t.layout.TableID, page.ChildCategory(), c)
		err := ls.update(child, func(p pages.Page) {
			p.SetParentIndex(index)
		})
		if err != nil {
			return jerrors.Trace(err)
		}
	}
	return nil
}
