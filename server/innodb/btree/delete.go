package btree

import (
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// Delete removes one tuple equal to tuple. Duplicates of its key may span
// several leaves, so the owning leaf is located first and the path from the
// root down to it is then latched in order before any page changes. A failed
// merge leaves tx rollback-only.
func (t *Table) Delete(tx *manager.Transaction, tuple *basic.Tuple) (err error) {
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

	path, err := t.locate(tx.ID, tuple)
	if err != nil {
		return err
	}

	ls := t.newLatchSet(tx.ID, latch.Exclusive)
	defer ls.release()
	defer func() { ls.doom(tx, err) }()
	rp, err := t.writeRootPointer(ls)
	if err != nil {
		return err
	}
	var leaf *pages.LeafPage
	for _, pid := range path {
		p, err := ls.get(pid, basic.ReadWrite)
		if err != nil {
			return jerrors.Trace(err)
		}
		if l, ok := p.(*pages.LeafPage); ok {
			leaf = l
		}
	}
	if leaf == nil {
		return jerrors.Annotatef(basic.ErrCorruption, "path %v does not end in a leaf", path)
	}

	slot := findTuple(leaf, t.layout.Key(tuple), tuple)
	if slot < 0 {
		return jerrors.Annotatef(basic.ErrCorruption, "%s lost tuple %s", leaf.ID(), tuple)
	}
	leaf.RemoveTuple(slot)
	ls.dirty(leaf)
	return t.rebalanceLeaf(ls, rp, leaf)
}

func findTuple(leaf *pages.LeafPage, key basic.Cell, tuple *basic.Tuple) int {
	for i := leaf.LowerBound(key); i < leaf.NumTuples(); i++ {
		if leaf.Key(i).Compare(key) != 0 {
			break
		}
		if leaf.Tuple(i).Equal(tuple) {
			return i
		}
	}
	return -1
}

// locate finds the leaf holding tuple and returns the page ids from the
// root down to it. Pages are write-locked but latched only while read.
func (t *Table) locate(tx basic.TxID, tuple *basic.Tuple) ([]pages.PageID, error) {
	key := t.layout.Key(tuple)
	ls := t.newLatchSet(tx, latch.Exclusive)
	defer ls.release()

	rp, err := t.writeRootPointer(ls)
	if err != nil {
		return nil, err
	}
	leaf, err := t.descendForWrite(ls, rp.Root(), key)
	if err != nil {
		return nil, err
	}

	for {
		if findTuple(leaf, key, tuple) >= 0 {
			break
		}
		next, ok := leaf.Right()
		if !ok || (leaf.NumTuples() > 0 && leaf.Key(leaf.NumTuples()-1).Compare(key) > 0) {
			return nil, jerrors.Annotatef(basic.ErrTupleNotFound, "%s in %s", tuple, t.name)
		}
		p, err := ls.get(next, basic.ReadWrite)
		if err != nil {
			return nil, jerrors.Trace(err)
		}
		if leaf, err = asLeaf(p); err != nil {
			return nil, err
		}
	}

	// 沿 parent 指针回到 root
	path := []pages.PageID{leaf.ID()}
	var cur pages.Page = leaf
	for cur.ParentIndex() != pages.RootPointerIndex {
		p, err := ls.get(t.internalID(cur.ParentIndex()), basic.ReadWrite)
		if err != nil {
			return nil, jerrors.Trace(err)
		}
		path = append(path, p.ID())
		cur = p
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// rebalanceLeaf restores minimum occupancy of a non-root leaf by borrowing
// from a sibling under the same parent, or by merging with it.
func (t *Table) rebalanceLeaf(ls *latchSet, rp *pages.RootPointerPage, leaf *pages.LeafPage) error {
	if leaf.ParentIndex() == pages.RootPointerIndex || leaf.NumTuples() >= t.layout.MinLeafOccupancy() {
		return nil
	}
	parent, pos, err := t.parentOf(ls, leaf)
	if err != nil {
		return err
	}

	var siblings []int
	if pos > 0 {
		siblings = append(siblings, pos-1)
	}
	if pos < parent.NumKeys() {
		siblings = append(siblings, pos+1)
	}
	if len(siblings) == 0 {
		return jerrors.Annotatef(basic.ErrCorruption, "%s has a single child", parent.ID())
	}

	var chosen *pages.LeafPage
	chosenPos := -1
	for _, sp := range siblings {
		p, err := ls.get(parent.Child(sp), basic.ReadWrite)
		if err != nil {
			return jerrors.Trace(err)
		}
		sib, err := asLeaf(p)
		if err != nil {
			return err
		}
		if chosen == nil {
			chosen, chosenPos = sib, sp
		}
		if sib.NumTuples() > t.layout.MinLeafOccupancy() {
			chosen, chosenPos = sib, sp
			break
		}
	}

	left, right, sepIdx := chosen, leaf, chosenPos
	if chosenPos > pos {
		left, right, sepIdx = leaf, chosen, pos
	}
	combined := append(left.Tuples(), right.Tuples()...)

	if chosen.NumTuples() > t.layout.MinLeafOccupancy() {
		// redistribute
		n := len(combined) / 2
		left.SetTuples(combined[:n])
		right.SetTuples(combined[n:])
		parent.SetKey(sepIdx, right.Key(0))
		ls.dirty(left)
		ls.dirty(right)
		ls.dirty(parent)
		return nil
	}

	// merge right into left
	left.SetTuples(combined)
	left.SetRightIndex(right.RightIndex())
	if next, ok := right.Right(); ok {
		err := ls.update(next, func(p pages.Page) {
			if n, ok := p.(*pages.LeafPage); ok {
				n.SetLeftIndex(left.ID().Index)
			}
		})
		if err != nil {
			return jerrors.Trace(err)
		}
	}
	right.SetTuples(nil)
	parent.RemoveEntry(sepIdx)
	ls.dirty(left)
	ls.dirty(right)
	ls.dirty(parent)
	if err := t.freeIndex(ls, rp, right.ID()); err != nil {
		return err
	}
	return t.rebalanceInternal(ls, rp, parent)
}

// rebalanceInternal does the same for internal pages, rotating keys through
// the parent separator. An empty root is replaced by its only child.
func (t *Table) rebalanceInternal(ls *latchSet, rp *pages.RootPointerPage, page *pages.InternalPage) error {
	if page.ParentIndex() == pages.RootPointerIndex {
		if page.NumKeys() > 0 {
			return nil
		}
		child := page.Child(0)
		err := ls.update(child, func(p pages.Page) {
			p.SetParentIndex(pages.RootPointerIndex)
		})
		if err != nil {
			return jerrors.Trace(err)
		}
		rp.SetRoot(child)
		rp.SetHeight(rp.Height() - 1)
		ls.dirty(rp)
		return t.freeIndex(ls, rp, page.ID())
	}
	if page.NumKeys() >= t.layout.MinInternalOccupancy() {
		return nil
	}

	parent, pos, err := t.parentOf(ls, page)
	if err != nil {
		return err
	}
	var siblings []int
	if pos > 0 {
		siblings = append(siblings, pos-1)
	}
	if pos < parent.NumKeys() {
		siblings = append(siblings, pos+1)
	}
	if len(siblings) == 0 {
		return jerrors.Annotatef(basic.ErrCorruption, "%s has a single child", parent.ID())
	}

	var chosen *pages.InternalPage
	chosenPos := -1
	for _, sp := range siblings {
		p, err := ls.get(parent.Child(sp), basic.ReadWrite)
		if err != nil {
			return jerrors.Trace(err)
		}
		sib, err := asInternal(p)
		if err != nil {
			return err
		}
		if chosen == nil {
			chosen, chosenPos = sib, sp
		}
		if sib.NumKeys() > t.layout.MinInternalOccupancy() {
			chosen, chosenPos = sib, sp
			break
		}
	}

	left, right, sepIdx := chosen, page, chosenPos
	if chosenPos > pos {
		left, right, sepIdx = page, chosen, pos
	}
	category := page.ChildCategory()
	keys := append(append(left.Keys(), parent.Key(sepIdx)), right.Keys()...)
	leftChildren := left.ChildIndexes()
	rightChildren := right.ChildIndexes()
	children := append(append([]uint32(nil), leftChildren...), rightChildren...)

	if chosen.NumKeys() > t.layout.MinInternalOccupancy() {
		// redistribute
		n := (len(keys) - 1) / 2
		left.SetEntries(keys[:n], children[:n+1], category)
		right.SetEntries(keys[n+1:], children[n+1:], category)
		parent.SetKey(sepIdx, keys[n])
		ls.dirty(left)
		ls.dirty(right)
		ls.dirty(parent)

		if len(leftChildren) > n+1 {
			return t.reparent(ls, right, leftChildren[n+1:])
		}
		return t.reparent(ls, left, rightChildren[:n+1-len(leftChildren)])
	}

	// merge right into left
	left.SetEntries(keys, children, category)
	right.SetEntries(nil, nil, category)
	parent.RemoveEntry(sepIdx)
	ls.dirty(left)
	ls.dirty(right)
	ls.dirty(parent)
	if err := t.reparent(ls, left, rightChildren); err != nil {
		return err
	}
	if err := t.freeIndex(ls, rp, right.ID()); err != nil {
		return err
	}
	return t.rebalanceInternal(ls, rp, parent)
}

func (t *Table) parentOf(ls *latchSet, child pages.Page) (*pages.InternalPage, int, error) {
	p, err := ls.get(t.internalID(child.ParentIndex()), basic.ReadWrite)
	if err != nil {
		return nil, 0, jerrors.Trace(err)
	}
	parent, err := asInternal(p)
	if err != nil {
		return nil, 0, err
	}
	pos := parent.ChildPosition(child.ID().Index)
	if pos < 0 {
		return nil, 0, jerrors.Annotatef(basic.ErrCorruption, "%s does not list child %s", parent.ID(), child.ID())
	}
	return parent, pos, nil
}
