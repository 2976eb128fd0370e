package btree

import (
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// Iterator 惰性遍历叶子层. It reads one leaf per step and can be consumed
// once:
//
//	it, err := table.Search(tx, pred)
//	for it.Next() {
//		use(it.Tuple())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	table *Table
	tx    *manager.Transaction
	pred  *basic.Predicate

	// key 谓词才有边界
	keyed bool

	started bool
	done    bool
	next    uint32 // 下一个叶子, pages.NoSibling at the end
	buf     []*basic.Tuple
	pos     int
	cur     *basic.Tuple
	err     error
}

// Search returns a lazy iterator over the tuples matching pred, all of them
// when pred is nil. Predicates on the key field other than NotEquals and Like
// start at the leftmost leaf that may match and stop past the last one.
func (t *Table) Search(tx *manager.Transaction, pred *basic.Predicate) (*Iterator, error) {
	if err := checkActive(tx); err != nil {
		return nil, err
	}
	if pred != nil {
		if pred.FieldIndex < 0 || pred.FieldIndex >= t.layout.Schema.NumFields() {
			return nil, jerrors.Annotatef(basic.ErrSchemaMismatch, "predicate field %d", pred.FieldIndex)
		}
		if pred.Op != basic.Like && pred.Value.Kind() != t.layout.Schema.Fields[pred.FieldIndex].Type.Kind {
			return nil, jerrors.Annotatef(basic.ErrSchemaMismatch, "predicate %s on %s", pred, t.layout.Schema.Fields[pred.FieldIndex].Name)
		}
	}
	it := &Iterator{table: t, tx: tx, pred: pred}
	it.keyed = pred != nil && pred.FieldIndex == t.layout.KeyField &&
		pred.Op != basic.NotEquals && pred.Op != basic.Like
	return it, nil
}

// Next advances to the next matching tuple.
func (it *Iterator) Next() bool {
	for {
		if it.done || it.err != nil {
			it.cur = nil
			return false
		}
		if it.pos < len(it.buf) {
			it.cur = it.buf[it.pos]
			it.pos++
			return true
		}
		if it.started && it.next == pages.NoSibling {
			it.done = true
			continue
		}
		if err := it.step(); err != nil {
			it.err = err
		}
	}
}

func (it *Iterator) Tuple() *basic.Tuple {
	return it.cur
}

func (it *Iterator) Err() error {
	return it.err
}

// Close stops the iteration early. Locks stay with the transaction.
func (it *Iterator) Close() {
	it.done = true
	it.buf = nil
}

// All drains the iterator.
func (it *Iterator) All() ([]*basic.Tuple, error) {
	var out []*basic.Tuple
	for it.Next() {
		out = append(out, it.Tuple())
	}
	return out, it.Err()
}

// step loads the first leaf or the next one along the sibling chain.
func (it *Iterator) step() error {
	if err := checkActive(it.tx); err != nil {
		return err
	}
	t := it.table
	done, err := t.enter(it.tx.ID, latch.Shared)
	if err != nil {
		return err
	}
	defer done()

	if !it.started {
		it.started = true
		leafIndex, err := it.firstLeaf()
		if err != nil {
			return err
		}
		it.next = leafIndex
	}
	return t.readPage(it.tx.ID, t.leafID(it.next), func(p pages.Page) error {
		leaf, err := asLeaf(p)
		if err != nil {
			return err
		}
		it.collect(leaf)
		return nil
	})
}

// firstLeaf descends with shared locks, one latched page at a time.
func (it *Iterator) firstLeaf() (uint32, error) {
	t := it.table
	var root pages.PageID
	err := t.readPage(it.tx.ID, t.rootPointerID(), func(p pages.Page) error {
		rp, err := asRootPointer(p)
		if err != nil {
			return err
		}
		root = rp.Root()
		return nil
	})
	if err != nil {
		return 0, jerrors.Trace(err)
	}

	pid := root
	for pid.Category == pages.CategoryInternal {
		err := t.readPage(it.tx.ID, pid, func(p pages.Page) error {
			internal, err := asInternal(p)
			if err != nil {
				return err
			}
			child := 0
			if it.keyed && it.startsAtKey() {
				child = internal.ChildFor(it.pred.Value)
			}
			pid = internal.Child(child)
			return nil
		})
		if err != nil {
			return 0, jerrors.Trace(err)
		}
	}
	if pid.Category != pages.CategoryLeaf {
		return 0, jerrors.Annotatef(basic.ErrCorruption, "descent of %s ended at %s", t.name, pid)
	}
	return pid.Index, nil
}

func (it *Iterator) startsAtKey() bool {
	switch it.pred.Op {
	case basic.Equals, basic.GreaterThan, basic.GreaterThanOrEq:
		return true
	}
	return false
}

// pastBound reports that no later key can match.
func (it *Iterator) pastBound(key basic.Cell) bool {
	if !it.keyed {
		return false
	}
	c := key.Compare(it.pred.Value)
	switch it.pred.Op {
	case basic.Equals, basic.LessThanOrEq:
		return c > 0
	case basic.LessThan:
		return c >= 0
	}
	return false
}

func (it *Iterator) collect(leaf *pages.LeafPage) {
	it.buf = it.buf[:0]
	it.pos = 0
	it.next = leaf.RightIndex()
	for i := 0; i < leaf.NumTuples(); i++ {
		if it.pastBound(leaf.Key(i)) {
			it.next = pages.NoSibling
			break
		}
		tuple := leaf.Tuple(i)
		if it.pred == nil || it.pred.Matches(tuple) {
			it.buf = append(it.buf, tuple.Clone())
		}
	}
}
