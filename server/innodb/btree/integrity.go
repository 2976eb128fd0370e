package btree

import (
	"fmt"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

type leafRef struct {
	index       uint32
	left, right uint32
}

type checker struct {
	t      *Table
	tx     basic.TxID
	height int
	leaves []leafRef
	used   map[uint32]bool
}

// CheckIntegrity walks the whole tree under shared locks and reports the
// first violated structural rule: key order and separator bounds, minimum
// occupancy of non-root pages, parent pointers, uniform leaf depth matching
// the recorded height, the leaf sibling chain and header occupancy bits.
func (t *Table) CheckIntegrity(tx *manager.Transaction) error {
	if err := checkActive(tx); err != nil {
		return err
	}
	done, err := t.enter(tx.ID, latch.Shared)
	if err != nil {
		return err
	}
	defer done()

	c := &checker{t: t, tx: tx.ID, used: make(map[uint32]bool)}
	var root pages.PageID
	var headerID pages.PageID
	err = t.readPage(tx.ID, t.rootPointerID(), func(p pages.Page) error {
		rp, err := asRootPointer(p)
		if err != nil {
			return err
		}
		root, headerID, c.height = rp.Root(), rp.HeaderID(), rp.Height()
		return nil
	})
	if err != nil {
		return err
	}
	c.used[pages.RootPointerIndex] = true

	if err := c.walk(root, pages.RootPointerIndex, nil, nil, 1); err != nil {
		return err
	}
	if err := c.checkChain(); err != nil {
		return err
	}
	return c.checkHeaders(headerID)
}

// MustCheckIntegrity panics when CheckIntegrity fails.
func (t *Table) MustCheckIntegrity(tx *manager.Transaction) {
	if err := t.CheckIntegrity(tx); err != nil {
		panic(jerrors.ErrorStack(err))
	}
}

func corrupt(format string, args ...interface{}) error {
	return jerrors.Annotate(basic.ErrCorruption, fmt.Sprintf(format, args...))
}

func inBounds(key basic.Cell, lo, hi *basic.Cell) bool {
	if lo != nil && key.Compare(*lo) < 0 {
		return false
	}
	if hi != nil && key.Compare(*hi) > 0 {
		return false
	}
	return true
}

func (c *checker) walk(pid pages.PageID, parent uint32, lo, hi *basic.Cell, depth int) error {
	if c.used[pid.Index] {
		return corrupt("%s is reachable twice", pid)
	}
	c.used[pid.Index] = true
	isRoot := parent == pages.RootPointerIndex

	var children []pages.PageID
	var bounds []basic.Cell
	err := c.t.readPage(c.tx, pid, func(p pages.Page) error {
		if p.ParentIndex() != parent {
			return corrupt("%s has parent %d, expected %d", pid, p.ParentIndex(), parent)
		}
		switch page := p.(type) {
		case *pages.LeafPage:
			if depth != c.height {
				return corrupt("leaf %s at depth %d, tree height %d", pid, depth, c.height)
			}
			if !isRoot && page.NumTuples() < c.t.layout.MinLeafOccupancy() {
				return corrupt("leaf %s holds %d tuples, minimum %d", pid, page.NumTuples(), c.t.layout.MinLeafOccupancy())
			}
			if page.NumTuples() > page.Capacity() {
				return corrupt("leaf %s holds %d tuples, capacity %d", pid, page.NumTuples(), page.Capacity())
			}
			for i := 0; i < page.NumTuples(); i++ {
				key := page.Key(i)
				if i > 0 && page.Key(i-1).Compare(key) > 0 {
					return corrupt("leaf %s keys out of order at slot %d", pid, i)
				}
				if !inBounds(key, lo, hi) {
					return corrupt("leaf %s key %s outside its separators", pid, key)
				}
			}
			c.leaves = append(c.leaves, leafRef{index: pid.Index, left: page.LeftIndex(), right: page.RightIndex()})
		case *pages.InternalPage:
			if depth >= c.height {
				return corrupt("internal %s at depth %d, tree height %d", pid, depth, c.height)
			}
			n := page.NumKeys()
			if page.NumChildren() != n+1 {
				return corrupt("internal %s has %d keys and %d children", pid, n, page.NumChildren())
			}
			if isRoot && n == 0 {
				return corrupt("internal root %s has no keys", pid)
			}
			if !isRoot && n < c.t.layout.MinInternalOccupancy() {
				return corrupt("internal %s holds %d keys, minimum %d", pid, n, c.t.layout.MinInternalOccupancy())
			}
			if n > page.Capacity() {
				return corrupt("internal %s holds %d keys, capacity %d", pid, n, page.Capacity())
			}
			want := pages.CategoryInternal
			if depth+1 == c.height {
				want = pages.CategoryLeaf
			}
			if page.ChildCategory() != want {
				return corrupt("internal %s children are %s, expected %s", pid, page.ChildCategory(), want)
			}
			for i := 0; i < n; i++ {
				key := page.Key(i)
				if i > 0 && page.Key(i-1).Compare(key) > 0 {
					return corrupt("internal %s keys out of order at %d", pid, i)
				}
				if !inBounds(key, lo, hi) {
					return corrupt("internal %s key %s outside its separators", pid, key)
				}
			}
			bounds = page.Keys()
			for i := 0; i < page.NumChildren(); i++ {
				children = append(children, page.Child(i))
			}
		default:
			return corrupt("%s found inside the tree", pid)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i, child := range children {
		clo, chi := lo, hi
		if i > 0 {
			clo = &bounds[i-1]
		}
		if i < len(bounds) {
			chi = &bounds[i]
		}
		if err := c.walk(child, pid.Index, clo, chi, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// checkChain compares the sibling links with the in-order leaf sequence.
func (c *checker) checkChain() error {
	for i, l := range c.leaves {
		wantLeft, wantRight := pages.NoSibling, pages.NoSibling
		if i > 0 {
			wantLeft = c.leaves[i-1].index
		}
		if i+1 < len(c.leaves) {
			wantRight = c.leaves[i+1].index
		}
		if l.left != wantLeft || l.right != wantRight {
			return corrupt("leaf %d links (%d, %d), expected (%d, %d)", l.index, l.left, l.right, wantLeft, wantRight)
		}
	}
	return nil
}

// checkHeaders verifies every reachable page is marked used.
func (c *checker) checkHeaders(hid pages.PageID) error {
	for {
		var next pages.PageID
		var more bool
		err := c.t.readPage(c.tx, hid, func(p pages.Page) error {
			h, err := asHeader(p)
			if err != nil {
				return err
			}
			c.used[hid.Index] = true
			for index := range c.used {
				if h.Covers(index) && !h.IsUsed(index) {
					return corrupt("page %d is in use but free in %s", index, hid)
				}
			}
			next, more = h.Next()
			return nil
		})
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		hid = next
	}
}
