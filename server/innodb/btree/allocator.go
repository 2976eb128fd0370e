package btree

import (
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// allocIndex takes the lowest free page index from the header chain,
// appending a header page when every tracked index is used.
func (t *Table) allocIndex(ls *latchSet, rp *pages.RootPointerPage) (uint32, error) {
	hid := rp.HeaderID()
	for {
		p, err := ls.get(hid, basic.ReadWrite)
		if err != nil {
			return 0, jerrors.Trace(err)
		}
		h, err := asHeader(p)
		if err != nil {
			return 0, err
		}
		if index, ok := h.FirstFree(); ok {
			h.MarkUsed(index)
			ls.dirty(h)
			return index, nil
		}
		if next, ok := h.Next(); ok {
			hid = next
			continue
		}

		base := h.Base() + pages.SlotsPerHeader
		nh := pages.NewHeaderPage(pages.NewPageID(t.layout.TableID, pages.CategoryHeader, base), base)
		nh.MarkUsed(base)
		if err := ls.create(nh); err != nil {
			return 0, jerrors.Trace(err)
		}
		h.SetNextIndex(base)
		ls.dirty(h)
		hid = nh.ID()
	}
}

// freeIndex clears the page's bit; the page leaves the cache when ls is released.
func (t *Table) freeIndex(ls *latchSet, rp *pages.RootPointerPage, pid pages.PageID) error {
	hid := rp.HeaderID()
	for {
		p, err := ls.get(hid, basic.ReadWrite)
		if err != nil {
			return jerrors.Trace(err)
		}
		h, err := asHeader(p)
		if err != nil {
			return err
		}
		if h.Covers(pid.Index) {
			if !h.IsUsed(pid.Index) {
				return jerrors.Annotatef(basic.ErrCorruption, "free of unused page %s", pid)
			}
			h.MarkFree(pid.Index)
			ls.dirty(h)
			ls.free(pid)
			return nil
		}
		next, ok := h.Next()
		if !ok {
			return jerrors.Annotatef(basic.ErrCorruption, "no header page covers %s", pid)
		}
		hid = next
	}
}

func (t *Table) newLeaf(ls *latchSet, rp *pages.RootPointerPage, parent uint32) (*pages.LeafPage, error) {
	index, err := t.allocIndex(ls, rp)
	if err != nil {
		return nil, err
	}
	leaf := pages.NewLeafPage(t.leafID(index), t.layout, parent)
	if err := ls.create(leaf); err != nil {
		return nil, jerrors.Trace(err)
	}
	return leaf, nil
}

func (t *Table) newInternal(ls *latchSet, rp *pages.RootPointerPage, parent uint32, childCategory pages.Category) (*pages.InternalPage, error) {
	index, err := t.allocIndex(ls, rp)
	if err != nil {
		return nil, err
	}
	internal := pages.NewInternalPage(t.internalID(index), t.layout, parent, childCategory)
	if err := ls.create(internal); err != nil {
		return nil, jerrors.Trace(err)
	}
	return internal, nil
}
