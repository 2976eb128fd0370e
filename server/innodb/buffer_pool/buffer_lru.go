package buffer_pool

import (
	"container/list"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// pageLRU 按访问顺序排列的缓存页, front is the most recently used.
// Not safe for concurrent use; the pool mutex guards it.
type pageLRU struct {
	order *list.List
	index map[pages.PageID]*list.Element
}

func newPageLRU() *pageLRU {
	return &pageLRU{
		order: list.New(),
		index: make(map[pages.PageID]*list.Element),
	}
}

func (c *pageLRU) Get(pid pages.PageID) (pages.Page, bool) {
	e, ok := c.index[pid]
	if !ok {
		return nil, false
	}
	return e.Value.(pages.Page), true
}

// Touch moves pid to the most-recently-used end.
func (c *pageLRU) Touch(pid pages.PageID) {
	if e, ok := c.index[pid]; ok {
		c.order.MoveToFront(e)
	}
}

func (c *pageLRU) Add(p pages.Page) {
	if e, ok := c.index[p.ID()]; ok {
		e.Value = p
		c.order.MoveToFront(e)
		return
	}
	c.index[p.ID()] = c.order.PushFront(p)
}

func (c *pageLRU) Remove(pid pages.PageID) bool {
	e, ok := c.index[pid]
	if !ok {
		return false
	}
	c.order.Remove(e)
	delete(c.index, pid)
	return true
}

func (c *pageLRU) Len() int {
	return c.order.Len()
}

// EachOldest visits pages from least to most recently used until fn returns false.
func (c *pageLRU) EachOldest(fn func(p pages.Page) bool) {
	for e := c.order.Back(); e != nil; {
		prev := e.Prev()
		if !fn(e.Value.(pages.Page)) {
			return
		}
		e = prev
	}
}
