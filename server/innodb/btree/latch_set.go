package btree

import (
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// latchSet 记录一次操作持有的页面. Pages are latched in the order they are
// reached, root first, and all of them are released together by release.
// A page already in the set is returned as is, latches are not reentrant.
type latchSet struct {
	pool  PagePool
	tx    basic.TxID
	mode  latch.Mode
	latch bool

	held  []pages.Page
	index map[pages.PageID]pages.Page
	freed []pages.PageID
	// a page has been changed or allocated
	modified bool
}

func newLatchSet(pool PagePool, tx basic.TxID, mode latch.Mode, latchPages bool) *latchSet {
	return &latchSet{
		pool:  pool,
		tx:    tx,
		mode:  mode,
		latch: latchPages,
		index: make(map[pages.PageID]pages.Page),
	}
}

// get locks, pins and latches pid.
func (s *latchSet) get(pid pages.PageID, perm basic.Permission) (pages.Page, error) {
	if p, ok := s.index[pid]; ok {
		return p, nil
	}
	p, err := s.pool.GetPage(s.tx, pid, perm)
	if err != nil {
		return nil, err
	}
	s.hold(p)
	return p, nil
}

// create registers a freshly built page with the pool and holds it.
func (s *latchSet) create(p pages.Page) error {
	if err := s.pool.NewPage(s.tx, p); err != nil {
		return err
	}
	s.modified = true
	s.hold(p)
	return nil
}

func (s *latchSet) hold(p pages.Page) {
	if s.latch {
		p.Latch().Acquire(s.mode)
	}
	s.held = append(s.held, p)
	s.index[p.ID()] = p
}

func (s *latchSet) holds(pid pages.PageID) bool {
	_, ok := s.index[pid]
	return ok
}

func (s *latchSet) dirty(p pages.Page) {
	s.modified = true
	s.pool.MarkDirty(s.tx, p)
}

// doom makes tx rollback-only when err ends an operation that already
// changed pages. The half-done change must not be committed.
func (s *latchSet) doom(tx *manager.Transaction, err error) {
	if err != nil && s.modified {
		tx.SetRollbackOnly(err)
	}
}

// update applies fn to pid under write permission. A page that was not held
// before is released right away, reparenting touches many children.
func (s *latchSet) update(pid pages.PageID, fn func(p pages.Page)) error {
	if p, ok := s.index[pid]; ok {
		fn(p)
		s.dirty(p)
		return nil
	}
	p, err := s.pool.GetPage(s.tx, pid, basic.ReadWrite)
	if err != nil {
		return err
	}
	if s.latch {
		p.Latch().Acquire(latch.Exclusive)
	}
	fn(p)
	s.dirty(p)
	if s.latch {
		p.Latch().Release(latch.Exclusive)
	}
	s.pool.Unpin(p)
	return nil
}

// free drops pid from the cache once the operation is over.
func (s *latchSet) free(pid pages.PageID) {
	s.freed = append(s.freed, pid)
}

// release unlatches and unpins in reverse order.
func (s *latchSet) release() {
	for i := len(s.held) - 1; i >= 0; i-- {
		p := s.held[i]
		if s.latch {
			p.Latch().Release(s.mode)
		}
		s.pool.Unpin(p)
	}
	for _, pid := range s.freed {
		s.pool.DiscardPage(pid)
	}
	s.held = nil
	s.freed = nil
	s.index = make(map[pages.PageID]pages.Page)
}
