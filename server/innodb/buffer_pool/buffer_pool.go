package buffer_pool

import (
	"errors"
	"sort"
	"sync"

	gxbytes "github.com/dubbogo/gost/bytes"

	"github.com/zhukovaskychina/xmysql-btree/logger"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// PageStore is the page-file side of the pool.
type PageStore interface {
	ReadPageInto(pid pages.PageID, buf []byte) error
	WritePage(pid pages.PageID, image []byte) error
	Sync(tableIDs ...uint32) error
}

// PageLocker grants transaction-scoped page locks.
type PageLocker interface {
	AcquireLock(tx basic.TxID, pid pages.PageID, lockType manager.LockType) error
}

// WAL receives page images before they reach the page files.
type WAL interface {
	LogUpdate(tx basic.TxID, pid pages.PageID, before, after []byte) error
	Sync() error
}

// BufferPoolConfig 缓冲池配置
type BufferPoolConfig struct {
	MaxPages int
	Store    PageStore
	Locks    PageLocker
	WAL      WAL
}

// BufferPool 页面缓存. The pool mutex only guards cache bookkeeping; page
// locks are taken before it and page latches are only ever try-acquired
// under it.
type BufferPool struct {
	mu sync.Mutex

	maxPages  int
	lru       *pageLRU
	layouts   map[uint32]*pages.TableLayout
	writeSets map[basic.TxID]map[pages.PageID]struct{} // 事务写集合

	store PageStore
	locks PageLocker
	wal   WAL

	stats *BufferPoolStats
}

// NewBufferPool creates a new buffer pool
func NewBufferPool(config *BufferPoolConfig) *BufferPool {
	maxPages := config.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	return &BufferPool{
		maxPages:  maxPages,
		lru:       newPageLRU(),
		layouts:   make(map[uint32]*pages.TableLayout),
		writeSets: make(map[basic.TxID]map[pages.PageID]struct{}),
		store:     config.Store,
		locks:     config.Locks,
		wal:       config.WAL,
		stats:     NewBufferPoolStats(),
	}
}

// RegisterTable makes pages of the table decodable.
func (bp *BufferPool) RegisterTable(layout *pages.TableLayout) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.layouts[layout.TableID] = layout
}

func (bp *BufferPool) Layout(tableID uint32) (*pages.TableLayout, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	l, ok := bp.layouts[tableID]
	return l, ok
}

func (bp *BufferPool) MaxPages() int {
	return bp.maxPages
}

// GetPage locks pid for tx (S for ReadOnly, X for ReadWrite), blocking while
// another transaction holds a conflicting lock, and returns the page pinned.
// The caller must Unpin it.
func (bp *BufferPool) GetPage(tx basic.TxID, pid pages.PageID, perm basic.Permission) (pages.Page, error) {
	if err := bp.locks.AcquireLock(tx, pid, manager.LockTypeFor(perm)); err != nil {
		return nil, NewError("GetPage", err)
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	if p, ok := bp.lru.Get(pid); ok {
		p.Pin()
		bp.lru.Touch(pid)
		bp.stats.RecordPageRequest(true)
		return p, nil
	}
	bp.stats.RecordPageRequest(false)

	if err := bp.makeRoomLocked(); err != nil {
		return nil, NewError("GetPage", err)
	}
	p, err := bp.loadLocked(pid)
	if err != nil {
		return nil, NewError("GetPage", err)
	}
	p.Pin()
	bp.lru.Add(p)
	return p, nil
}

func (bp *BufferPool) loadLocked(pid pages.PageID) (pages.Page, error) {
	var layout *pages.TableLayout
	if pid.Category == pages.CategoryLeaf || pid.Category == pages.CategoryInternal {
		l, ok := bp.layouts[pid.TableID]
		if !ok {
			return nil, ErrUnknownTable
		}
		layout = l
	}

	bufp := gxbytes.GetBytes(pages.PageSize)
	defer gxbytes.PutBytes(bufp)
	if err := bp.store.ReadPageInto(pid, *bufp); err != nil {
		return nil, err
	}
	bp.stats.RecordPageIO(true)

	p, err := pages.Deserialize(pid, *bufp, layout)
	if err != nil {
		return nil, err
	}
	p.SetBeforeImage()
	return p, nil
}

// NewPage X-locks a freshly built page for tx and caches it dirty. Its before
// image is whatever the slot held on disk, nil past the end of the file.
func (bp *BufferPool) NewPage(tx basic.TxID, p pages.Page) error {
	pid := p.ID()
	if err := bp.locks.AcquireLock(tx, pid, manager.LOCK_X); err != nil {
		return NewError("NewPage", err)
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	// 同一位置可能以其他类别缓存过 (freed and reused)
	for _, c := range []pages.Category{pages.CategoryRootPointer, pages.CategoryInternal, pages.CategoryLeaf, pages.CategoryHeader} {
		bp.lru.Remove(pages.NewPageID(pid.TableID, c, pid.Index))
	}
	if err := bp.makeRoomLocked(); err != nil {
		return NewError("NewPage", err)
	}

	bufp := gxbytes.GetBytes(pages.PageSize)
	defer gxbytes.PutBytes(bufp)
	switch err := bp.store.ReadPageInto(pid, *bufp); {
	case err == nil:
		p.SetBeforeImageBytes(*bufp)
	case errors.Is(err, basic.ErrPageNotFound), errors.Is(err, basic.ErrCorruption):
		p.SetBeforeImageBytes(nil)
	default:
		return NewError("NewPage", err)
	}

	p.Pin()
	bp.markDirtyLocked(tx, p)
	bp.lru.Add(p)
	return nil
}

// MarkDirty records that tx changed p.
func (bp *BufferPool) MarkDirty(tx basic.TxID, p pages.Page) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.markDirtyLocked(tx, p)
}

func (bp *BufferPool) markDirtyLocked(tx basic.TxID, p pages.Page) {
	p.MarkDirty(tx)
	ws, ok := bp.writeSets[tx]
	if !ok {
		ws = make(map[pages.PageID]struct{})
		bp.writeSets[tx] = ws
	}
	ws[p.ID()] = struct{}{}
}

// Unpin releases a pin taken by GetPage or NewPage.
func (bp *BufferPool) Unpin(p pages.Page) {
	p.Unpin()
}

// makeRoomLocked evicts until there is a free slot: the least recently used
// clean page first, otherwise the least recently used dirty page after its
// images are logged (steal).
func (bp *BufferPool) makeRoomLocked() error {
	for bp.lru.Len() >= bp.maxPages {
		var victim pages.Page
		bp.lru.EachOldest(func(p pages.Page) bool {
			if !p.IsDirty() && bp.evictable(p) {
				victim = p
				return false
			}
			return true
		})
		if victim != nil {
			bp.lru.Remove(victim.ID())
			bp.stats.RecordEviction(false)
			continue
		}

		bp.lru.EachOldest(func(p pages.Page) bool {
			if bp.evictable(p) {
				victim = p
				return false
			}
			return true
		})
		if victim == nil {
			return ErrBufferPoolFull
		}
		logger.WithFields(map[string]interface{}{
			"page": victim.ID().String(),
			"tx":   victim.Dirtier().String(),
		}).Debug("steal eviction")
		if err := bp.writeOutLocked(victim); err != nil {
			return err
		}
		bp.lru.Remove(victim.ID())
		bp.stats.RecordEviction(true)
	}
	return nil
}

// evictable: unpinned and not latched by a running structural operation.
func (bp *BufferPool) evictable(p pages.Page) bool {
	if p.PinCount() > 0 {
		return false
	}
	if !p.Latch().TryAcquire(latch.Exclusive) {
		return false
	}
	p.Latch().Release(latch.Exclusive)
	return true
}

// writeOutLocked logs the page's before/after images, forces the log, then
// writes the page. The page becomes clean with a new before image.
func (bp *BufferPool) writeOutLocked(p pages.Page) error {
	if !p.IsDirty() {
		return nil
	}
	after := pages.Serialize(p)
	if err := bp.wal.LogUpdate(p.Dirtier(), p.ID(), p.BeforeImage(), after); err != nil {
		bp.stats.RecordFlush(false)
		return err
	}
	if err := bp.wal.Sync(); err != nil {
		bp.stats.RecordFlush(false)
		return err
	}
	if err := bp.store.WritePage(p.ID(), after); err != nil {
		bp.stats.RecordFlush(false)
		return err
	}
	bp.stats.RecordFlush(true)
	bp.stats.RecordPageIO(false)
	p.SetBeforeImageBytes(after)
	p.MarkClean()
	return nil
}

// FlushPage writes pid out if it is cached and dirty. A page pinned or
// latched by a running operation is left alone.
func (bp *BufferPool) FlushPage(pid pages.PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	p, ok := bp.lru.Get(pid)
	if !ok {
		return nil
	}
	_, err := bp.flushIfIdleLocked(p)
	return err
}

func (bp *BufferPool) flushIfIdleLocked(p pages.Page) (bool, error) {
	if !p.IsDirty() || p.PinCount() > 0 {
		return false, nil
	}
	if !p.Latch().TryAcquire(latch.Shared) {
		return false, nil
	}
	defer p.Latch().Release(latch.Shared)
	if err := bp.writeOutLocked(p); err != nil {
		return false, NewError("FlushPage", err)
	}
	return true, nil
}

// FlushAllPages writes out every dirty, unlatched page and syncs the files.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	tables := make(map[uint32]struct{})
	var firstErr error
	bp.lru.EachOldest(func(p pages.Page) bool {
		flushed, err := bp.flushIfIdleLocked(p)
		if err != nil {
			firstErr = err
			return false
		}
		if flushed {
			tables[p.ID().TableID] = struct{}{}
		}
		return true
	})
	if firstErr != nil {
		return firstErr
	}
	if len(tables) == 0 {
		return nil
	}
	if err := bp.store.Sync(sortedTables(tables)...); err != nil {
		return NewError("FlushAllPages", err)
	}
	return nil
}

// DiscardPage drops pid from the cache without writing it.
func (bp *BufferPool) DiscardPage(pid pages.PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.lru.Remove(pid)
}

// CommitTransaction forces tx's changes: one UPDATE record per dirty page,
// one log sync, then the page writes and a sync of the touched files.
func (bp *BufferPool) CommitTransaction(tx basic.TxID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	type pending struct {
		page  pages.Page
		after []byte
	}
	var todo []pending
	for _, pid := range sortedPages(bp.writeSets[tx]) {
		p, ok := bp.lru.Get(pid)
		if !ok || !p.IsDirty() || p.Dirtier() != tx {
			continue
		}
		after := pages.Serialize(p)
		if err := bp.wal.LogUpdate(tx, pid, p.BeforeImage(), after); err != nil {
			return NewError("CommitTransaction", err)
		}
		todo = append(todo, pending{page: p, after: after})
	}
	if len(todo) > 0 {
		if err := bp.wal.Sync(); err != nil {
			return NewError("CommitTransaction", err)
		}
	}

	tables := make(map[uint32]struct{})
	for _, w := range todo {
		if err := bp.store.WritePage(w.page.ID(), w.after); err != nil {
			return NewError("CommitTransaction", err)
		}
		bp.stats.RecordPageIO(false)
		tables[w.page.ID().TableID] = struct{}{}
	}
	if len(tables) > 0 {
		if err := bp.store.Sync(sortedTables(tables)...); err != nil {
			return NewError("CommitTransaction", err)
		}
	}
	for _, w := range todo {
		w.page.SetBeforeImageBytes(w.after)
		w.page.MarkClean()
	}
	delete(bp.writeSets, tx)
	return nil
}

// AbortTransaction drops every cached page tx wrote, flushed or not, so the
// next reader sees the image restored from the log.
func (bp *BufferPool) AbortTransaction(tx basic.TxID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for pid := range bp.writeSets[tx] {
		bp.lru.Remove(pid)
	}
	delete(bp.writeSets, tx)
}

// WriteSet lists the pages tx has dirtied.
func (bp *BufferPool) WriteSet(tx basic.TxID) []pages.PageID {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return sortedPages(bp.writeSets[tx])
}

func (bp *BufferPool) IsCached(pid pages.PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	_, ok := bp.lru.Get(pid)
	return ok
}

// CachedPages is the number of pages currently held.
func (bp *BufferPool) CachedPages() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.lru.Len()
}

// DirtyPages counts cached dirty pages.
func (bp *BufferPool) DirtyPages() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	n := 0
	bp.lru.EachOldest(func(p pages.Page) bool {
		if p.IsDirty() {
			n++
		}
		return true
	})
	return n
}

func (bp *BufferPool) Stats() BufferPoolStats {
	return bp.stats.Snapshot()
}

func (bp *BufferPool) ResetStats() {
	bp.stats.Reset()
}

func sortedPages(set map[pages.PageID]struct{}) []pages.PageID {
	out := make([]pages.PageID, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TableID != out[j].TableID {
			return out[i].TableID < out[j].TableID
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func sortedTables(set map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
