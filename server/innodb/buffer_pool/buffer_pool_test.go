package buffer_pool

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/latch"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/ibd"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

type poolFixture struct {
	pool   *BufferPool
	files  *ibd.FileSet
	locks  *manager.LockManager
	wal    *manager.LogManager
	layout *pages.TableLayout
}

func newFixture(t *testing.T, maxPages int) *poolFixture {
	dir := t.TempDir()
	layout, err := pages.NewTableLayout(1, basic.NewIntSchema("id", "v"), 0, 4, 4)
	require.NoError(t, err)

	files := ibd.NewFileSet(dir)
	require.NoError(t, files.Create(layout))
	wal, err := manager.NewLogManager(filepath.Join(dir, "wal.log"), logs.CodecNone)
	require.NoError(t, err)
	locks := manager.NewLockManager(200*time.Millisecond, nil)

	pool := NewBufferPool(&BufferPoolConfig{MaxPages: maxPages, Store: files, Locks: locks, WAL: wal})
	pool.RegisterTable(layout)
	t.Cleanup(func() {
		_ = wal.Close()
		_ = files.Close()
	})
	return &poolFixture{pool: pool, files: files, locks: locks, wal: wal, layout: layout}
}

func leafID(index uint32) pages.PageID {
	return pages.NewPageID(1, pages.CategoryLeaf, index)
}

func TestBufferPool_GetPageHitAndMiss(t *testing.T) {
	f := newFixture(t, 8)
	pid := leafID(pages.InitialRootIndex)

	p, err := f.pool.GetPage(1, pid, basic.ReadOnly)
	require.NoError(t, err)
	leaf, ok := p.(*pages.LeafPage)
	require.True(t, ok)
	assert.Equal(t, 0, leaf.NumTuples())
	assert.Equal(t, int32(1), p.PinCount())
	f.pool.Unpin(p)

	again, err := f.pool.GetPage(1, pid, basic.ReadOnly)
	require.NoError(t, err)
	assert.Same(t, p, again)
	f.pool.Unpin(again)

	stats := f.pool.Stats()
	assert.Equal(t, int64(2), stats.PageRequests)
	assert.Equal(t, int64(1), stats.PageHits)
	assert.Equal(t, int64(1), stats.PageMisses)
	assert.True(t, f.locks.HoldsLock(1, pid, manager.LOCK_S))
}

func TestBufferPool_UnknownTable(t *testing.T) {
	f := newFixture(t, 8)
	_, err := f.pool.GetPage(1, pages.NewPageID(7, pages.CategoryLeaf, 2), basic.ReadOnly)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestBufferPool_EvictsCleanPages(t *testing.T) {
	f := newFixture(t, 2)

	for _, pid := range []pages.PageID{
		pages.RootPointerID(1),
		pages.NewPageID(1, pages.CategoryHeader, pages.FirstHeaderIndex),
		leafID(pages.InitialRootIndex),
	} {
		p, err := f.pool.GetPage(1, pid, basic.ReadOnly)
		require.NoError(t, err)
		f.pool.Unpin(p)
	}
	assert.Equal(t, 2, f.pool.CachedPages())
	assert.False(t, f.pool.IsCached(pages.RootPointerID(1)))
	assert.Equal(t, int64(1), f.pool.Stats().PageEvictions)
}

func TestBufferPool_FullWhenEverythingPinned(t *testing.T) {
	f := newFixture(t, 1)

	p, err := f.pool.GetPage(1, pages.RootPointerID(1), basic.ReadOnly)
	require.NoError(t, err)

	_, err = f.pool.GetPage(1, leafID(pages.InitialRootIndex), basic.ReadOnly)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBufferPoolFull))
	f.pool.Unpin(p)

	p2, err := f.pool.GetPage(1, leafID(pages.InitialRootIndex), basic.ReadOnly)
	require.NoError(t, err)
	f.pool.Unpin(p2)
}

func TestBufferPool_StealLogsBeforeWriting(t *testing.T) {
	f := newFixture(t, 1)
	pid := leafID(pages.InitialRootIndex)

	p, err := f.pool.GetPage(1, pid, basic.ReadWrite)
	require.NoError(t, err)
	leaf := p.(*pages.LeafPage)
	leaf.InsertTuple(basic.IntTuple(1, 10))
	f.pool.MarkDirty(1, p)
	f.pool.Unpin(p)

	other, err := f.pool.GetPage(1, pages.RootPointerID(1), basic.ReadOnly)
	require.NoError(t, err)
	f.pool.Unpin(other)

	stats := f.pool.Stats()
	assert.Equal(t, int64(1), stats.StealEvictions)

	recs, err := f.wal.Records()
	require.NoError(t, err)
	var updates int
	for _, r := range recs {
		if r.Kind == logs.KindUpdate {
			updates++
			assert.Equal(t, pid, r.PageID)
		}
	}
	assert.Equal(t, 1, updates)

	image, err := f.files.ReadPage(pid)
	require.NoError(t, err)
	onDisk, err := pages.Deserialize(pid, image, f.layout)
	require.NoError(t, err)
	assert.Equal(t, 1, onDisk.(*pages.LeafPage).NumTuples())
}

func TestBufferPool_CommitForcesPages(t *testing.T) {
	f := newFixture(t, 8)
	pid := leafID(pages.InitialRootIndex)

	p, err := f.pool.GetPage(1, pid, basic.ReadWrite)
	require.NoError(t, err)
	p.(*pages.LeafPage).InsertTuple(basic.IntTuple(5, 50))
	f.pool.MarkDirty(1, p)
	f.pool.Unpin(p)
	assert.Equal(t, []pages.PageID{pid}, f.pool.WriteSet(1))
	assert.Equal(t, 1, f.pool.DirtyPages())

	require.NoError(t, f.pool.CommitTransaction(1))
	assert.False(t, p.IsDirty())
	assert.Empty(t, f.pool.WriteSet(1))
	assert.Equal(t, pages.Serialize(p), p.BeforeImage())

	image, err := f.files.ReadPage(pid)
	require.NoError(t, err)
	assert.Equal(t, pages.Serialize(p), image)
}

func TestBufferPool_AbortDiscardsWriteSet(t *testing.T) {
	f := newFixture(t, 8)
	pid := leafID(pages.InitialRootIndex)

	p, err := f.pool.GetPage(1, pid, basic.ReadWrite)
	require.NoError(t, err)
	p.(*pages.LeafPage).InsertTuple(basic.IntTuple(5, 50))
	f.pool.MarkDirty(1, p)
	f.pool.Unpin(p)

	f.pool.AbortTransaction(1)
	assert.False(t, f.pool.IsCached(pid))
	f.locks.ReleaseLocks(1)

	fresh, err := f.pool.GetPage(2, pid, basic.ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.(*pages.LeafPage).NumTuples())
	f.pool.Unpin(fresh)
}

func TestBufferPool_NewPageBeforeImage(t *testing.T) {
	f := newFixture(t, 8)

	t.Run("beyond end of file", func(t *testing.T) {
		leaf := pages.NewLeafPage(leafID(9), f.layout, pages.RootPointerIndex)
		require.NoError(t, f.pool.NewPage(1, leaf))
		assert.Nil(t, leaf.BeforeImage())
		assert.True(t, leaf.IsDirty())
		assert.Equal(t, basic.TxID(1), leaf.Dirtier())
		f.pool.Unpin(leaf)
	})

	t.Run("reused slot keeps disk bytes", func(t *testing.T) {
		onDisk, err := f.files.ReadPage(leafID(pages.InitialRootIndex))
		require.NoError(t, err)
		internal := pages.NewInternalPage(pages.NewPageID(1, pages.CategoryInternal, pages.InitialRootIndex), f.layout, pages.RootPointerIndex, pages.CategoryLeaf)
		require.NoError(t, f.pool.NewPage(1, internal))
		assert.Equal(t, onDisk, internal.BeforeImage())
		f.pool.Unpin(internal)
	})
}

func TestBufferPool_FlushSkipsPagesInUse(t *testing.T) {
	f := newFixture(t, 8)
	pid := leafID(pages.InitialRootIndex)

	p, err := f.pool.GetPage(1, pid, basic.ReadWrite)
	require.NoError(t, err)
	p.(*pages.LeafPage).InsertTuple(basic.IntTuple(1, 1))
	f.pool.MarkDirty(1, p)

	require.NoError(t, f.pool.FlushAllPages())
	assert.True(t, p.IsDirty(), "pinned")
	f.pool.Unpin(p)

	p.Latch().Acquire(latch.Exclusive)
	require.NoError(t, f.pool.FlushPage(pid))
	assert.True(t, p.IsDirty(), "latched")
	p.Latch().Release(latch.Exclusive)

	require.NoError(t, f.pool.FlushAllPages())
	assert.False(t, p.IsDirty())
	assert.Empty(t, f.pool.WriteSet(2))
}

func TestBufferPool_LockConflict(t *testing.T) {
	f := newFixture(t, 8)
	pid := leafID(pages.InitialRootIndex)

	p, err := f.pool.GetPage(1, pid, basic.ReadWrite)
	require.NoError(t, err)
	defer f.pool.Unpin(p)

	_, err = f.pool.GetPage(2, pid, basic.ReadOnly)
	require.Error(t, err)
	assert.True(t, basic.IsLockTimeout(err))
}
