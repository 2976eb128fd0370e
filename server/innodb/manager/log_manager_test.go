package manager

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

type memWriter struct {
	mu     sync.Mutex
	images map[pages.Location][]byte
	writes int
	syncs  int
}

func newMemWriter() *memWriter {
	return &memWriter{images: make(map[pages.Location][]byte)}
}

func (w *memWriter) WritePage(pid pages.PageID, image []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.images[pid.Location()] = append([]byte(nil), image...)
	w.writes++
	return nil
}

func (w *memWriter) Sync(tableIDs ...uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncs++
	return nil
}

func (w *memWriter) image(pid pages.PageID) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.images[pid.Location()]
}

func img(b byte) []byte {
	return bytes.Repeat([]byte{b}, pages.PageSize)
}

func openLog(t *testing.T, path string) *LogManager {
	lm, err := NewLogManager(path, logs.CodecSnappy)
	require.NoError(t, err)
	return lm
}

func kinds(t *testing.T, lm *LogManager) []logs.Kind {
	recs, err := lm.Records()
	require.NoError(t, err)
	var out []logs.Kind
	for _, r := range recs {
		out = append(out, r.Kind)
	}
	return out
}

func TestLogManager_AppendAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	lm := openLog(t, path)

	p := pages.NewPageID(1, pages.CategoryLeaf, 2)
	require.NoError(t, lm.LogStart(1))
	require.NoError(t, lm.LogUpdate(1, p, img(1), img(2)))
	require.NoError(t, lm.LogCommit(1))
	assert.Equal(t, []logs.Kind{logs.KindStart, logs.KindUpdate, logs.KindCommit}, kinds(t, lm))
	require.NoError(t, lm.Close())

	lm = openLog(t, path)
	defer lm.Close()
	n, err := lm.RecordsCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recs, err := lm.Records()
	require.NoError(t, err)
	assert.Equal(t, p, recs[1].PageID)
	assert.Equal(t, img(2), recs[1].After)
	assert.Equal(t, logs.CodecSnappy, recs[1].Codec)

	out, err := lm.ShowLogContents()
	require.NoError(t, err)
	assert.Contains(t, out, "wal.log (3 records")
	assert.Contains(t, out, "├── [16] START tx_1")
	assert.Contains(t, out, "UPDATE tx_1 page=t1/leaf/2 before=4096B after=4096B")
	assert.Contains(t, out, "└── ")
	assert.Contains(t, out, "COMMIT tx_1")
}

func TestLogManager_ImplicitStart(t *testing.T) {
	lm := openLog(t, filepath.Join(t.TempDir(), "wal.log"))
	defer lm.Close()
	require.NoError(t, lm.LogUpdate(4, pages.NewPageID(1, pages.CategoryLeaf, 2), nil, img(1)))
	assert.Equal(t, []logs.Kind{logs.KindStart, logs.KindUpdate}, kinds(t, lm))
}

func TestLogManager_Rollback(t *testing.T) {
	lm := openLog(t, filepath.Join(t.TempDir(), "wal.log"))
	defer lm.Close()
	w := newMemWriter()

	leaf := pages.NewPageID(1, pages.CategoryLeaf, 5)
	reused := pages.NewPageID(1, pages.CategoryInternal, 5)
	other := pages.NewPageID(1, pages.CategoryLeaf, 6)
	fresh := pages.NewPageID(1, pages.CategoryLeaf, 7)

	require.NoError(t, lm.LogStart(1))
	require.NoError(t, lm.LogStart(2))
	require.NoError(t, lm.LogUpdate(1, leaf, img('a'), img('b')))
	require.NoError(t, lm.LogUpdate(2, other, img('x'), img('y')))
	require.NoError(t, lm.LogUpdate(1, leaf, img('b'), img('c')))
	require.NoError(t, lm.LogUpdate(1, reused, img('c'), img('d')))
	require.NoError(t, lm.LogUpdate(1, fresh, nil, img('e')))

	require.NoError(t, lm.Rollback(1, w))
	assert.Equal(t, img('a'), w.image(leaf))
	assert.Nil(t, w.image(other))
	assert.Nil(t, w.image(fresh))
	assert.Equal(t, 1, w.writes)
	require.NoError(t, lm.LogAbort(1))

	// unknown transaction is a no-op
	require.NoError(t, lm.Rollback(99, w))
	assert.Equal(t, 1, w.writes)
}

func TestLogManager_Recover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	lm := openLog(t, path)

	p1 := pages.NewPageID(1, pages.CategoryLeaf, 2)
	p2 := pages.NewPageID(1, pages.CategoryLeaf, 3)
	p3 := pages.NewPageID(2, pages.CategoryLeaf, 2)

	// tx 1 commits, tx 2 aborts, tx 3 is in flight at the crash
	require.NoError(t, lm.LogStart(1))
	require.NoError(t, lm.LogUpdate(1, p1, img(0), img(1)))
	require.NoError(t, lm.LogCommit(1))
	require.NoError(t, lm.LogStart(2))
	require.NoError(t, lm.LogUpdate(2, p3, img(7), img(8)))
	require.NoError(t, lm.LogAbort(2))
	require.NoError(t, lm.LogStart(3))
	require.NoError(t, lm.LogUpdate(3, p2, img(5), img(6)))
	require.NoError(t, lm.LogUpdate(3, p2, img(6), img(9)))
	require.NoError(t, lm.Sync())
	require.NoError(t, lm.Close())

	// torn tail
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 50, 1, 2})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lm = openLog(t, path)
	defer lm.Close()
	w := newMemWriter()
	stats, err := lm.Recover(w)
	require.NoError(t, err)

	assert.Equal(t, 9, stats.Records)
	assert.Equal(t, 1, stats.Winners)
	assert.Equal(t, 1, stats.Losers)
	assert.Equal(t, 1, stats.Redone)
	assert.Equal(t, 2, stats.Undone)
	assert.Equal(t, int64(6), stats.TornBytes)
	assert.Equal(t, basic.TxID(3), stats.MaxTxID)

	assert.Equal(t, img(1), w.image(p1))
	assert.Equal(t, img(5), w.image(p2))
	assert.Nil(t, w.image(p3))

	n, err := lm.RecordsCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(logs.FileHeaderSize), lm.Size())
}

func TestLogManager_Checkpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	lm := openLog(t, path)
	p1 := pages.NewPageID(1, pages.CategoryLeaf, 2)
	p2 := pages.NewPageID(1, pages.CategoryLeaf, 3)

	t.Run("无活跃事务时截断", func(t *testing.T) {
		require.NoError(t, lm.LogStart(1))
		require.NoError(t, lm.LogUpdate(1, p1, img(0), img(1)))
		require.NoError(t, lm.LogCommit(1))

		flushed := false
		require.NoError(t, lm.Checkpoint(nil, func() error { flushed = true; return nil }))
		assert.True(t, flushed)
		assert.Empty(t, kinds(t, lm))
		assert.Equal(t, int64(0), lm.LastCheckpoint())
	})

	t.Run("有活跃事务时写检查点", func(t *testing.T) {
		require.NoError(t, lm.LogStart(2))
		require.NoError(t, lm.LogUpdate(2, p1, img(1), img(2)))
		require.NoError(t, lm.LogCommit(2))
		require.NoError(t, lm.LogStart(3))
		require.NoError(t, lm.LogUpdate(3, p2, img(4), img(5)))

		require.NoError(t, lm.Checkpoint([]basic.TxID{3}, nil))
		cp := lm.LastCheckpoint()
		assert.Greater(t, cp, int64(logs.FileHeaderSize))

		recs, err := lm.Records()
		require.NoError(t, err)
		last := recs[len(recs)-1]
		assert.Equal(t, logs.KindCheckpoint, last.Kind)
		assert.Equal(t, cp, last.Offset)
		require.Len(t, last.Active, 1)
		assert.Equal(t, basic.TxID(3), last.Active[0].TxID)
	})

	require.NoError(t, lm.Close())

	// after reopening, redo starts at the checkpoint: tx 2's committed update
	// lies before it and is not replayed, tx 3 is undone
	lm = openLog(t, path)
	defer lm.Close()
	assert.Greater(t, lm.LastCheckpoint(), int64(0))
	w := newMemWriter()
	stats, err := lm.Recover(w)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Redone)
	assert.Equal(t, 1, stats.Undone)
	assert.Nil(t, w.image(p1))
	assert.Equal(t, img(4), w.image(p2))
}

func TestLogManager_Closed(t *testing.T) {
	lm := openLog(t, filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, lm.Close())
	assert.ErrorIs(t, lm.LogStart(1), ErrLogClosed)
	assert.NoError(t, lm.Close())
}
