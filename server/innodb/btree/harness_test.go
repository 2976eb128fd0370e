package btree

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-btree/server/conf"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/ibd"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

type harnessConfig struct {
	schema      *basic.Schema
	leafCap     int
	internalCap int
	latchMode   string
	maxPages    int
	lockTimeout time.Duration
}

// harness wires a table to real page files, locks and log, and commits or
// aborts the way the engine does.
type harness struct {
	t     *testing.T
	files *ibd.FileSet
	locks *manager.LockManager
	wal   *manager.LogManager
	pool  *buffer_pool.BufferPool
	txs   *manager.TransactionManager
	table *Table
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	if cfg.schema == nil {
		cfg.schema = basic.NewIntSchema("id", "v")
	}
	if cfg.latchMode == "" {
		cfg.latchMode = conf.LatchModeAncestor
	}
	if cfg.maxPages == 0 {
		cfg.maxPages = 256
	}
	if cfg.lockTimeout == 0 {
		cfg.lockTimeout = 2 * time.Second
	}
	dir := t.TempDir()

	layout, err := pages.NewTableLayout(7, cfg.schema, 0, cfg.leafCap, cfg.internalCap)
	require.NoError(t, err)
	files := ibd.NewFileSet(dir)
	require.NoError(t, files.Create(layout))
	wal, err := manager.NewLogManager(filepath.Join(dir, "wal.log"), logs.CodecSnappy)
	require.NoError(t, err)
	locks := manager.NewLockManager(cfg.lockTimeout, nil)
	pool := buffer_pool.NewBufferPool(&buffer_pool.BufferPoolConfig{
		MaxPages: cfg.maxPages,
		Store:    files,
		Locks:    locks,
		WAL:      wal,
	})
	pool.RegisterTable(layout)
	t.Cleanup(func() {
		_ = wal.Close()
		_ = files.Close()
	})

	return &harness{
		t:     t,
		files: files,
		locks: locks,
		wal:   wal,
		pool:  pool,
		txs:   manager.NewTransactionManager(),
		table: NewTable("orders", layout, pool, cfg.latchMode),
	}
}

func (h *harness) begin() *manager.Transaction {
	tx := h.txs.Begin()
	require.NoError(h.t, h.wal.LogStart(tx.ID))
	return tx
}

func (h *harness) commit(tx *manager.Transaction) error {
	if err := h.txs.MarkCommitting(tx); err != nil {
		return err
	}
	if err := h.pool.CommitTransaction(tx.ID); err != nil {
		return err
	}
	if err := h.wal.LogCommit(tx.ID); err != nil {
		return err
	}
	h.locks.ReleaseLocks(tx.ID)
	return h.txs.Finish(tx)
}

func (h *harness) abort(tx *manager.Transaction) error {
	if err := h.txs.MarkAborting(tx); err != nil {
		return err
	}
	h.pool.AbortTransaction(tx.ID)
	if err := h.wal.Rollback(tx.ID, h.files); err != nil {
		return err
	}
	if err := h.wal.LogAbort(tx.ID); err != nil {
		return err
	}
	h.locks.ReleaseLocks(tx.ID)
	return h.txs.Finish(tx)
}

// run executes fn in its own transaction, committing on success.
func (h *harness) run(fn func(tx *manager.Transaction) error) error {
	tx := h.begin()
	if err := fn(tx); err != nil {
		require.NoError(h.t, h.abort(tx))
		return err
	}
	return h.commit(tx)
}

func (h *harness) mustRun(fn func(tx *manager.Transaction) error) {
	require.NoError(h.t, h.run(fn))
}

func (h *harness) insertKeys(keys ...int64) {
	for _, k := range keys {
		k := k
		h.mustRun(func(tx *manager.Transaction) error {
			return h.table.Insert(tx, basic.IntTuple(k, k*10))
		})
	}
}

func (h *harness) search(pred *basic.Predicate) []*basic.Tuple {
	var out []*basic.Tuple
	h.mustRun(func(tx *manager.Transaction) error {
		it, err := h.table.Search(tx, pred)
		if err != nil {
			return err
		}
		out, err = it.All()
		return err
	})
	return out
}

func (h *harness) keys(pred *basic.Predicate) []int64 {
	var out []int64
	for _, tuple := range h.search(pred) {
		out = append(out, tuple.Cell(0).Int())
	}
	return out
}

func (h *harness) checkIntegrity() {
	h.mustRun(func(tx *manager.Transaction) error {
		return h.table.CheckIntegrity(tx)
	})
}

func (h *harness) height() int {
	var height int
	h.mustRun(func(tx *manager.Transaction) error {
		var err error
		height, err = h.table.Height(tx)
		return err
	})
	return height
}

func eq(k int64) *basic.Predicate {
	return basic.NewPredicate(0, basic.Equals, basic.IntCell(k))
}
