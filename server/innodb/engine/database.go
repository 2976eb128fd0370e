package engine

import (
	"errors"
	"os"
	"sort"
	"sync"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/logger"
	"github.com/zhukovaskychina/xmysql-btree/server/conf"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/btree"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/ibd"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-btree/util"
)

// Database 进程级句柄. It owns the page files, the log, the lock table and
// the buffer pool; tables only borrow the pool.
type Database struct {
	cfg *conf.Cfg

	files    *ibd.FileSet
	wal      *manager.LogManager
	locks    *manager.LockManager
	txs      *manager.TransactionManager
	pool     *buffer_pool.BufferPool
	observer *LockWaitLogger

	checkpointer *Checkpointer
	recovery     manager.RecoveryStats

	mu     sync.RWMutex
	tables map[string]*btree.Table
	closed bool
}

// Open creates the data directory if needed, replays the log into the page
// files and builds the in-memory managers.
func Open(cfg *conf.Cfg) (*Database, error) {
	if cfg == nil {
		cfg = conf.NewCfg()
	}
	if err := cfg.Validate(); err != nil {
		return nil, jerrors.Trace(err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, jerrors.Annotatef(basic.ErrIOFailure, "create %s: %v", cfg.DataDir, err)
	}
	codec, err := logs.ParseCodec(cfg.LogCompression)
	if err != nil {
		return nil, jerrors.Trace(err)
	}

	files := ibd.NewFileSet(cfg.DataDir)
	wal, err := manager.NewLogManager(cfg.LogFilePath(), codec)
	if err != nil {
		return nil, jerrors.Annotate(err, "open log")
	}
	stats, err := wal.Recover(files)
	if err != nil {
		_ = wal.Close()
		_ = files.Close()
		return nil, jerrors.Annotate(err, "recovery")
	}

	txs := manager.NewTransactionManager()
	txs.AdvancePast(stats.MaxTxID)
	observer := NewLockWaitLogger(cfg.LockSlowWait)
	locks := manager.NewLockManager(cfg.LockTimeout, observer)
	pool := buffer_pool.NewBufferPool(&buffer_pool.BufferPoolConfig{
		MaxPages: cfg.BufferPoolPages,
		Store:    files,
		Locks:    locks,
		WAL:      wal,
	})

	db := &Database{
		cfg:      cfg,
		files:    files,
		wal:      wal,
		locks:    locks,
		txs:      txs,
		pool:     pool,
		observer: observer,
		recovery: stats,
		tables:   make(map[string]*btree.Table),
	}
	if cfg.CheckpointInterval > 0 {
		db.checkpointer = NewCheckpointer(db, cfg.CheckpointInterval)
		db.checkpointer.Start()
	}
	logger.Infof("database opened at %s (latch mode %s, %d buffer pages, log codec %s)",
		cfg.DataDir, cfg.LatchMode, cfg.BufferPoolPages, codec)
	return db, nil
}

func (db *Database) Config() *conf.Cfg {
	return db.cfg
}

// Recovery reports what Open replayed.
func (db *Database) Recovery() manager.RecoveryStats {
	return db.recovery
}

func (db *Database) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	return nil
}

// Begin starts a transaction and logs its START record.
func (db *Database) Begin() (*manager.Transaction, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	tx := db.txs.Begin()
	if err := db.wal.LogStart(tx.ID); err != nil {
		_ = db.txs.MarkAborting(tx)
		_ = db.txs.Finish(tx)
		return nil, jerrors.Trace(err)
	}
	return tx, nil
}

// Commit forces the pages tx dirtied (log first), writes COMMIT and releases
// its locks. When any step fails the transaction is aborted and the commit
// error returned.
func (db *Database) Commit(tx *manager.Transaction) error {
	if err := db.txs.MarkCommitting(tx); err != nil {
		if errors.Is(err, manager.ErrRollbackOnly) {
			logger.Warnf("commit refused, aborting: %v", err)
			if aerr := db.abort(tx); aerr != nil {
				logger.Errorf("abort %s: %v", tx.ID, aerr)
			}
		}
		return err
	}
	err := db.pool.CommitTransaction(tx.ID)
	if err == nil {
		err = db.wal.LogCommit(tx.ID)
	}
	if err != nil {
		logger.Errorf("commit %s failed, aborting: %v", tx.ID, err)
		if aerr := db.abort(tx); aerr != nil {
			logger.Errorf("abort %s after failed commit: %v", tx.ID, aerr)
		}
		return jerrors.Annotatef(err, "commit %s", tx.ID)
	}
	db.locks.ReleaseLocks(tx.ID)
	return db.txs.Finish(tx)
}

// Abort drops tx's cached pages, restores the earliest logged image of every
// page it wrote out, writes ABORT and releases its locks.
func (db *Database) Abort(tx *manager.Transaction) error {
	if err := db.txs.MarkAborting(tx); err != nil {
		return err
	}
	return db.abort(tx)
}

func (db *Database) abort(tx *manager.Transaction) error {
	if tx.State() != manager.TRX_STATE_ABORTING {
		if err := db.txs.MarkAborting(tx); err != nil {
			return err
		}
	}
	db.pool.AbortTransaction(tx.ID)
	if err := db.wal.Rollback(tx.ID, db.files); err != nil {
		return jerrors.Annotatef(err, "rollback %s", tx.ID)
	}
	if err := db.wal.LogAbort(tx.ID); err != nil {
		return jerrors.Trace(err)
	}
	db.locks.ReleaseLocks(tx.ID)
	return db.txs.Finish(tx)
}

// TableID is the page-file id of a table name.
func TableID(name string) uint32 {
	return util.NameID(name)
}

func (db *Database) layout(name string, schema *basic.Schema, keyField int) (*pages.TableLayout, error) {
	layout, err := pages.NewTableLayout(TableID(name), schema, keyField, db.cfg.LeafCapacity, db.cfg.InternalCapacity)
	if err != nil {
		return nil, jerrors.Annotatef(err, "table %s", name)
	}
	return layout, nil
}

// CreateTable makes a new, empty page file for name.
func (db *Database) CreateTable(name string, schema *basic.Schema, keyField int) (*btree.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if _, ok := db.tables[name]; ok {
		return nil, jerrors.Annotate(ErrTableExists, name)
	}
	layout, err := db.layout(name, schema, keyField)
	if err != nil {
		return nil, err
	}
	if db.files.Exists(layout.TableID) {
		return nil, jerrors.Annotatef(ErrTableExists, "%s (%s)", name, ibd.FileName(layout.TableID))
	}
	if err := db.files.Create(layout); err != nil {
		return nil, jerrors.Annotatef(err, "create %s", name)
	}
	return db.registerLocked(name, layout), nil
}

// OpenTable attaches an existing page file. The schema is not stored on disk,
// callers pass the one the table was created with.
func (db *Database) OpenTable(name string, schema *basic.Schema, keyField int) (*btree.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if t, ok := db.tables[name]; ok {
		return t, nil
	}
	layout, err := db.layout(name, schema, keyField)
	if err != nil {
		return nil, err
	}
	if !db.files.Exists(layout.TableID) {
		return nil, jerrors.Annotate(ErrTableNotFound, name)
	}
	return db.registerLocked(name, layout), nil
}

func (db *Database) registerLocked(name string, layout *pages.TableLayout) *btree.Table {
	db.pool.RegisterTable(layout)
	t := btree.NewTable(name, layout, db.pool, db.cfg.LatchMode)
	db.tables[name] = t
	logger.Debugf("table %s registered as %s, schema %s", name, ibd.FileName(layout.TableID), layout.Schema)
	return t
}

func (db *Database) Table(name string) (*btree.Table, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	return t, ok
}

// Tables lists the open table names.
func (db *Database) Tables() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Checkpoint writes out every idle dirty page, then truncates the log or
// records the live transactions in it.
func (db *Database) Checkpoint() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return jerrors.Trace(db.wal.Checkpoint(db.txs.ActiveIDs(), db.pool.FlushAllPages))
}

func (db *Database) ShowLogContents() (string, error) {
	return db.wal.ShowLogContents()
}

// Stats 数据库运行统计
type Stats struct {
	BufferPool         buffer_pool.BufferPoolStats
	CachedPages        int
	DirtyPages         int
	Locks              manager.LockStats
	LockWaits          LockWaitCounts
	ActiveTransactions int
	LogBytes           int64
	LastCheckpoint     int64
	Checkpoints        CheckpointStats
	Recovery           manager.RecoveryStats
}

func (db *Database) Stats() Stats {
	s := Stats{
		BufferPool:         db.pool.Stats(),
		CachedPages:        db.pool.CachedPages(),
		DirtyPages:         db.pool.DirtyPages(),
		Locks:              db.locks.Stats(),
		LockWaits:          db.observer.Counts(),
		ActiveTransactions: len(db.txs.ActiveIDs()),
		LogBytes:           db.wal.Size(),
		LastCheckpoint:     db.wal.LastCheckpoint(),
		Recovery:           db.recovery,
	}
	if db.checkpointer != nil {
		s.Checkpoints = db.checkpointer.Stats()
	}
	return s
}

// Close flushes, checkpoints and closes the log and page files. Transactions
// still running are left to recovery.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	if db.checkpointer != nil {
		db.checkpointer.Stop()
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if active := db.txs.ActiveIDs(); len(active) > 0 {
		logger.Warnf("closing with %d active transaction(s): %v", len(active), active)
	}
	keep(db.wal.Checkpoint(db.txs.ActiveIDs(), db.pool.FlushAllPages))
	keep(db.wal.Close())
	keep(db.files.Close())
	if firstErr != nil {
		return jerrors.Annotate(firstErr, "close database")
	}
	logger.Infof("database at %s closed", db.cfg.DataDir)
	return nil
}
