package manager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/logger"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/logs"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
	"github.com/zhukovaskychina/xmysql-btree/util"
)

// PageWriter is where rollback and recovery put page images back.
type PageWriter interface {
	WritePage(pid pages.PageID, image []byte) error
	Sync(tableIDs ...uint32) error
}

// RecoveryStats summarises one Recover run.
type RecoveryStats struct {
	Records   int
	Winners   int
	Losers    int
	Redone    int
	Undone    int
	TornBytes int64
	MaxTxID   basic.TxID
}

// LogManager 预写日志管理器. UPDATE records carry whole before/after page
// images; COMMIT and ABORT are forced to disk before they return.
type LogManager struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	size       int64
	codec      logs.Codec
	checkpoint int64
	txStart    map[basic.TxID]int64
	appended   int
}

// NewLogManager opens or creates the log file at path.
func NewLogManager(path string, codec logs.Codec) (*LogManager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, jerrors.Annotatef(basic.ErrIOFailure, "create log directory: %v", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, jerrors.Annotatef(basic.ErrIOFailure, "open log %s: %v", path, err)
	}
	lm := &LogManager{
		path:    path,
		file:    file,
		codec:   codec,
		txStart: make(map[basic.TxID]int64),
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, jerrors.Annotatef(basic.ErrIOFailure, "stat log %s: %v", path, err)
	}
	if info.Size() < logs.FileHeaderSize {
		if err := lm.resetUnsafe(); err != nil {
			file.Close()
			return nil, err
		}
		return lm, nil
	}

	header := make([]byte, logs.FileHeaderSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		file.Close()
		return nil, jerrors.Annotatef(basic.ErrIOFailure, "read log header: %v", err)
	}
	if lm.checkpoint, err = logs.DecodeFileHeader(header); err != nil {
		file.Close()
		return nil, jerrors.Annotatef(err, "log %s", path)
	}
	lm.size = info.Size()
	return lm, nil
}

func (lm *LogManager) Path() string {
	return lm.path
}

func (lm *LogManager) Codec() logs.Codec {
	return lm.codec
}

// Size is the current end of the log in bytes.
func (lm *LogManager) Size() int64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.size
}

// resetUnsafe empties the log down to a fresh header.
func (lm *LogManager) resetUnsafe() error {
	if err := lm.file.Truncate(0); err != nil {
		return jerrors.Annotatef(basic.ErrIOFailure, "truncate log: %v", err)
	}
	if _, err := lm.file.WriteAt(logs.EncodeFileHeader(0), 0); err != nil {
		return jerrors.Annotatef(basic.ErrIOFailure, "write log header: %v", err)
	}
	if err := lm.file.Sync(); err != nil {
		return jerrors.Annotatef(basic.ErrIOFailure, "sync log: %v", err)
	}
	lm.size = logs.FileHeaderSize
	lm.checkpoint = 0
	return nil
}

func (lm *LogManager) appendUnsafe(rec *logs.Record) (int64, error) {
	if lm.file == nil {
		return 0, ErrLogClosed
	}
	frame := logs.EncodeFrame(rec, lm.codec)
	offset := lm.size
	if _, err := lm.file.WriteAt(frame, offset); err != nil {
		return 0, jerrors.Annotatef(basic.ErrIOFailure, "append %s: %v", rec.Kind, err)
	}
	lm.size += int64(len(frame))
	lm.appended++
	return offset, nil
}

func (lm *LogManager) syncUnsafe() error {
	if lm.file == nil {
		return ErrLogClosed
	}
	if err := lm.file.Sync(); err != nil {
		return jerrors.Annotatef(basic.ErrIOFailure, "sync log: %v", err)
	}
	return nil
}

// LogStart records the beginning of a transaction and remembers its offset
// for rollback.
func (lm *LogManager) LogStart(tx basic.TxID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	offset, err := lm.appendUnsafe(logs.NewStartRecord(tx))
	if err != nil {
		return err
	}
	lm.txStart[tx] = offset
	return nil
}

// LogUpdate appends a page image pair. Not synced; callers sync before the
// page itself reaches disk.
func (lm *LogManager) LogUpdate(tx basic.TxID, pid pages.PageID, before, after []byte) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if _, ok := lm.txStart[tx]; !ok {
		offset, err := lm.appendUnsafe(logs.NewStartRecord(tx))
		if err != nil {
			return err
		}
		lm.txStart[tx] = offset
	}
	_, err := lm.appendUnsafe(logs.NewUpdateRecord(tx, pid, before, after))
	return err
}

// LogCommit appends COMMIT and forces the log.
func (lm *LogManager) LogCommit(tx basic.TxID) error {
	return lm.logEnd(logs.NewCommitRecord(tx))
}

// LogAbort appends ABORT and forces the log.
func (lm *LogManager) LogAbort(tx basic.TxID) error {
	return lm.logEnd(logs.NewAbortRecord(tx))
}

func (lm *LogManager) logEnd(rec *logs.Record) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if _, err := lm.appendUnsafe(rec); err != nil {
		return err
	}
	delete(lm.txStart, rec.TxID)
	return lm.syncUnsafe()
}

// Sync forces everything appended so far.
func (lm *LogManager) Sync() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.syncUnsafe()
}

// scanUnsafe reads every intact record from offset on. validEnd is where the
// first torn frame starts, or the end of the file.
func (lm *LogManager) scanUnsafe(offset int64, fn func(rec *logs.Record) error) (validEnd int64, err error) {
	if lm.file == nil {
		return 0, ErrLogClosed
	}
	if offset < logs.FileHeaderSize {
		offset = logs.FileHeaderSize
	}
	rd := logs.NewReader(lm.file, offset, lm.size)
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return rd.Offset(), nil
		}
		if err != nil {
			if errors.Is(err, logs.ErrTornFrame) {
				return rd.Offset(), nil
			}
			return rd.Offset(), err
		}
		if err := fn(rec); err != nil {
			return rd.Offset(), err
		}
	}
}

// Rollback restores, for every page tx logged, the earliest before-image it
// logged. Pages are matched by file slot, so a slot freed and reused under a
// different category within tx still gets its original bytes back.
func (lm *LogManager) Rollback(tx basic.TxID, w PageWriter) error {
	lm.mu.Lock()
	start, ok := lm.txStart[tx]
	if !ok {
		lm.mu.Unlock()
		return nil
	}
	type restore struct {
		pid    pages.PageID
		before []byte
	}
	var order []pages.Location
	earliest := make(map[pages.Location]restore)
	_, err := lm.scanUnsafe(start, func(rec *logs.Record) error {
		if rec.Kind != logs.KindUpdate || rec.TxID != tx {
			return nil
		}
		loc := rec.PageID.Location()
		if _, seen := earliest[loc]; !seen {
			earliest[loc] = restore{pid: rec.PageID, before: rec.Before}
			order = append(order, loc)
		}
		return nil
	})
	lm.mu.Unlock()
	if err != nil {
		return jerrors.Annotatef(err, "rollback %s", tx)
	}

	tables := make(map[uint32]struct{})
	for _, loc := range order {
		r := earliest[loc]
		if r.before == nil {
			continue
		}
		if err := w.WritePage(r.pid, r.before); err != nil {
			return jerrors.Annotatef(err, "rollback %s", tx)
		}
		tables[loc.TableID] = struct{}{}
	}
	if len(tables) > 0 {
		logger.Debugf("rollback %s restored %d page(s)", tx, len(order))
	}
	return w.Sync(tableIDs(tables)...)
}

func tableIDs(set map[uint32]struct{}) []uint32 {
	ids := make([]uint32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Recover replays the log after a restart: committed UPDATE records from the
// last checkpoint on are redone forward, then every UPDATE of a transaction
// with neither COMMIT nor ABORT is undone backward. The log is truncated
// afterwards, which also drops any torn tail.
func (lm *LogManager) Recover(w PageWriter) (RecoveryStats, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var stats RecoveryStats
	var records []*logs.Record
	ended := make(map[basic.TxID]logs.Kind)
	seen := make(map[basic.TxID]struct{})
	validEnd, err := lm.scanUnsafe(logs.FileHeaderSize, func(rec *logs.Record) error {
		records = append(records, rec)
		switch rec.Kind {
		case logs.KindCommit, logs.KindAbort:
			ended[rec.TxID] = rec.Kind
		case logs.KindStart, logs.KindUpdate:
			seen[rec.TxID] = struct{}{}
		}
		if rec.TxID > stats.MaxTxID {
			stats.MaxTxID = rec.TxID
		}
		return nil
	})
	if err != nil {
		return stats, jerrors.Annotate(err, "scan log")
	}
	stats.Records = len(records)
	stats.TornBytes = lm.size - validEnd

	losers := make(map[basic.TxID]struct{})
	for tx := range seen {
		switch ended[tx] {
		case logs.KindCommit:
			stats.Winners++
		case logs.KindAbort:
		default:
			losers[tx] = struct{}{}
		}
	}
	stats.Losers = len(losers)

	tables := make(map[uint32]struct{})
	redoFrom := lm.checkpoint
	for _, rec := range records {
		if rec.Kind != logs.KindUpdate || rec.Offset < redoFrom || ended[rec.TxID] != logs.KindCommit {
			continue
		}
		if err := w.WritePage(rec.PageID, rec.After); err != nil {
			return stats, jerrors.Annotatef(err, "redo %s", rec)
		}
		tables[rec.PageID.TableID] = struct{}{}
		stats.Redone++
	}
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Kind != logs.KindUpdate {
			continue
		}
		if _, ok := losers[rec.TxID]; !ok || rec.Before == nil {
			continue
		}
		if err := w.WritePage(rec.PageID, rec.Before); err != nil {
			return stats, jerrors.Annotatef(err, "undo %s", rec)
		}
		tables[rec.PageID.TableID] = struct{}{}
		stats.Undone++
	}
	if err := w.Sync(tableIDs(tables)...); err != nil {
		return stats, jerrors.Trace(err)
	}
	if err := lm.resetUnsafe(); err != nil {
		return stats, jerrors.Trace(err)
	}
	lm.txStart = make(map[basic.TxID]int64)

	if stats.Records > 0 {
		logger.WithFields(map[string]interface{}{
			"records": stats.Records,
			"winners": stats.Winners,
			"losers":  stats.Losers,
			"redone":  stats.Redone,
			"undone":  stats.Undone,
			"torn":    stats.TornBytes,
		}).Info("recovery finished")
	}
	return stats, nil
}

// Checkpoint flushes every dirty page through flush, then either truncates
// the log (no transaction in flight) or appends a CHECKPOINT record listing
// the live transactions and points the header at it.
func (lm *LogManager) Checkpoint(active []basic.TxID, flush func() error) error {
	if flush != nil {
		if err := flush(); err != nil {
			return jerrors.Annotate(err, "checkpoint flush")
		}
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	live := make(map[basic.TxID]int64, len(lm.txStart))
	for tx, off := range lm.txStart {
		live[tx] = off
	}
	for _, tx := range active {
		if _, ok := live[tx]; !ok {
			live[tx] = logs.FileHeaderSize
		}
	}
	if len(live) == 0 {
		logger.Debugf("checkpoint: no live transactions, truncating %s", lm.path)
		return lm.resetUnsafe()
	}

	list := make([]logs.ActiveTx, 0, len(live))
	for tx, off := range live {
		list = append(list, logs.ActiveTx{TxID: tx, StartOffset: off})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TxID < list[j].TxID })
	offset, err := lm.appendUnsafe(logs.NewCheckpointRecord(list))
	if err != nil {
		return err
	}
	if err := lm.syncUnsafe(); err != nil {
		return err
	}
	slot := make([]byte, 0, 8)
	slot = util.WriteUB8(slot, uint64(offset))
	if _, err := lm.file.WriteAt(slot, logs.CheckpointSlotOffset); err != nil {
		return jerrors.Annotatef(basic.ErrIOFailure, "write checkpoint slot: %v", err)
	}
	lm.checkpoint = offset
	logger.Debugf("checkpoint at %d with %d live transaction(s)", offset, len(list))
	return lm.syncUnsafe()
}

// LastCheckpoint is the offset of the newest CHECKPOINT record, 0 if none.
func (lm *LogManager) LastCheckpoint() int64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.checkpoint
}

// Truncate empties the log. Only safe when no transaction is in flight.
func (lm *LogManager) Truncate() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.file == nil {
		return ErrLogClosed
	}
	lm.txStart = make(map[basic.TxID]int64)
	return lm.resetUnsafe()
}

// Records returns every intact record currently in the log.
func (lm *LogManager) Records() ([]*logs.Record, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	var out []*logs.Record
	_, err := lm.scanUnsafe(logs.FileHeaderSize, func(rec *logs.Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// RecordsCount counts the intact records in the log.
func (lm *LogManager) RecordsCount() (int, error) {
	recs, err := lm.Records()
	return len(recs), err
}

// ShowLogContents renders the log as a tree, one record per line.
func (lm *LogManager) ShowLogContents() (string, error) {
	recs, err := lm.Records()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d records, %d bytes, codec %s, checkpoint @%d)\n",
		filepath.Base(lm.path), len(recs), lm.Size(), lm.codec, lm.LastCheckpoint())
	for i, rec := range recs {
		branch := "├── "
		if i == len(recs)-1 {
			branch = "└── "
		}
		fmt.Fprintf(&sb, "%s[%d] %s\n", branch, rec.Offset, rec)
	}
	return sb.String(), nil
}

// Close syncs and closes the log file.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.file == nil {
		return nil
	}
	err := lm.file.Sync()
	if cerr := lm.file.Close(); err == nil {
		err = cerr
	}
	lm.file = nil
	if err != nil {
		return jerrors.Annotatef(basic.ErrIOFailure, "close log: %v", err)
	}
	return nil
}
