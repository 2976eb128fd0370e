// Package logs defines the write-ahead log wire format: a file header followed
// by length-prefixed, checksummed frames, one log record per frame.
package logs

import (
	"fmt"
	"strings"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// Kind 日志记录类型
type Kind uint8

const (
	KindStart Kind = iota + 1
	KindUpdate
	KindCommit
	KindAbort
	KindCheckpoint
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "START"
	case KindUpdate:
		return "UPDATE"
	case KindCommit:
		return "COMMIT"
	case KindAbort:
		return "ABORT"
	case KindCheckpoint:
		return "CHECKPOINT"
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// ActiveTx is one entry of a checkpoint's live transaction list.
type ActiveTx struct {
	TxID        basic.TxID
	StartOffset int64
}

// Record is one decoded log record. Offset is where its frame starts in the
// log file and is filled in by the reader.
type Record struct {
	Kind   Kind
	Codec  Codec
	TxID   basic.TxID
	PageID pages.PageID
	Before []byte
	After  []byte
	Active []ActiveTx
	Offset int64
}

func NewStartRecord(tx basic.TxID) *Record {
	return &Record{Kind: KindStart, TxID: tx}
}

func NewUpdateRecord(tx basic.TxID, pid pages.PageID, before, after []byte) *Record {
	return &Record{Kind: KindUpdate, TxID: tx, PageID: pid, Before: before, After: after}
}

func NewCommitRecord(tx basic.TxID) *Record {
	return &Record{Kind: KindCommit, TxID: tx}
}

func NewAbortRecord(tx basic.TxID) *Record {
	return &Record{Kind: KindAbort, TxID: tx}
}

func NewCheckpointRecord(active []ActiveTx) *Record {
	return &Record{Kind: KindCheckpoint, Active: active}
}

func (r *Record) String() string {
	switch r.Kind {
	case KindUpdate:
		return fmt.Sprintf("%s %s page=%s before=%dB after=%dB", r.Kind, r.TxID, r.PageID, len(r.Before), len(r.After))
	case KindCheckpoint:
		parts := make([]string, len(r.Active))
		for i, a := range r.Active {
			parts[i] = fmt.Sprintf("%s@%d", a.TxID, a.StartOffset)
		}
		return fmt.Sprintf("%s active=[%s]", r.Kind, strings.Join(parts, " "))
	}
	return fmt.Sprintf("%s %s", r.Kind, r.TxID)
}
