package manager

import (
	"time"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// LockType 锁类型
type LockType int

const (
	LOCK_S LockType = iota // 共享锁
	LOCK_X                 // 排他锁
)

func (t LockType) String() string {
	if t == LOCK_X {
		return "X"
	}
	return "S"
}

// LockTypeFor maps a buffer pool permission onto a page lock.
func LockTypeFor(perm basic.Permission) LockType {
	if perm == basic.ReadWrite {
		return LOCK_X
	}
	return LOCK_S
}

// WaitOutcome 锁等待结果
type WaitOutcome int

const (
	WaitGranted WaitOutcome = iota
	WaitTimedOut
	WaitDeadlock
)

func (o WaitOutcome) String() string {
	switch o {
	case WaitTimedOut:
		return "timeout"
	case WaitDeadlock:
		return "deadlock"
	}
	return "granted"
}

// LockWaitEvent describes one blocking lock request after it finished waiting.
type LockWaitEvent struct {
	TxID     basic.TxID
	PageID   pages.PageID
	LockType LockType
	Holders  []basic.TxID
	Waited   time.Duration
	Outcome  WaitOutcome
}

// LockWaitObserver receives lock-wait timings. Called without any lock manager
// mutex held.
type LockWaitObserver interface {
	OnLockWait(event LockWaitEvent)
}

// LockStats 锁统计信息
type LockStats struct {
	Acquired     uint64 // 授予次数
	Waits        uint64 // 等待次数
	Deadlocks    uint64 // 死锁次数
	LockTimeouts uint64 // 锁超时次数
	Upgrades     uint64 // S->X 升级次数
	TotalWait    time.Duration
	MaxWait      time.Duration
}
