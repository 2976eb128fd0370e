package engine

import (
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/xmysql-btree/logger"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
)

// LockWaitLogger 锁等待观察者: logs waits slower than the threshold, every
// timeout and every deadlock, and keeps counters for Stats.
type LockWaitLogger struct {
	slow time.Duration

	slowWaits int64
	timeouts  int64
	deadlocks int64
}

func NewLockWaitLogger(slow time.Duration) *LockWaitLogger {
	return &LockWaitLogger{slow: slow}
}

func (o *LockWaitLogger) OnLockWait(event manager.LockWaitEvent) {
	entry := logger.WithFields(map[string]interface{}{
		"tx":      event.TxID.String(),
		"page":    event.PageID.String(),
		"lock":    event.LockType.String(),
		"holders": event.Holders,
		"waited":  event.Waited.String(),
	})
	switch event.Outcome {
	case manager.WaitDeadlock:
		atomic.AddInt64(&o.deadlocks, 1)
		entry.Warn("deadlock, requester aborted")
	case manager.WaitTimedOut:
		atomic.AddInt64(&o.timeouts, 1)
		entry.Warn("lock wait timeout")
	default:
		if o.slow > 0 && event.Waited >= o.slow {
			atomic.AddInt64(&o.slowWaits, 1)
			entry.Info("slow lock wait")
		}
	}
}

// LockWaitCounts 观察到的锁等待次数
type LockWaitCounts struct {
	SlowWaits int64
	Timeouts  int64
	Deadlocks int64
}

func (o *LockWaitLogger) Counts() LockWaitCounts {
	return LockWaitCounts{
		SlowWaits: atomic.LoadInt64(&o.slowWaits),
		Timeouts:  atomic.LoadInt64(&o.timeouts),
		Deadlocks: atomic.LoadInt64(&o.deadlocks),
	}
}
