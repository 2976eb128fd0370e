package manager

import (
	"sort"
	"sync"
	"time"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

// lockEntry 单个页面的锁信息. waitCh is closed and replaced whenever a holder
// leaves, waking every waiter to re-check.
type lockEntry struct {
	holders map[basic.TxID]LockType
	waiters int
	waitCh  chan struct{}
}

// LockManager 页级锁管理器, strict 2PL: locks are only released all at once by
// ReleaseLocks.
type LockManager struct {
	mu        sync.Mutex
	lockTable map[pages.PageID]*lockEntry   // 锁表
	waitGraph map[basic.TxID][]basic.TxID   // 等待图
	txnLocks  map[basic.TxID][]pages.PageID // 事务持有的锁
	timeout   time.Duration
	observer  LockWaitObserver
	stats     LockStats
}

// NewLockManager 创建锁管理器. observer may be nil.
func NewLockManager(timeout time.Duration, observer LockWaitObserver) *LockManager {
	return &LockManager{
		lockTable: make(map[pages.PageID]*lockEntry),
		waitGraph: make(map[basic.TxID][]basic.TxID),
		txnLocks:  make(map[basic.TxID][]pages.PageID),
		timeout:   timeout,
		observer:  observer,
	}
}

func (lm *LockManager) entry(pid pages.PageID) *lockEntry {
	e, ok := lm.lockTable[pid]
	if !ok {
		e = &lockEntry{holders: make(map[basic.TxID]LockType), waitCh: make(chan struct{})}
		lm.lockTable[pid] = e
	}
	return e
}

func (lm *LockManager) dropIfIdle(pid pages.PageID, e *lockEntry) {
	if len(e.holders) == 0 && e.waiters == 0 && lm.lockTable[pid] == e {
		delete(lm.lockTable, pid)
	}
}

// blockers lists the transactions whose locks prevent txID from holding
// lockType. Empty means the request can be granted now.
func blockers(e *lockEntry, txID basic.TxID, lockType LockType) []basic.TxID {
	if held, ok := e.holders[txID]; ok && held >= lockType {
		return nil
	}
	var ids []basic.TxID
	for holder, held := range e.holders {
		if holder == txID {
			continue
		}
		if lockType == LOCK_X || held == LOCK_X {
			ids = append(ids, holder)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AcquireLock blocks until txID holds lockType on pid. It returns at once when a
// sufficient lock is already held; S is upgraded to X when txID is the only
// holder. A request that would close a cycle in the wait-for graph fails with
// ErrDeadlock, one that waits past the timeout fails with ErrLockTimeout.
func (lm *LockManager) AcquireLock(txID basic.TxID, pid pages.PageID, lockType LockType) error {
	start := time.Now()
	deadline := start.Add(lm.timeout)
	waited := false

	lm.mu.Lock()
	for {
		e := lm.entry(pid)
		holders := blockers(e, txID, lockType)
		if len(holders) == 0 {
			lm.grant(e, txID, pid, lockType)
			delete(lm.waitGraph, txID)
			lm.mu.Unlock()
			if waited {
				lm.notify(LockWaitEvent{TxID: txID, PageID: pid, LockType: lockType, Waited: time.Since(start), Outcome: WaitGranted})
			}
			return nil
		}

		lm.updateWaitGraph(txID, holders)
		if lm.checkDeadlock(txID) {
			delete(lm.waitGraph, txID)
			lm.dropIfIdle(pid, e)
			lm.stats.Deadlocks++
			lm.mu.Unlock()
			lm.notify(LockWaitEvent{TxID: txID, PageID: pid, LockType: lockType, Holders: holders, Waited: time.Since(start), Outcome: WaitDeadlock})
			return jerrors.Annotatef(basic.ErrDeadlock, "%s waiting for %s lock on %s held by %v", txID, lockType, pid, holders)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			delete(lm.waitGraph, txID)
			lm.dropIfIdle(pid, e)
			lm.stats.LockTimeouts++
			lm.mu.Unlock()
			lm.notify(LockWaitEvent{TxID: txID, PageID: pid, LockType: lockType, Holders: holders, Waited: time.Since(start), Outcome: WaitTimedOut})
			return jerrors.Annotatef(basic.ErrLockTimeout, "%s waited %v for %s lock on %s held by %v", txID, lm.timeout, lockType, pid, holders)
		}

		if !waited {
			lm.stats.Waits++
			waited = true
		}
		ch := e.waitCh
		e.waiters++
		lm.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
		case <-timer.C:
		}
		timer.Stop()

		lm.mu.Lock()
		e.waiters--
		lm.dropIfIdle(pid, e)
	}
}

func (lm *LockManager) grant(e *lockEntry, txID basic.TxID, pid pages.PageID, lockType LockType) {
	held, ok := e.holders[txID]
	if ok && held >= lockType {
		return
	}
	if !ok {
		lm.txnLocks[txID] = append(lm.txnLocks[txID], pid)
	} else {
		lm.stats.Upgrades++
	}
	e.holders[txID] = lockType
	lm.stats.Acquired++
}

func (lm *LockManager) notify(event LockWaitEvent) {
	lm.mu.Lock()
	lm.stats.TotalWait += event.Waited
	if event.Waited > lm.stats.MaxWait {
		lm.stats.MaxWait = event.Waited
	}
	lm.mu.Unlock()
	if lm.observer != nil {
		lm.observer.OnLockWait(event)
	}
}

// checkDeadlock 检查死锁: is txID reachable from the transactions it waits for?
func (lm *LockManager) checkDeadlock(txID basic.TxID) bool {
	visited := make(map[basic.TxID]bool)
	var visit func(id basic.TxID) bool
	visit = func(id basic.TxID) bool {
		if id == txID {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for _, next := range lm.waitGraph[id] {
			if visit(next) {
				return true
			}
		}
		return false
	}
	for _, holder := range lm.waitGraph[txID] {
		if visit(holder) {
			return true
		}
	}
	return false
}

// updateWaitGraph 更新等待图
func (lm *LockManager) updateWaitGraph(waitingTxID basic.TxID, holdingTxIDs []basic.TxID) {
	lm.waitGraph[waitingTxID] = holdingTxIDs
}

// removeFromWaitGraph 从等待图中移除事务
func (lm *LockManager) removeFromWaitGraph(txID basic.TxID) {
	delete(lm.waitGraph, txID)
	for tid, waitList := range lm.waitGraph {
		newWaitList := make([]basic.TxID, 0, len(waitList))
		for _, wid := range waitList {
			if wid != txID {
				newWaitList = append(newWaitList, wid)
			}
		}
		if len(newWaitList) == 0 {
			delete(lm.waitGraph, tid)
		} else {
			lm.waitGraph[tid] = newWaitList
		}
	}
}

// ReleaseLocks 释放事务持有的所有锁 and wakes the waiters on those pages.
func (lm *LockManager) ReleaseLocks(txID basic.TxID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, pid := range lm.txnLocks[txID] {
		e := lm.lockTable[pid]
		if e == nil {
			continue
		}
		delete(e.holders, txID)
		close(e.waitCh)
		e.waitCh = make(chan struct{})
		lm.dropIfIdle(pid, e)
	}
	delete(lm.txnLocks, txID)
	lm.removeFromWaitGraph(txID)
}

// HoldsLock reports whether txID holds at least lockType on pid.
func (lm *LockManager) HoldsLock(txID basic.TxID, pid pages.PageID, lockType LockType) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e, ok := lm.lockTable[pid]
	if !ok {
		return false
	}
	held, ok := e.holders[txID]
	return ok && held >= lockType
}

// LockedPages returns the pages txID holds a lock on, in acquisition order.
func (lm *LockManager) LockedPages(txID basic.TxID) []pages.PageID {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return append([]pages.PageID(nil), lm.txnLocks[txID]...)
}

// Stats returns a snapshot of the counters.
func (lm *LockManager) Stats() LockStats {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.stats
}
