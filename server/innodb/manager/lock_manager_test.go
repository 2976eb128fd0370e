package manager

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/pages"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []LockWaitEvent
}

func (o *recordingObserver) OnLockWait(event LockWaitEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingObserver) outcomes() []WaitOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []WaitOutcome
	for _, e := range o.events {
		out = append(out, e.Outcome)
	}
	return out
}

func leafID(index uint32) pages.PageID {
	return pages.NewPageID(1, pages.CategoryLeaf, index)
}

func TestLockManager_BasicLocking(t *testing.T) {
	lm := NewLockManager(50*time.Millisecond, nil)
	a := leafID(3)

	require.NoError(t, lm.AcquireLock(1, a, LOCK_S))
	require.NoError(t, lm.AcquireLock(2, a, LOCK_S))

	err := lm.AcquireLock(3, a, LOCK_X)
	assert.True(t, errors.Is(err, basic.ErrLockTimeout), "got %v", err)
	assert.True(t, basic.IsRetryable(err))

	lm.ReleaseLocks(1)
	lm.ReleaseLocks(2)

	require.NoError(t, lm.AcquireLock(3, a, LOCK_X))
	assert.True(t, lm.HoldsLock(3, a, LOCK_X))
	assert.False(t, lm.HoldsLock(1, a, LOCK_S))
}

func TestLockManager_ReentrantAndUpgrade(t *testing.T) {
	lm := NewLockManager(50*time.Millisecond, nil)
	a, b := leafID(3), leafID(4)

	t.Run("重复获取", func(t *testing.T) {
		require.NoError(t, lm.AcquireLock(1, a, LOCK_X))
		require.NoError(t, lm.AcquireLock(1, a, LOCK_S))
		require.NoError(t, lm.AcquireLock(1, a, LOCK_X))
		assert.True(t, lm.HoldsLock(1, a, LOCK_X))
	})

	t.Run("唯一持有者升级", func(t *testing.T) {
		require.NoError(t, lm.AcquireLock(1, b, LOCK_S))
		require.NoError(t, lm.AcquireLock(1, b, LOCK_X))
		assert.True(t, lm.HoldsLock(1, b, LOCK_X))
		assert.Equal(t, []pages.PageID{a, b}, lm.LockedPages(1))
	})

	t.Run("共享时不能升级", func(t *testing.T) {
		c := leafID(5)
		require.NoError(t, lm.AcquireLock(2, c, LOCK_S))
		require.NoError(t, lm.AcquireLock(3, c, LOCK_S))
		err := lm.AcquireLock(2, c, LOCK_X)
		assert.True(t, basic.IsLockTimeout(err))
		assert.True(t, lm.HoldsLock(2, c, LOCK_S))
		assert.False(t, lm.HoldsLock(2, c, LOCK_X))
	})

	lm.ReleaseLocks(1)
	assert.Empty(t, lm.LockedPages(1))
	assert.True(t, lm.Stats().Upgrades >= 1)
}

func TestLockManager_WaiterWokenOnRelease(t *testing.T) {
	obs := &recordingObserver{}
	lm := NewLockManager(2*time.Second, obs)
	a := leafID(3)
	require.NoError(t, lm.AcquireLock(1, a, LOCK_X))

	done := make(chan error, 1)
	go func() {
		done <- lm.AcquireLock(2, a, LOCK_S)
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("reader should block behind the writer, got %v", err)
	default:
	}

	lm.ReleaseLocks(1)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken")
	}
	assert.True(t, lm.HoldsLock(2, a, LOCK_S))
	assert.Equal(t, []WaitOutcome{WaitGranted}, obs.outcomes())
	assert.Equal(t, uint64(1), lm.Stats().Waits)
}

func TestLockManager_DeadlockDetection(t *testing.T) {
	obs := &recordingObserver{}
	lm := NewLockManager(5*time.Second, obs)
	a, b := leafID(3), leafID(4)

	require.NoError(t, lm.AcquireLock(1, a, LOCK_X))
	require.NoError(t, lm.AcquireLock(2, b, LOCK_X))

	t1 := make(chan error, 1)
	go func() {
		t1 <- lm.AcquireLock(1, b, LOCK_X)
	}()
	time.Sleep(50 * time.Millisecond)

	// tx 2 closes the cycle and is the one refused
	err := lm.AcquireLock(2, a, LOCK_S)
	require.Error(t, err)
	assert.True(t, basic.IsDeadlock(err), "got %v", err)

	lm.ReleaseLocks(2)
	select {
	case err := <-t1:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tx 1 was not granted after tx 2 released")
	}
	assert.True(t, lm.HoldsLock(1, b, LOCK_X))
	assert.Equal(t, uint64(1), lm.Stats().Deadlocks)
	assert.Contains(t, obs.outcomes(), WaitDeadlock)
	assert.Contains(t, obs.outcomes(), WaitGranted)
}

func TestLockManager_ConcurrentWriters(t *testing.T) {
	lm := NewLockManager(3*time.Second, nil)
	a := leafID(3)

	var mu sync.Mutex
	inside := 0
	maxInside := 0
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(tx basic.TxID) {
			defer wg.Done()
			if err := lm.AcquireLock(tx, a, LOCK_X); err != nil {
				t.Errorf("tx %d: %v", tx, err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			lm.ReleaseLocks(tx)
		}(basic.TxID(i))
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}
