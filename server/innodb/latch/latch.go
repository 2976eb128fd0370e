package latch

import "sync"

// Mode 闩锁模式
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "X"
	}
	return "S"
}

// Latch 保护单个页面的物理一致性, 生命周期仅限一次结构操作
type Latch struct {
	mu sync.RWMutex
}

// NewLatch 创建一个新的闩锁
func NewLatch() *Latch {
	return &Latch{}
}

// Acquire blocks until the latch is held in mode m.
func (l *Latch) Acquire(m Mode) {
	if m == Exclusive {
		l.mu.Lock()
		return
	}
	l.mu.RLock()
}

// Release undoes a matching Acquire.
func (l *Latch) Release(m Mode) {
	if m == Exclusive {
		l.mu.Unlock()
		return
	}
	l.mu.RUnlock()
}

// TryAcquire never blocks; eviction uses it to skip latched pages.
func (l *Latch) TryAcquire(m Mode) bool {
	if m == Exclusive {
		return l.mu.TryLock()
	}
	return l.mu.TryRLock()
}
