package engine

import (
	"sync"
	"time"

	"github.com/zhukovaskychina/xmysql-btree/logger"
)

// CheckpointStats 检查点统计信息
type CheckpointStats struct {
	TotalCheckpoints   uint64
	FailedCheckpoints  uint64
	CheckpointLatency  time.Duration
	LastCheckpointTime time.Time
}

// Checkpointer 后台检查点协程, driven by a ticker.
type Checkpointer struct {
	db       *Database
	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	shutdown  chan struct{}
	done      chan struct{}
	stats     CheckpointStats
}

func NewCheckpointer(db *Database, interval time.Duration) *Checkpointer {
	return &Checkpointer{db: db, interval: interval}
}

// Start 启动后台检查点
func (c *Checkpointer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return
	}
	c.isRunning = true
	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.shutdown, c.done)
	logger.Debugf("background checkpoint every %s", c.interval)
}

// Stop waits for a running checkpoint to finish.
func (c *Checkpointer) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	close(c.shutdown)
	done := c.done
	c.mu.Unlock()
	<-done
}

func (c *Checkpointer) run(shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			c.checkpoint()
		}
	}
}

func (c *Checkpointer) checkpoint() {
	start := time.Now()
	err := c.db.Checkpoint()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stats.FailedCheckpoints++
		logger.Errorf("后台检查点失败: %v", err)
		return
	}
	c.stats.TotalCheckpoints++
	c.stats.CheckpointLatency = time.Since(start)
	c.stats.LastCheckpointTime = start
}

func (c *Checkpointer) Stats() CheckpointStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
