package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/logger"
	"github.com/zhukovaskychina/xmysql-btree/server/conf"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/btree"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/engine"
)

// 并发插入: 每个事务插入一批交错的 key, 遇到死锁或锁超时就整体中止重试.
func main() {
	goroutineCount := flag.Int("workers", 8, "并发 goroutine 数")
	txPerWorker := flag.Int("tx", 20, "每个 goroutine 的事务数")
	batch := flag.Int("batch", 5, "每个事务插入的 key 数")
	latchMode := flag.String("latch", conf.LatchModeAncestor, "ancestor | tree")
	flag.Parse()
	workers, perWorker, perTx := *goroutineCount, *txPerWorker, *batch
	total := workers * perWorker * perTx

	if err := logger.InitLogger(logger.LogConfig{LogLevel: "warn"}); err != nil {
		log.Fatalf("init logger: %v", err)
	}

	dir, err := os.MkdirTemp("", "xbtree-deadlock-")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := conf.NewCfg()
	cfg.DataDir = dir
	cfg.LatchMode = *latchMode
	cfg.LeafCapacity = 8
	cfg.InternalCapacity = 8
	cfg.BufferPoolPages = 256
	cfg.LockTimeout = 200 * time.Millisecond

	db, err := engine.Open(cfg)
	if err != nil {
		log.Fatalf("open: %s", jerrors.ErrorStack(err))
	}
	defer db.Close()

	table, err := db.CreateTable("counters", basic.NewIntSchema("k", "worker"), 0)
	if err != nil {
		log.Fatalf("create table: %s", jerrors.ErrorStack(err))
	}

	fmt.Printf("🔥 %d goroutines x %d transactions x %d keys, latch mode %s\n",
		workers, perWorker, perTx, *latchMode)

	var (
		wg        sync.WaitGroup
		retries   int64
		deadlocks int64
		timeouts  int64
	)
	start := time.Now()
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				keys := make([]int64, perTx)
				for b := range keys {
					// 不同 worker 的 key 交错落在同一批叶子上
					keys[b] = int64((j*perTx+b)*workers + id)
				}
				for {
					err := insertBatch(db, table, keys, int64(id))
					if err == nil {
						break
					}
					if !basic.IsRetryable(err) {
						log.Fatalf("worker %d: %s", id, jerrors.ErrorStack(err))
					}
					atomic.AddInt64(&retries, 1)
					if basic.IsDeadlock(err) {
						atomic.AddInt64(&deadlocks, 1)
					} else {
						atomic.AddInt64(&timeouts, 1)
					}
					time.Sleep(time.Duration(id+1) * time.Millisecond)
				}
			}
		}(i)
	}
	wg.Wait()

	tx, err := db.Begin()
	if err != nil {
		log.Fatalf("begin: %v", err)
	}
	n, err := table.TupleCount(tx)
	if err == nil {
		err = table.CheckIntegrity(tx)
	}
	if err != nil {
		log.Fatalf("check: %s", jerrors.ErrorStack(err))
	}
	height, _ := table.Height(tx)
	if err := db.Commit(tx); err != nil {
		log.Fatalf("commit: %v", err)
	}

	st := db.Stats()
	fmt.Println("🔍 测试总结:")
	fmt.Printf("  - 耗时: %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  - 元组数: %d (期望 %d), 树高: %d\n", n, total, height)
	fmt.Printf("  - 重试: %d (死锁 %d, 超时 %d)\n", retries, deadlocks, timeouts)
	fmt.Printf("  - 缓冲池: hits=%d misses=%d evictions=%d\n", st.BufferPool.PageHits, st.BufferPool.PageMisses, st.BufferPool.PageEvictions)
	fmt.Printf("  - 锁等待: slow=%d timeouts=%d deadlocks=%d\n", st.LockWaits.SlowWaits, st.LockWaits.Timeouts, st.LockWaits.Deadlocks)
	fmt.Printf("  - 最终goroutine数: %d\n", runtime.NumGoroutine())
	if n != total {
		fmt.Println("⚠️  元组数不符")
		os.Exit(1)
	}
	fmt.Println("✅ 测试完成")
}

func insertBatch(db *engine.Database, table *btree.Table, keys []int64, worker int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := table.Insert(tx, basic.IntTuple(k, worker)); err != nil {
			if abortErr := db.Abort(tx); abortErr != nil {
				logger.Errorf("abort tx %d: %v", tx.ID, abortErr)
			}
			return err
		}
	}
	return db.Commit(tx)
}
