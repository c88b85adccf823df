// Command bufferpool-bench drives a configurable number of concurrent
// workers against a buffer pool and prints a final stats report, in the
// spirit of the teacher's manually-run demo_buffer_pool* programs.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coredb/bufferpool/bufferpool"
	"github.com/coredb/bufferpool/internal/config"
	"github.com/coredb/bufferpool/internal/introspect"
	"github.com/coredb/bufferpool/logger"
	"github.com/coredb/bufferpool/storage"
	"github.com/coredb/bufferpool/wal"
)

func main() {
	var (
		poolSize   = flag.Int("pool-size", 32, "number of frames in the pool")
		blockSize  = flag.Int("block-size", 4096, "bytes per frame")
		policy     = flag.String("policy", "lru", "replacement policy: lru, clock, or sieve")
		workers    = flag.Int("workers", 8, "concurrent pinning goroutines")
		ops        = flag.Int("ops", 20000, "pin/unpin operations per worker")
		workingSet = flag.Int("working-set", 64, "distinct blocks accessed, across file \"bench\"")
		waitBudget = flag.Duration("wait-budget", 2*time.Second, "starvation timeout")
		dataDir    = flag.String("data-dir", "", "on-disk data directory; empty uses a temp dir")
		httpAddr   = flag.String("http", "", "if set, serve live stats at this address (e.g. :8080)")
	)
	flag.Parse()

	_ = logger.Init(logger.Config{Level: "info"})

	cfg := config.Default()
	cfg.PoolSize = *poolSize
	cfg.BlockSize = *blockSize
	cfg.ReplacementPolicy = *policy
	cfg.WaitBudgetParsed = *waitBudget

	dir := *dataDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "bufferpool-bench-")
		if err != nil {
			logger.Errorf("create scratch data dir: %v", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
	}

	fm, err := storage.NewDiskFileManager(dir, cfg.BlockSize)
	if err != nil {
		logger.Errorf("create file manager: %v", err)
		os.Exit(1)
	}
	logMgr, err := wal.NewFileLogManager(dir)
	if err != nil {
		logger.Errorf("create log manager: %v", err)
		os.Exit(1)
	}

	mgr, err := bufferpool.NewManager(cfg, fm, logMgr)
	if err != nil {
		logger.Errorf("create buffer pool: %v", err)
		os.Exit(1)
	}

	if *httpAddr != "" {
		srv := introspect.New(mgr)
		go func() {
			logger.Infof("introspection server listening on %s", *httpAddr)
			if err := http.ListenAndServe(*httpAddr, srv.Router()); err != nil {
				logger.Warnf("introspection server stopped: %v", err)
			}
		}()
	}

	fmt.Printf("bufferpool-bench: pool_size=%d policy=%s workers=%d ops=%d working_set=%d\n",
		*poolSize, *policy, *workers, *ops, *workingSet)

	var aborts int64
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < *ops; i++ {
				block := storage.BlockID{File: "bench", Block: uint64(rng.Intn(*workingSet))}
				f, err := mgr.Pin(block)
				if err != nil {
					atomic.AddInt64(&aborts, 1)
					continue
				}
				if rng.Intn(10) == 0 {
					f.SetModified(1, uint64(i))
				}
				mgr.Unpin(f)
			}
		}(int64(w) + 1)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if err := mgr.Shutdown(); err != nil {
		logger.Errorf("shutdown: %v", err)
	}

	snap := mgr.Stats()
	fmt.Printf("elapsed=%s hits=%d misses=%d hit_ratio=%.3f evictions=%d dirty_evictions=%d aborts=%d\n",
		elapsed, snap.Hits, snap.Misses, snap.HitRatio(), snap.Evictions, snap.DirtyEvictions, aborts)
	fmt.Printf("log_flush_total=%s page_write_total=%s\n",
		time.Duration(snap.LogFlushNanos), time.Duration(snap.PageWriteNanos))
}
