// Package bufferpool implements the concurrent buffer pool manager: a
// bounded cache of fixed-size disk blocks shared by many concurrent
// pinners, with pluggable LRU/Clock/SIEVE replacement and WAL-before-write
// eviction ordering.
package bufferpool

import (
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/coredb/bufferpool/internal/config"
	"github.com/coredb/bufferpool/logger"
	"github.com/coredb/bufferpool/storage"
	"github.com/coredb/bufferpool/wal"
)

// Manager is the buffer pool's coordinator (spec §4.4): pin, unpin,
// flush_all. It serializes per-block admission via the block latch
// table, drives the replacement policy, and enforces the WAL-before-write
// ordering on eviction.
type Manager struct {
	frames  []*Frame
	dir     *residentDirectory
	latches *blockLatchTable
	policy  Policy

	fm  storage.FileManager
	log wal.LogManager

	freeMu sync.Mutex
	free   []int32

	availMu   sync.Mutex
	availCond *sync.Cond
	available int64

	waitBudget time.Duration
	stats      Stats
}

// NewManager constructs a Manager with cfg.PoolSize frames, backed by fm
// for block I/O and log for WAL flushing.
func NewManager(cfg *config.Config, fm storage.FileManager, log wal.LogManager) (*Manager, error) {
	if cfg.PoolSize <= 0 {
		return nil, errors.New("pool_size must be positive")
	}
	policyName := config.Policy(cfg.ReplacementPolicy)
	if !policyName.Valid() {
		return nil, errors.Errorf("unknown replacement policy %q", cfg.ReplacementPolicy)
	}

	frames := make([]*Frame, cfg.PoolSize)
	free := make([]int32, cfg.PoolSize)
	for i := range frames {
		frames[i] = newFrame(i, cfg.BlockSize)
		free[i] = int32(i)
	}

	m := &Manager{
		frames:     frames,
		dir:        newResidentDirectory(cfg.PoolSize),
		latches:    newBlockLatchTable(),
		fm:         fm,
		log:        log,
		free:       free,
		waitBudget: cfg.WaitBudgetParsed,
		available:  int64(cfg.PoolSize),
	}
	m.policy = NewPolicy(string(policyName), frames)
	m.availCond = sync.NewCond(&m.availMu)
	m.stats.enabled = cfg.StatsEnabled
	return m, nil
}

// Pin resolves block to a resident frame, fetching and possibly evicting
// to make room on a miss. Returns ErrBufferAbort if the starvation wait
// budget elapses, or an *IoError if disk I/O fails.
func (m *Manager) Pin(block storage.BlockID) (*Frame, error) {
	m.latches.acquire(block)
	noteLockAcquire(lockLevelBlock)
	defer func() {
		noteLockRelease(lockLevelBlock)
		m.latches.release(block)
	}()

	noteLockAcquire(lockLevelDirectory)
	idx, hit := m.dir.lookup(block)
	noteLockRelease(lockLevelDirectory)
	if hit {
		if f, ok := m.pinExisting(idx, block); ok {
			m.stats.recordHit()
			return f, nil
		}
		// The directory lookup and the frame-latch acquisition inside
		// pinExisting are not atomic: idx may have been evicted and
		// reassigned to a different block in that window. Fall through
		// to the miss path instead of pinning the wrong block.
	}
	m.stats.recordMiss()

	deadline := time.Now().Add(m.waitBudget)
	for {
		if idx, ok := m.popFree(); ok {
			f, err := m.installFreshFrame(idx, block)
			if err != nil {
				return nil, err
			}
			return f, nil
		}

		noteLockAcquire(lockLevelPolicy)
		idx, ok := m.policy.SelectVictim()
		noteLockRelease(lockLevelPolicy)
		if !ok {
			if !m.waitForAvailable(deadline) {
				return nil, ErrBufferAbort
			}
			continue
		}

		f, retry, err := m.evictAndInstall(idx, block)
		if err != nil {
			return nil, err
		}
		if retry {
			if !time.Now().Before(deadline) {
				return nil, ErrBufferAbort
			}
			continue
		}
		return f, nil
	}
}

// pinExisting bumps pin_count on the frame the directory said holds block
// (the hit path, spec §4.4.1 step 2). The directory lookup that produced
// idx happens before the frame latch is acquired here, so idx's frame may
// since have been evicted and reassigned to a different block by a
// concurrent miss — re-checking identity under the directory mutex instead
// would deadlock against evictAndInstall, which acquires the directory
// mutex while already holding the frame latch (DESIGN decision 1). Instead
// this re-checks identity under the frame latch alone and reports ok ==
// false on a mismatch, so the caller falls back to the normal miss path.
func (m *Manager) pinExisting(idx int32, block storage.BlockID) (*Frame, bool) {
	f := m.frames[idx]
	f.Lock()
	noteLockAcquire(lockLevelFrame)
	if !f.assigned || f.block != block {
		f.Unlock()
		noteLockRelease(lockLevelFrame)
		return nil, false
	}
	wasIdle := f.pinCount.Load() == 0
	f.pin()
	f.Unlock()
	noteLockRelease(lockLevelFrame)

	if wasIdle {
		m.decrementAvailable()
		m.policy.OnHit(idx)
	}
	return f, true
}

// installFreshFrame admits block into a never-assigned frame popped off
// the free list, ahead of consulting the replacement policy at all
// (spec §12's free-frame fast path).
func (m *Manager) installFreshFrame(idx int32, block storage.BlockID) (*Frame, error) {
	f := m.frames[idx]
	f.Lock()
	noteLockAcquire(lockLevelFrame)
	if err := f.assignToBlock(block, m.fm); err != nil {
		f.Unlock()
		noteLockRelease(lockLevelFrame)
		m.pushFree(idx)
		return nil, err
	}
	f.pin()
	f.Unlock()
	noteLockRelease(lockLevelFrame)

	m.decrementAvailable()
	noteLockAcquire(lockLevelDirectory)
	m.dir.insert(block, idx)
	noteLockRelease(lockLevelDirectory)
	m.policy.OnInsert(idx)
	return f, nil
}

// evictAndInstall implements spec §4.4.1 steps 3b-3e: acquire the
// victim's frame latch, re-check it is still unpinned, evict its old
// block (WAL-flush then write if dirty), and install the requested
// block. The directory mutation is nested inside the frame-latch hold
// per the literal algorithm in §4.4.1, not released-then-reacquired as
// §5's prose summary might suggest — see the Open Question discussion.
// retry==true means the caller should loop back to select_victim again.
func (m *Manager) evictAndInstall(idx int32, block storage.BlockID) (frame *Frame, retry bool, err error) {
	victim := m.frames[idx]
	victim.Lock()
	noteLockAcquire(lockLevelFrame)

	if victim.IsPinned() {
		victim.Unlock()
		noteLockRelease(lockLevelFrame)
		m.policy.Requeue(idx)
		return nil, true, nil
	}

	if victim.Assigned() {
		oldBlock := victim.BlockID()
		noteLockAcquire(lockLevelDirectory)
		m.dir.remove(oldBlock)
		noteLockRelease(lockLevelDirectory)

		if victim.Dirty() {
			if ferr := m.flushFrameLocked(victim); ferr != nil {
				// Eviction aborted: restore the directory mapping so the
				// block is not silently lost from residency.
				noteLockAcquire(lockLevelDirectory)
				m.dir.insert(oldBlock, idx)
				noteLockRelease(lockLevelDirectory)
				victim.Unlock()
				noteLockRelease(lockLevelFrame)
				m.policy.Requeue(idx)
				return nil, false, ferr
			}
			m.stats.recordDirtyEviction()
		}
		m.stats.recordEviction()
		victim.reset()
		logger.Debugf("buffer pool: evicted block %s from frame %d", oldBlock, idx)
	}

	if aerr := victim.assignToBlock(block, m.fm); aerr != nil {
		victim.Unlock()
		noteLockRelease(lockLevelFrame)
		m.pushFree(idx)
		return nil, false, aerr
	}
	victim.pin()
	victim.Unlock()
	noteLockRelease(lockLevelFrame)

	m.decrementAvailable()
	noteLockAcquire(lockLevelDirectory)
	m.dir.insert(block, idx)
	noteLockRelease(lockLevelDirectory)
	m.policy.OnInsert(idx)
	return victim, false, nil
}

// flushFrameLocked forces the WAL up to the frame's page LSN, then writes
// its bytes to disk, clearing dirty. Caller holds the frame latch.
func (m *Manager) flushFrameLocked(f *Frame) error {
	if !f.dirty {
		return nil
	}
	start := time.Now()
	if err := m.log.Flush(f.pageLSN); err != nil {
		return newIoError("flush wal up to lsn "+strconv.FormatUint(f.pageLSN, 10), err)
	}
	m.stats.addLogFlushNanos(time.Since(start).Nanoseconds())

	start = time.Now()
	if err := m.fm.Write(f.block, f.bytes); err != nil {
		return newIoError("write block "+f.block.String(), err)
	}
	m.stats.addPageWriteNanos(time.Since(start).Nanoseconds())

	f.dirty = false
	return nil
}

// Unpin decrements a frame's pin count (spec §4.4.2), signalling a
// starvation waiter if the frame becomes idle.
func (m *Manager) Unpin(f *Frame) {
	f.Lock()
	noteLockAcquire(lockLevelFrame)
	idle := f.unpin()
	f.Unlock()
	noteLockRelease(lockLevelFrame)

	if idle {
		m.incrementAvailable()
	}
}

// FlushAll flushes every resident frame whose most recent modification
// belongs to txnID (spec §4.4.3), used at transaction commit.
func (m *Manager) FlushAll(txnID uint64) error {
	for _, idx := range m.dir.snapshot() {
		f := m.frames[idx]
		f.Lock()
		var err error
		if f.assigned && f.dirty && f.lastTxn == txnID {
			err = m.flushFrameLocked(f)
		}
		f.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Shutdown flushes every resident dirty frame. The buffer pool owns no
// on-disk state of its own beyond that (spec §6).
func (m *Manager) Shutdown() error {
	for _, idx := range m.dir.snapshot() {
		f := m.frames[idx]
		f.Lock()
		err := m.flushFrameLocked(f)
		f.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Available returns the current count of frames with pin_count == 0
// (spec §3's available_frames, Testable Property 2).
func (m *Manager) Available() int {
	m.availMu.Lock()
	defer m.availMu.Unlock()
	return int(m.available)
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (m *Manager) Stats() Snapshot {
	return m.stats.snapshot()
}

// PoolSize returns the fixed number of frames.
func (m *Manager) PoolSize() int {
	return len(m.frames)
}

// FrameInfo is a point-in-time view of one frame, for the introspection
// server's debug endpoint.
type FrameInfo struct {
	Index    int32           `json:"index"`
	Assigned bool            `json:"assigned"`
	Block    storage.BlockID `json:"block"`
	Pinned   bool            `json:"pinned"`
	Dirty    bool            `json:"dirty"`
	PageLSN  uint64          `json:"page_lsn"`
}

// FrameSnapshot returns a point-in-time view of every frame. It takes each
// frame's latch in turn, not the whole pool's; the result can be stale by
// the time the caller reads it, which is fine for a debug endpoint.
func (m *Manager) FrameSnapshot() []FrameInfo {
	out := make([]FrameInfo, len(m.frames))
	for i, f := range m.frames {
		f.Lock()
		out[i] = FrameInfo{
			Index:    f.idx,
			Assigned: f.assigned,
			Block:    f.block,
			Pinned:   f.IsPinned(),
			Dirty:    f.dirty,
			PageLSN:  f.pageLSN,
		}
		f.Unlock()
	}
	return out
}

func (m *Manager) decrementAvailable() {
	m.availMu.Lock()
	m.available--
	m.availMu.Unlock()
}

func (m *Manager) incrementAvailable() {
	m.availMu.Lock()
	m.available++
	m.availCond.Signal()
	m.availMu.Unlock()
}

// waitForAvailable blocks until available_frames > 0 or deadline passes,
// via a condition variable armed with a time.AfterFunc timeout — the
// standard idiom for a cond wait with a bound, since sync.Cond itself has
// no timeout parameter.
func (m *Manager) waitForAvailable(deadline time.Time) bool {
	m.availMu.Lock()
	defer m.availMu.Unlock()

	for m.available == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warnf("buffer pool: starvation wait budget exceeded")
			return false
		}
		timer := time.AfterFunc(remaining, func() {
			m.availMu.Lock()
			m.availCond.Broadcast()
			m.availMu.Unlock()
		})
		m.availCond.Wait()
		timer.Stop()
	}
	return true
}

// popFree pops from the front so frames are handed out in ascending
// index order — the order they were constructed in, which several of
// the testable end-to-end scenarios (spec §8) implicitly rely on.
func (m *Manager) popFree() (int32, bool) {
	m.freeMu.Lock()
	defer m.freeMu.Unlock()
	if len(m.free) == 0 {
		return 0, false
	}
	idx := m.free[0]
	m.free = m.free[1:]
	return idx, true
}

func (m *Manager) pushFree(idx int32) {
	m.freeMu.Lock()
	m.free = append(m.free, idx)
	m.freeMu.Unlock()
}

