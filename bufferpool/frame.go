package bufferpool

import (
	"sync"
	"sync/atomic"

	"github.com/coredb/bufferpool/storage"
)

// noFrame is the sentinel "no index" value used by the intrusive list
// pointers in LRU/SIEVE policy metadata.
const noFrame = int32(-1)

// Frame is one entry in the fixed-size frame array: a page's worth of
// bytes plus bookkeeping. All Frame methods assume the caller already
// holds the frame's exclusive latch (Lock/Unlock below), per spec — the
// exceptions are Index, the atomic pin-count reader used for lock-free
// predicates (IsPinned, as consulted by a replacement policy walking the
// frame array without taking every frame's latch), and Bytes and
// SetModified, which are for a caller holding only a pin.
type Frame struct {
	mu sync.Mutex

	idx int32

	assigned bool
	block    storage.BlockID
	pinCount atomic.Int32
	dirty    bool
	pageLSN  uint64
	lastTxn  uint64
	bytes    []byte

	// Intrusive policy metadata (spec §9: kept on the frame, not a
	// parallel array, so one cache line serves both frame and policy
	// bookkeeping).
	prev, next int32 // LRU, SIEVE
	ref        bool  // Clock
	visited    bool  // SIEVE
}

func newFrame(idx int, blockSize int) *Frame {
	return &Frame{
		idx:   int32(idx),
		prev:  noFrame,
		next:  noFrame,
		bytes: make([]byte, blockSize),
	}
}

// Lock acquires the frame's exclusive latch (lock level 4).
func (f *Frame) Lock() { f.mu.Lock() }

// Unlock releases the frame's exclusive latch.
func (f *Frame) Unlock() { f.mu.Unlock() }

// Index returns the frame's fixed position in the pool's frame array.
func (f *Frame) Index() int32 { return f.idx }

// IsPinned reports pin_count > 0. Safe to call without the frame latch;
// callers that need a linearizable answer must hold the latch.
func (f *Frame) IsPinned() bool { return f.pinCount.Load() > 0 }

// BlockID returns the frame's currently assigned block. Caller must hold
// the frame latch (or know the frame cannot change concurrently).
func (f *Frame) BlockID() storage.BlockID { return f.block }

func (f *Frame) Assigned() bool  { return f.assigned }
func (f *Frame) Dirty() bool     { return f.dirty }
func (f *Frame) PageLSN() uint64 { return f.pageLSN }

// assignToBlock installs new_block into the frame, reading its bytes from
// the file manager. Caller holds the frame latch.
func (f *Frame) assignToBlock(block storage.BlockID, fm storage.FileManager) error {
	if err := fm.Read(block, f.bytes); err != nil {
		return newIoError("read block "+block.String(), err)
	}
	f.block = block
	f.assigned = true
	f.dirty = false
	f.pinCount.Store(0)
	f.pageLSN = 0
	return nil
}

// pin increments pin_count. Caller holds the frame latch.
func (f *Frame) pin() {
	f.pinCount.Add(1)
}

// unpin decrements pin_count, panicking with InvariantError if it was
// already zero. Returns true if the count transitioned to zero. Caller
// holds the frame latch.
func (f *Frame) unpin() bool {
	if f.pinCount.Load() <= 0 {
		invariantf("unpin called on frame %d with pin_count %d", f.idx, f.pinCount.Load())
	}
	return f.pinCount.Add(-1) == 0
}

// setModified marks the frame dirty and advances page_lsn if lsn is newer.
// Caller holds the frame latch.
func (f *Frame) setModified(txnID uint64, lsn uint64) {
	f.dirty = true
	f.lastTxn = txnID
	if lsn > f.pageLSN {
		f.pageLSN = lsn
	}
}

// reset clears a frame's block binding after eviction. Caller holds the
// frame latch.
func (f *Frame) reset() {
	f.assigned = false
	f.dirty = false
	f.pageLSN = 0
	f.lastTxn = 0
}

// Bytes returns the frame's page buffer. A caller holding a pin on the
// frame may read and write it directly; synchronizing concurrent content
// mutation across transactions is the access-method layer's job, not the
// buffer manager's (spec §1 non-goals).
func (f *Frame) Bytes() []byte { return f.bytes }

// SetModified marks the frame dirty and advances its page LSN if lsn is
// newer (spec §4.1). Safe to call by a caller that only holds a pin, not
// the internal frame latch — it acquires that latch itself.
func (f *Frame) SetModified(txnID, lsn uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setModified(txnID, lsn)
}
