package bufferpool

import (
	"sync"

	"github.com/coredb/bufferpool/storage"
)

const latchTableShards = 64

// blockLatchTable hands out short-lived, refcounted mutexes keyed by
// BlockID, so that two concurrent pins of the same missing block are
// serialized (only one fetches and installs it) without serializing
// admission of unrelated blocks. Grounded on the teacher's LockManager
// (a map of short-lived per-resource structures guarded by a table
// mutex), generalized to shard the table by block hash the way the
// teacher's own LRU cache shards by xxhash.
type blockLatchTable struct {
	shards [latchTableShards]latchShard
}

type latchEntry struct {
	mu  sync.Mutex
	ref int
}

type latchShard struct {
	mu      sync.Mutex
	entries map[storage.BlockID]*latchEntry
}

func newBlockLatchTable() *blockLatchTable {
	t := &blockLatchTable{}
	for i := range t.shards {
		t.shards[i].entries = make(map[storage.BlockID]*latchEntry)
	}
	return t
}

func (t *blockLatchTable) shardFor(block storage.BlockID) *latchShard {
	return &t.shards[block.Hash()%latchTableShards]
}

// acquire blocks until the per-block latch for block is held by this
// goroutine, creating the entry on first reference.
func (t *blockLatchTable) acquire(block storage.BlockID) {
	shard := t.shardFor(block)

	shard.mu.Lock()
	e, ok := shard.entries[block]
	if !ok {
		e = &latchEntry{}
		shard.entries[block] = e
	}
	e.ref++
	shard.mu.Unlock()

	e.mu.Lock()
}

// release releases the per-block latch, reclaiming the entry if no other
// goroutine references it.
func (t *blockLatchTable) release(block storage.BlockID) {
	shard := t.shardFor(block)

	shard.mu.Lock()
	e, ok := shard.entries[block]
	if !ok {
		shard.mu.Unlock()
		invariantf("release of block latch %s with no entry", block)
	}
	e.ref--
	if e.ref == 0 {
		delete(shard.entries, block)
	}
	shard.mu.Unlock()

	e.mu.Unlock()
}
