package bufferpool

import (
	"sync"

	"github.com/coredb/bufferpool/storage"
)

// residentDirectory is the mapping from assigned BlockID to frame index
// (spec §4.2). Backed by a single mutex, released before the policy or
// frame latch is ever acquired.
type residentDirectory struct {
	mu    sync.Mutex
	index map[storage.BlockID]int32
}

func newResidentDirectory(capacity int) *residentDirectory {
	return &residentDirectory{index: make(map[storage.BlockID]int32, capacity)}
}

// lookup returns the frame index holding block, if any.
func (d *residentDirectory) lookup(block storage.BlockID) (int32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, ok := d.index[block]
	return idx, ok
}

// insert records block as resident in frameIdx. Panics with InvariantError
// on a duplicate mapping for the same block — callers hold the block
// latch, so this can only happen on programmer error.
func (d *residentDirectory) insert(block storage.BlockID, frameIdx int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.index[block]; ok {
		invariantf("directory already maps %s to frame %d, cannot insert frame %d", block, existing, frameIdx)
	}
	d.index[block] = frameIdx
}

// remove drops block's mapping, if present.
func (d *residentDirectory) remove(block storage.BlockID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.index, block)
}

// snapshot returns a copy of the current block->frame mapping, used by
// FlushAll and Shutdown; not part of the hot path.
func (d *residentDirectory) snapshot() map[storage.BlockID]int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make(map[storage.BlockID]int32, len(d.index))
	for k, v := range d.index {
		cp[k] = v
	}
	return cp
}

func (d *residentDirectory) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.index)
}
