package bufferpool

import (
	"fmt"
	"sync"

	"github.com/coredb/bufferpool/storage"
)

// callRecorder captures the relative order of I/O calls across the fake
// file and log managers, used to assert the WAL-before-write ordering
// (spec §5, Scenario S4).
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *callRecorder) record(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *callRecorder) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]string, len(c.calls))
	copy(cp, c.calls)
	return cp
}

// fakeFileManager is an in-memory storage.FileManager, so tests never
// touch real disk.
type fakeFileManager struct {
	mu        sync.Mutex
	blockSize int
	data      map[storage.BlockID][]byte
	rec       *callRecorder
	failRead  map[storage.BlockID]bool
}

func newFakeFileManager(blockSize int, rec *callRecorder) *fakeFileManager {
	return &fakeFileManager{
		blockSize: blockSize,
		data:      make(map[storage.BlockID][]byte),
		rec:       rec,
		failRead:  make(map[storage.BlockID]bool),
	}
}

func (f *fakeFileManager) BlockSize() int { return f.blockSize }

func (f *fakeFileManager) Read(block storage.BlockID, out []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rec != nil {
		f.rec.record("read:" + block.String())
	}
	if f.failRead[block] {
		return fmt.Errorf("simulated read failure for %s", block)
	}
	data, ok := f.data[block]
	if !ok {
		for i := range out {
			out[i] = 0
		}
		return nil
	}
	copy(out, data)
	return nil
}

func (f *fakeFileManager) Write(block storage.BlockID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rec != nil {
		f.rec.record("write:" + block.String())
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.data[block] = cp
	return nil
}

func (f *fakeFileManager) Append(file string) (storage.BlockID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max uint64
	found := false
	for b := range f.data {
		if b.File == file && (!found || b.Block >= max) {
			max = b.Block + 1
			found = true
		}
	}
	return storage.BlockID{File: file, Block: max}, nil
}

// fakeLogManager is an in-memory wal.LogManager recording flush calls.
type fakeLogManager struct {
	mu      sync.Mutex
	nextLSN uint64
	flushed uint64
	rec     *callRecorder
}

func newFakeLogManager(rec *callRecorder) *fakeLogManager {
	return &fakeLogManager{rec: rec}
}

func (l *fakeLogManager) Append(data []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextLSN++
	return l.nextLSN, nil
}

func (l *fakeLogManager) Flush(upTo uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rec != nil {
		l.rec.record(fmt.Sprintf("flush:%d", upTo))
	}
	if upTo > l.flushed {
		l.flushed = upTo
	}
	return nil
}

func (l *fakeLogManager) Close() error { return nil }
