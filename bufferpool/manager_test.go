package bufferpool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coredb/bufferpool/internal/config"
	"github.com/coredb/bufferpool/storage"
)

func testBlock(n int) storage.BlockID {
	return storage.BlockID{File: "t", Block: uint64(n)}
}

var (
	blockA = testBlock(0)
	blockB = testBlock(1)
	blockC = testBlock(2)
	blockD = testBlock(3)
)

func newTestManager(t *testing.T, poolSize int, policy string, waitBudget time.Duration) (*Manager, *fakeFileManager, *fakeLogManager) {
	t.Helper()
	rec := &callRecorder{}
	fm := newFakeFileManager(64, rec)
	lm := newFakeLogManager(rec)
	cfg := &config.Config{
		PoolSize:          poolSize,
		BlockSize:         64,
		ReplacementPolicy: policy,
		WaitBudgetParsed:  waitBudget,
		StatsEnabled:      true,
	}
	m, err := NewManager(cfg, fm, lm)
	require.NoError(t, err)
	return m, fm, lm
}

func pinUnpin(t *testing.T, m *Manager, b storage.BlockID) {
	t.Helper()
	f, err := m.Pin(b)
	require.NoError(t, err)
	m.Unpin(f)
}

// S1: LRU eviction order.
func TestScenario_S1_LRUEvictionOrder(t *testing.T) {
	m, _, _ := newTestManager(t, 3, "lru", time.Second)

	pinUnpin(t, m, blockA)
	pinUnpin(t, m, blockB)
	pinUnpin(t, m, blockC)
	f, err := m.Pin(blockD)
	require.NoError(t, err)
	m.Unpin(f)

	_, ok := m.dir.lookup(blockA)
	assert.False(t, ok, "A should have been evicted")
	for _, b := range []storage.BlockID{blockB, blockC, blockD} {
		_, ok := m.dir.lookup(b)
		assert.True(t, ok, "%s should be resident", b)
	}

	s := m.Stats()
	assert.Equal(t, uint64(0), s.Hits)
	assert.Equal(t, uint64(4), s.Misses)
	assert.Equal(t, uint64(1), s.Evictions)
	assert.Equal(t, uint64(0), s.DirtyEvictions)
}

// S2: Clock second-chance.
func TestScenario_S2_ClockSecondChance(t *testing.T) {
	m, _, _ := newTestManager(t, 3, "clock", time.Second)

	pinUnpin(t, m, blockA)
	pinUnpin(t, m, blockB)
	pinUnpin(t, m, blockC)
	pinUnpin(t, m, blockA) // re-pin A before D's miss

	f, err := m.Pin(blockD)
	require.NoError(t, err)
	m.Unpin(f)

	_, ok := m.dir.lookup(blockA)
	assert.True(t, ok, "A must survive the re-pin")
	_, ok = m.dir.lookup(blockB)
	assert.False(t, ok, "B must be the victim")
	_, ok = m.dir.lookup(blockC)
	assert.True(t, ok)
	_, ok = m.dir.lookup(blockD)
	assert.True(t, ok)
}

// S3: SIEVE second pass.
func TestScenario_S3_SieveSecondPass(t *testing.T) {
	m, _, _ := newTestManager(t, 3, "sieve", time.Second)

	pinUnpin(t, m, blockA)
	pinUnpin(t, m, blockB)
	pinUnpin(t, m, blockC)
	pinUnpin(t, m, blockA)

	f, err := m.Pin(blockD)
	require.NoError(t, err)
	m.Unpin(f)

	_, ok := m.dir.lookup(blockA)
	assert.True(t, ok)
	_, ok = m.dir.lookup(blockB)
	assert.False(t, ok, "B must be the victim")
	_, ok = m.dir.lookup(blockC)
	assert.True(t, ok)
	_, ok = m.dir.lookup(blockD)
	assert.True(t, ok)
}

// S4: WAL-before-write ordering.
func TestScenario_S4_WALBeforeWrite(t *testing.T) {
	rec := &callRecorder{}
	fm := newFakeFileManager(64, rec)
	lm := newFakeLogManager(rec)
	cfg := &config.Config{PoolSize: 1, BlockSize: 64, ReplacementPolicy: "lru", WaitBudgetParsed: time.Second, StatsEnabled: true}
	m, err := NewManager(cfg, fm, lm)
	require.NoError(t, err)

	fA, err := m.Pin(blockA)
	require.NoError(t, err)
	fA.SetModified(1, 42)
	m.Unpin(fA)

	fB, err := m.Pin(blockB)
	require.NoError(t, err)
	m.Unpin(fB)

	calls := rec.snapshot()
	idxFlush, idxWrite, idxRead := -1, -1, -1
	for i, c := range calls {
		switch c {
		case "flush:42":
			idxFlush = i
		case "write:" + blockA.String():
			idxWrite = i
		case "read:" + blockB.String():
			idxRead = i
		}
	}
	require.NotEqual(t, -1, idxFlush)
	require.NotEqual(t, -1, idxWrite)
	require.NotEqual(t, -1, idxRead)
	assert.Less(t, idxFlush, idxWrite, "log flush must precede the dirty write-back")
	assert.Less(t, idxWrite, idxRead, "write-back must precede the new block's read")

	s := m.Stats()
	assert.Equal(t, uint64(1), s.DirtyEvictions)
}

// S5: starvation -> BufferAbort.
func TestScenario_S5_StarvationAbort(t *testing.T) {
	m, _, _ := newTestManager(t, 2, "lru", 50*time.Millisecond)

	fA, err := m.Pin(blockA)
	require.NoError(t, err)
	fB, err := m.Pin(blockB)
	require.NoError(t, err)

	start := time.Now()
	_, err = m.Pin(blockC)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrBufferAbort)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Equal(t, 0, m.Available())

	m.Unpin(fA)
	m.Unpin(fB)
}

// S6: concurrent hits on a shared block.
func TestScenario_S6_ConcurrentHits(t *testing.T) {
	m, _, _ := newTestManager(t, 4, "lru", 2*time.Second)

	const workers = 8
	const iterations = 1000

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				f, err := m.Pin(blockA)
				if err != nil {
					errCh <- err
					return
				}
				m.Unpin(f)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("unexpected error: %v", err)
	}

	idx, ok := m.dir.lookup(blockA)
	require.True(t, ok)
	assert.EqualValues(t, 0, m.frames[idx].pinCount.Load())

	s := m.Stats()
	assert.GreaterOrEqual(t, s.Hits, uint64(float64(workers*iterations)*0.99))
}

func TestUnpin_PanicsOnZeroPinCount(t *testing.T) {
	m, _, _ := newTestManager(t, 1, "lru", time.Second)
	f, err := m.Pin(blockA)
	require.NoError(t, err)
	m.Unpin(f)

	assert.Panics(t, func() {
		m.Unpin(f)
	})
}

func TestAvailable_TracksUnpinnedFrames(t *testing.T) {
	m, _, _ := newTestManager(t, 3, "lru", time.Second)
	assert.Equal(t, 3, m.Available())

	f, err := m.Pin(blockA)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Available())

	m.Unpin(f)
	assert.Equal(t, 3, m.Available())
}

func TestFlushAll_FlushesOnlyMatchingTransaction(t *testing.T) {
	rec := &callRecorder{}
	fm := newFakeFileManager(64, rec)
	lm := newFakeLogManager(rec)
	cfg := &config.Config{PoolSize: 2, BlockSize: 64, ReplacementPolicy: "lru", WaitBudgetParsed: time.Second}
	m, err := NewManager(cfg, fm, lm)
	require.NoError(t, err)

	fA, err := m.Pin(blockA)
	require.NoError(t, err)
	fA.SetModified(1, 10)
	m.Unpin(fA)

	fB, err := m.Pin(blockB)
	require.NoError(t, err)
	fB.SetModified(2, 20)
	m.Unpin(fB)

	require.NoError(t, m.FlushAll(1))

	calls := rec.snapshot()
	assert.Contains(t, calls, fmt.Sprintf("write:%s", blockA))
	assert.NotContains(t, calls, fmt.Sprintf("write:%s", blockB))
}

func TestPin_ReadFailurePropagatesIoError(t *testing.T) {
	rec := &callRecorder{}
	fm := newFakeFileManager(64, rec)
	fm.failRead[blockA] = true
	lm := newFakeLogManager(rec)
	cfg := &config.Config{PoolSize: 1, BlockSize: 64, ReplacementPolicy: "lru", WaitBudgetParsed: time.Second}
	m, err := NewManager(cfg, fm, lm)
	require.NoError(t, err)

	_, err = m.Pin(blockA)
	require.Error(t, err)
	var ioErr *IoError
	assert.ErrorAs(t, err, &ioErr)

	_, ok := m.dir.lookup(blockA)
	assert.False(t, ok, "a failed fetch must not leave a directory entry")
}
