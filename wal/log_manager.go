// Package wal provides the minimal write-ahead log collaborator the buffer
// pool forces before writing a dirty frame back to disk.
package wal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// LogManager is the buffer pool's WAL collaborator: flush(up_to_lsn).
type LogManager interface {
	// Append records a log entry and returns its assigned LSN.
	Append(data []byte) (uint64, error)
	// Flush guarantees every record with LSN <= upTo is durable.
	Flush(upTo uint64) error
	Close() error
}

type record struct {
	lsn  uint64
	data []byte
}

// FileLogManager is a minimal append-only redo log: an in-memory buffer
// backed by a periodic and on-demand fsync'd flush, grounded on the
// teacher's RedoLogManager.
type FileLogManager struct {
	mu            sync.Mutex
	file          *os.File
	nextLSN       uint64
	flushedLSN    uint64
	buffer        []record
	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
}

func NewFileLogManager(dir string) (*FileLogManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create log dir")
	}
	f, err := os.OpenFile(filepath.Join(dir, "wal.log"), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open wal file")
	}
	m := &FileLogManager{
		file:          f,
		nextLSN:       1,
		flushInterval: 200 * time.Millisecond,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go m.backgroundFlush()
	return m, nil
}

func (m *FileLogManager) Append(data []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lsn := m.nextLSN
	m.nextLSN++
	cp := make([]byte, len(data))
	copy(cp, data)
	m.buffer = append(m.buffer, record{lsn: lsn, data: cp})
	return lsn, nil
}

// Flush guarantees durability of every appended record with lsn <= upTo.
// Since the buffer is drained in LSN order, a single flushBuffer call
// satisfies any upTo within the currently buffered range.
func (m *FileLogManager) Flush(upTo uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flushedLSN >= upTo {
		return nil
	}
	return m.flushBufferLocked()
}

func (m *FileLogManager) flushBufferLocked() error {
	if len(m.buffer) == 0 {
		return nil
	}
	for _, r := range m.buffer {
		if err := binary.Write(m.file, binary.BigEndian, r.lsn); err != nil {
			return errors.Wrap(err, "write lsn")
		}
		length := uint32(len(r.data))
		if err := binary.Write(m.file, binary.BigEndian, length); err != nil {
			return errors.Wrap(err, "write record length")
		}
		if _, err := m.file.Write(r.data); err != nil {
			return errors.Wrap(err, "write record data")
		}
		m.flushedLSN = r.lsn
	}
	m.buffer = m.buffer[:0]
	return errors.Wrap(m.file.Sync(), "fsync wal file")
}

func (m *FileLogManager) backgroundFlush() {
	defer close(m.done)
	t := time.NewTicker(m.flushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.mu.Lock()
			_ = m.flushBufferLocked()
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

func (m *FileLogManager) Close() error {
	close(m.stop)
	<-m.done
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.flushBufferLocked(); err != nil {
		return err
	}
	return m.file.Close()
}
