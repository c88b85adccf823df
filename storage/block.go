// Package storage provides the disk-backed block I/O contract the buffer
// pool consumes: fixed-size blocks identified by (file name, block number).
package storage

import (
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// BlockID identifies a fixed-size disk block. Equality and hashing are
// structural, per the file/block-number pair.
type BlockID struct {
	File  string
	Block uint64
}

func (b BlockID) String() string {
	return fmt.Sprintf("%s:%d", b.File, b.Block)
}

// Hash returns a stable, well-distributed hash of the block identity, used
// to shard the block latch table.
func (b BlockID) Hash() uint64 {
	h := xxhash.New64()
	h.Write([]byte(b.File))
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(b.Block >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}
