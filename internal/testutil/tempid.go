package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/dalton/internal/ir"
)

// SequentialTempIDs allocates temp ids with predictable keys "t1", "t2", ...
//
// Changers normally use random UUIDv7 keys; tests and golden scenarios swap
// this in so compiled edits are byte-identical across runs.
//
// Thread-safety: Next is safe for concurrent use.
type SequentialTempIDs struct {
	mu  sync.Mutex
	seq int
}

// NewSequentialTempIDs creates an allocator whose first key is "t1".
func NewSequentialTempIDs() *SequentialTempIDs {
	return &SequentialTempIDs{}
}

// Next returns a fresh temp id in partition.
func (g *SequentialTempIDs) Next(partition ir.Keyword) ir.TempID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return ir.TempID{Partition: partition, Key: fmt.Sprintf("t%d", g.seq)}
}
