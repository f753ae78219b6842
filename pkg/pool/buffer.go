// Package pool provides reusable byte buffers for transfer copy loops.
package pool

import (
	"sync"
)

// BufferPool hands out fixed-size byte buffers, bounding how much pooled
// memory concurrent transfers can pin. Past the cap, buffers are allocated
// untracked and left for the garbage collector.
type BufferPool struct {
	pool      sync.Pool
	size      int
	maxAlloc  int64
	allocated int64
	mu        sync.Mutex
}

// NewBufferPool creates a pool of bufferSize-byte buffers. maxAlloc <= 0
// means unbounded.
func NewBufferPool(bufferSize int, maxAlloc int64) *BufferPool {
	return &BufferPool{
		size:     bufferSize,
		maxAlloc: maxAlloc,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// Get retrieves a buffer from the pool.
func (bp *BufferPool) Get() []byte {
	bp.mu.Lock()
	if bp.maxAlloc > 0 && bp.allocated >= bp.maxAlloc {
		bp.mu.Unlock()
		return make([]byte, bp.size)
	}
	bp.allocated += int64(bp.size)
	bp.mu.Unlock()

	return bp.pool.Get().([]byte)[:bp.size]
}

// Put returns a buffer to the pool. Buffers of the wrong size are dropped.
func (bp *BufferPool) Put(buf []byte) {
	if buf == nil || cap(buf) != bp.size {
		return
	}

	bp.mu.Lock()
	bp.allocated -= int64(bp.size)
	if bp.allocated < 0 {
		bp.allocated = 0
	}
	bp.mu.Unlock()

	bp.pool.Put(buf) //nolint:staticcheck
}

// Allocated reports the bytes currently checked out of the pool.
func (bp *BufferPool) Allocated() int64 {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.allocated
}
