// Package pool implements a memory pool of fixed-size byte buffers,
// reused LIFO to avoid repeated allocator churn on the hot upload/download
// and binlog-flush paths (spec.md §4.E, §4.C).
package pool

import (
	"fmt"
	"sync"
	"time"
)

// Pool is a pool of fixed-size buffers, bounded to maxBuffers entries.
// Buffers beyond the bound are freed immediately rather than pooled.
type Pool struct {
	mu          sync.Mutex
	bufferSize  int
	maxBuffers  int
	useMmap     bool
	flushTime   time.Duration
	stack       [][]byte
	lastUse     []time.Time
	inUse       int
	alloced     int
	alloc       func(size int) ([]byte, error)
	free        func([]byte) error
	closeTicker chan struct{}
}

// New creates a Pool. flushTime governs how often idle buffers older than
// flushTime are released back to the runtime; bufferSize is the size of
// every buffer handed out; maxBuffers bounds how many idle buffers are
// retained; useMmap is recorded but has no effect: every buffer is a
// plain make([]byte, n) (mmap's only real benefit here is avoiding GC
// scanning of huge buffers, which isn't worth a build-tagged syscall
// path for this node's buffer sizes).
func New(flushTime time.Duration, bufferSize, maxBuffers int, useMmap bool) *Pool {
	bp := &Pool{
		bufferSize:  bufferSize,
		maxBuffers:  maxBuffers,
		useMmap:     useMmap,
		flushTime:   flushTime,
		closeTicker: make(chan struct{}),
	}
	bp.alloc = func(size int) ([]byte, error) {
		return make([]byte, size), nil
	}
	bp.free = func([]byte) error { return nil }
	if flushTime > 0 {
		go bp.flusher()
	}
	return bp
}

func (bp *Pool) flusher() {
	ticker := time.NewTicker(bp.flushTime)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			bp.flushOld()
		case <-bp.closeTicker:
			return
		}
	}
}

// flushOld evicts pooled buffers that haven't been used within flushTime.
func (bp *Pool) flushOld() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	cutoff := time.Now().Add(-bp.flushTime)
	kept := bp.stack[:0]
	keptUse := bp.lastUse[:0]
	for i, b := range bp.stack {
		if bp.lastUse[i].Before(cutoff) {
			_ = bp.free(b)
			bp.alloced--
			continue
		}
		kept = append(kept, b)
		keptUse = append(keptUse, bp.lastUse[i])
	}
	bp.stack = kept
	bp.lastUse = keptUse
}

// Close stops the background flusher.
func (bp *Pool) Close() {
	close(bp.closeTicker)
}

// Get returns a buffer from the pool, allocating a new one if empty.
func (bp *Pool) Get() []byte {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.getLocked()
}

func (bp *Pool) getLocked() []byte {
	n := len(bp.stack)
	if n == 0 {
		b, err := bp.alloc(bp.bufferSize)
		if err != nil {
			// Mirror the teacher's behaviour under a flaky allocator:
			// keep retrying rather than returning a nil/short buffer to
			// a caller that will crc32/write it.
			for err != nil {
				b, err = bp.alloc(bp.bufferSize)
			}
		}
		bp.alloced++
		bp.inUse++
		return b
	}
	b := bp.stack[n-1]
	bp.stack = bp.stack[:n-1]
	bp.lastUse = bp.lastUse[:n-1]
	bp.inUse++
	return b
}

// Put returns a buffer to the pool. It panics if the buffer is not of the
// pool's configured size, the same contract the teacher's pool uses to
// catch misuse early.
func (bp *Pool) Put(b []byte) {
	if len(b) != bp.bufferSize {
		panic(fmt.Sprintf("pool: wrong buffer size returned: got %d, want %d", len(b), bp.bufferSize))
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.putLocked(b)
}

func (bp *Pool) putLocked(b []byte) {
	bp.inUse--
	if len(bp.stack) >= bp.maxBuffers {
		for err := bp.free(b); err != nil; err = bp.free(b) {
		}
		bp.alloced--
		return
	}
	bp.stack = append(bp.stack, b)
	bp.lastUse = append(bp.lastUse, time.Now())
}

// GetN returns n buffers, LIFO order (most recently pooled first).
func (bp *Pool) GetN(n int) [][]byte {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = bp.getLocked()
	}
	return out
}

// PutN returns a slice of buffers to the pool.
func (bp *Pool) PutN(bs [][]byte) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, b := range bs {
		bp.putLocked(b)
	}
}

// InUse returns the number of buffers currently checked out.
func (bp *Pool) InUse() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.inUse
}

// InPool returns the number of buffers currently idle in the pool.
func (bp *Pool) InPool() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.stack)
}

// Alloced returns the total number of buffers currently allocated
// (in use plus pooled).
func (bp *Pool) Alloced() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.alloced
}
