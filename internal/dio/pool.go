// Package dio implements the disk I/O worker pool (spec.md §4.E): one
// reader pool and one writer pool per base path, each a FIFO job queue
// drained by a fixed number of worker goroutines. A task is pinned to a
// single worker (its dio_thread_index) so multi-chunk sequences for one
// upload all land on the same worker and never need per-file locking to
// preserve offset ordering. Bounded by golang.org/x/sync/semaphore to
// cap total in-flight jobs, and reuses lib/pool-backed buffers so
// repeated jobs don't churn the allocator — both grounded on the
// teacher's bounded-concurrency idiom in backend/raid3 (parallel
// per-stripe disk operations bounded to a fixed worker count).
package dio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/happyfish100/fastdfs-sub008/lib/pool"
	"golang.org/x/sync/semaphore"
)

// Op is the operation a Job performs.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpAppend
	OpDelete
	OpDiscard
)

// Job is one unit of disk work. Callback is invoked on the worker
// goroutine that ran the job, re-arming the connection per spec.md
// §4.E ("completion callback ... re-arms the connection").
type Job struct {
	Op       Op
	Path     string
	Offset   int64
	Data     []byte // payload for OpWrite/OpAppend, destination buffer for OpRead
	ThreadKey string // dio_thread_index pinning key, e.g. the connection id
	Callback func(n int, err error)
}

// Pool is one reader or writer pool for a base path: workers in
// workerCount goroutines, each reading jobs pinned to it off a FIFO
// channel, bounded overall by a semaphore sized to maxInFlight.
type Pool struct {
	workers    []chan Job
	sem        *semaphore.Weighted
	bufPool    *pool.Pool
	wg         sync.WaitGroup
	closeOnce  sync.Once
	closeCh    chan struct{}
}

// New creates a Pool with workerCount worker goroutines, a semaphore
// capping maxInFlight concurrent jobs, and a buffer pool handing out
// bufSize-byte reusable buffers.
func New(workerCount int, maxInFlight int64, bufSize int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	p := &Pool{
		workers: make([]chan Job, workerCount),
		sem:     semaphore.NewWeighted(maxInFlight),
		bufPool: pool.New(0, bufSize, workerCount*4, false),
		closeCh: make(chan struct{}),
	}
	for i := 0; i < workerCount; i++ {
		ch := make(chan Job, 64)
		p.workers[i] = ch
		p.wg.Add(1)
		go p.runWorker(ch)
	}
	return p
}

func (p *Pool) runWorker(ch chan Job) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-ch:
			if !ok {
				return
			}
			p.execute(job)
		case <-p.closeCh:
			return
		}
	}
}

// pinIndex maps a ThreadKey to a stable worker index via FNV-1a, so
// repeated calls with the same key always land on the same worker.
func (p *Pool) pinIndex(key string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % uint32(len(p.workers)))
}

// Submit enqueues job on its pinned worker. ctx bounds how long Submit
// waits to acquire the in-flight semaphore slot; it does not cancel the
// job once it starts running (spec.md §4.E: DIO_IN_FLIGHT is not
// subject to cancellation).
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("dio: acquire slot: %w", err)
	}
	idx := 0
	if job.ThreadKey != "" {
		idx = p.pinIndex(job.ThreadKey)
	}
	select {
	case p.workers[idx] <- job:
		return nil
	case <-p.closeCh:
		p.sem.Release(1)
		return fmt.Errorf("dio: pool closed")
	}
}

func (p *Pool) execute(job Job) {
	defer p.sem.Release(1)
	var n int
	var err error
	switch job.Op {
	case OpRead:
		n, err = readAt(job.Path, job.Offset, job.Data)
	case OpWrite, OpAppend:
		n, err = writeAt(job.Path, job.Offset, job.Data, job.Op == OpAppend)
	case OpDelete:
		err = os.Remove(job.Path)
	case OpDiscard:
		// no-op: used by tests/benchmarks to measure pure scheduling overhead
	}
	if err != nil && isFatalDiskErr(err) {
		err = fmt.Errorf("%w: %v", ferr.ErrDiskIO, err)
	}
	if job.Callback != nil {
		job.Callback(n, err)
	}
}

func readAt(path string, offset int64, dst []byte) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, translateOSErr(err)
	}
	defer f.Close()
	return f.ReadAt(dst, offset)
}

func writeAt(path string, offset int64, data []byte, appendMode bool) (int, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return 0, translateOSErr(err)
	}
	defer f.Close()
	if appendMode {
		return f.Write(data)
	}
	return f.WriteAt(data, offset)
}

func translateOSErr(err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ferr.ErrNotFound, err)
	}
	return err
}

func isFatalDiskErr(err error) bool {
	return err != nil && !errors.Is(err, ferr.ErrNotFound) && !os.IsNotExist(err)
}

// GetBuffer/PutBuffer expose the pool's reusable byte buffers to
// callers building Jobs, avoiding a fresh allocation per job.
func (p *Pool) GetBuffer() []byte  { return p.bufPool.Get() }
func (p *Pool) PutBuffer(b []byte) { p.bufPool.Put(b) }

// Close stops all workers, waiting for in-flight jobs to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closeCh)
		for _, ch := range p.workers {
			close(ch)
		}
	})
	p.wg.Wait()
	p.bufPool.Close()
}
