// Package fsm implements the per-connection file-service protocol state
// machine (spec.md §4.D): 10-byte header framing, one in-flight command
// per connection, and the command dispatch table. Grounded on the
// teacher's goroutine-per-request connection handling style. TaskTable
// offers an arena+index table for the cyclic connection/DIO-job/callback
// reference spec.md §9 calls out; the DiskFileStore's DIO jobs do not
// use it, each one reporting completion through its own callback closure.
package fsm

import "sync"

// taskEntry is one arena slot; its generation distinguishes a stale
// completion callback (referring to a task slot that has since been
// reused) from a live one.
type taskEntry struct {
	generation uint64
	conn       *Conn
	inUse      bool
}

// TaskTable is the arena+index structure spec.md §9 calls for: tasks are
// referenced by a (index, generation) pair instead of a raw pointer, so
// a DIO completion callback that races a connection close can detect
// staleness instead of touching freed state.
type TaskTable struct {
	mu      sync.Mutex
	entries []taskEntry
	free    []int
	gen     uint64
}

// NewTaskTable creates an empty task table.
func NewTaskTable() *TaskTable {
	return &TaskTable{}
}

// TaskHandle is an opaque reference returned by Acquire.
type TaskHandle struct {
	Index      int
	Generation uint64
}

// Acquire reserves a slot for conn and returns a handle identifying it.
func (t *TaskTable) Acquire(conn *Conn) TaskHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	gen := t.gen
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.entries[idx] = taskEntry{generation: gen, conn: conn, inUse: true}
		return TaskHandle{Index: idx, Generation: gen}
	}
	t.entries = append(t.entries, taskEntry{generation: gen, conn: conn, inUse: true})
	return TaskHandle{Index: len(t.entries) - 1, Generation: gen}
}

// Lookup resolves h back to its Conn, returning ok=false if the slot was
// since released (i.e. the completion is stale).
func (t *TaskTable) Lookup(h TaskHandle) (*Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h.Index < 0 || h.Index >= len(t.entries) {
		return nil, false
	}
	e := t.entries[h.Index]
	if !e.inUse || e.generation != h.Generation {
		return nil, false
	}
	return e.conn, true
}

// Release frees h's slot for reuse, invalidating any outstanding handle
// with the same index (their generation will no longer match).
func (t *TaskTable) Release(h TaskHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h.Index < 0 || h.Index >= len(t.entries) {
		return
	}
	if t.entries[h.Index].generation != h.Generation {
		return
	}
	t.entries[h.Index] = taskEntry{}
	t.free = append(t.free, h.Index)
}
