// Package trunk implements the trunk allocator (spec.md §4.B): packing
// writes no larger than slot_max_size into shared, pre-allocated trunk
// files instead of one file per upload. Grounded on the free-extent
// bookkeeping style of the teacher's backend/cache dirty-object map
// (_teacher_ref/cache), adapted from LRU eviction bookkeeping to
// size-ordered free-extent bookkeeping.
package trunk

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
)

// HeaderSize is the fixed header every packed payload is prefixed with
// inside a trunk file: magic(4) + size(8) + crc32(4) + timestamp(4) +
// alloc-size(4).
const HeaderSize = 24

const trunkMagic = 0x46445452 // "FDTR"

// Slot identifies a packed payload's location within a trunk file.
type Slot struct {
	PathIndex uint8
	TrunkID   uint32
	Offset    uint32
	AllocSize uint32
}

type extent struct {
	offset uint32
	length uint32
}

// extentHeap orders free extents by length, smallest first. Allocate
// still scans every extent of every trunk to pick the best fit.
type extentHeap []extent

func (h extentHeap) Len() int            { return len(h) }
func (h extentHeap) Less(i, j int) bool  { return h[i].length < h[j].length }
func (h extentHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *extentHeap) Push(x interface{}) { *h = append(*h, x.(extent)) }
func (h *extentHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// trunkState tracks one trunk file's free space.
type trunkState struct {
	id       uint32
	size     uint32
	free     extentHeap
	freeSize uint32
}

// Options configures slot sizing, mirroring spec.md §4.B and the
// min/alignment precedence documented as an Open Question in DESIGN.md.
type Options struct {
	SlotMinSize       uint32
	AlignSize         uint32
	TrunkFileSize     uint32
	MergeFreeSpace    bool
	DeleteUnusedTrunk bool
}

// DefaultOptions mirrors spec.md's stated defaults.
func DefaultOptions() Options {
	return Options{
		SlotMinSize:   256,
		AlignSize:     0,
		TrunkFileSize: 64 * 1024 * 1024,
	}
}

// minSlotSize applies the precedence rule from spec.md §9: when
// AlignSize > SlotMinSize, the effective minimum is bumped to AlignSize.
func (o Options) minSlotSize() uint32 {
	if o.AlignSize > o.SlotMinSize {
		return o.AlignSize
	}
	return o.SlotMinSize
}

func (o Options) align(size uint32) uint32 {
	min := o.minSlotSize()
	if size < min {
		size = min
	}
	if o.AlignSize > 1 {
		if rem := size % o.AlignSize; rem != 0 {
			size += o.AlignSize - rem
		}
	}
	return size
}

// BinlogAppender is the capability the allocator needs from the trunk
// binlog stream (spec.md §4.B "Durability"), kept as a small interface
// so tests can fake it per the tagged-variant/capability-interface
// design note in spec.md §9.
type BinlogAppender interface {
	AppendTrunkRecord(pathIndex uint8, op byte, trunkID, offset, length uint32) error
}

// Extent is the exported shape of one free region, used only for
// snapshotting a trunk's freemap to a durability cache.
type Extent struct {
	Offset uint32
	Length uint32
}

// FreemapSnapshot is what OnFreemapChange receives after every mutation,
// letting a caller persist it (e.g. via internal/durability) so a
// restart can warm-start the allocator instead of only rebuilding free
// space from a full trunk-binlog replay.
type FreemapSnapshot struct {
	TrunkID  uint32
	FreeSize uint32
	Extents  []Extent
}

// Allocator owns one path index's trunk free-space bookkeeping. Only
// the group's designated trunker actively allocates; non-trunkers hold
// an Allocator purely to answer local reads against slots they already
// own.
type Allocator struct {
	mu      sync.Mutex
	opts    Options
	pathIdx uint8
	trunks  map[uint32]*trunkState
	nextID  uint32
	binlog  BinlogAppender

	// OnFreemapChange, if set, is called with the affected trunk's
	// current freemap after every Allocate/Free/AddTrunkFile mutation.
	OnFreemapChange func(FreemapSnapshot)
}

// New creates an Allocator for one storage path.
func New(pathIdx uint8, opts Options, binlog BinlogAppender) *Allocator {
	return &Allocator{
		opts:    opts,
		pathIdx: pathIdx,
		trunks:  make(map[uint32]*trunkState),
		binlog:  binlog,
	}
}

func (a *Allocator) notifyFreemapLocked(ts *trunkState) {
	if a.OnFreemapChange == nil {
		return
	}
	extents := make([]Extent, len(ts.free))
	for i, e := range ts.free {
		extents[i] = Extent{Offset: e.offset, Length: e.length}
	}
	a.OnFreemapChange(FreemapSnapshot{TrunkID: ts.id, FreeSize: ts.freeSize, Extents: extents})
}

// AddTrunkFile registers a freshly created trunk file with its entire
// body as one free extent. Called both on first creation and while
// rebuilding the free map from trunk-binlog replay on restart.
func (a *Allocator) AddTrunkFile(id uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addTrunkFileLocked(id)
}

func (a *Allocator) addTrunkFileLocked(id uint32) {
	ts := &trunkState{id: id, size: a.opts.TrunkFileSize}
	e := extent{offset: uint32(HeaderSize), length: ts.size - uint32(HeaderSize)}
	heap.Push(&ts.free, e)
	ts.freeSize = e.length
	a.trunks[id] = ts
	if id >= a.nextID {
		a.nextID = id + 1
	}
	a.notifyFreemapLocked(ts)
}

// EncodeHeader renders the fixed per-slot header a trunk-packed payload
// is prefixed with: magic(4) + size(8) + crc32(4) + timestamp(4) +
// alloc-size(4). alloc-size lets Free recover a slot's original
// allocation size from disk alone, since the logical filename only
// carries the trunk id and offset (internal/fname.Fields).
func EncodeHeader(payloadSize uint64, crc32Val, timestamp, allocSize uint32) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], trunkMagic)
	binary.BigEndian.PutUint64(buf[4:12], payloadSize)
	binary.BigEndian.PutUint32(buf[12:16], crc32Val)
	binary.BigEndian.PutUint32(buf[16:20], timestamp)
	binary.BigEndian.PutUint32(buf[20:24], allocSize)
	return buf
}

// DecodeHeader parses a header previously written by EncodeHeader.
func DecodeHeader(buf []byte) (payloadSize uint64, crc32Val, timestamp, allocSize uint32, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, 0, 0, fmt.Errorf("trunk: short header (%d bytes)", len(buf))
	}
	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != trunkMagic {
		return 0, 0, 0, 0, fmt.Errorf("trunk: bad header magic %#x", magic)
	}
	payloadSize = binary.BigEndian.Uint64(buf[4:12])
	crc32Val = binary.BigEndian.Uint32(buf[12:16])
	timestamp = binary.BigEndian.Uint32(buf[16:20])
	allocSize = binary.BigEndian.Uint32(buf[20:24])
	return payloadSize, crc32Val, timestamp, allocSize, nil
}

// NextTrunkFileID reports the id a freshly created trunk file should
// use, for callers that need to create one after Allocate reports no
// room in any existing trunk file.
func (a *Allocator) NextTrunkFileID() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextID
}

// CurrentTrunkFileID reports the highest trunk id this allocator knows
// about, used by the trunker-handover protocol (spec.md §4.B "Role").
func (a *Allocator) CurrentTrunkFileID() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nextID == 0 {
		return 0
	}
	return a.nextID - 1
}

// TotalFreeBytes sums free space across every trunk file this allocator
// knows about, used to report per-path trunk utilization alongside the
// regular statvfs-based disk usage (spec.md §4.G).
func (a *Allocator) TotalFreeBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uint64
	for _, ts := range a.trunks {
		total += uint64(ts.freeSize)
	}
	return total
}

// ResumeFrom seeds the next-allocated trunk id after a trunker handover
// (spec.md S6: the new trunker "allocates new trunk id 43" following a
// reported current id of 42).
func (a *Allocator) ResumeFrom(lastID uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if lastID+1 > a.nextID {
		a.nextID = lastID + 1
	}
}

// Allocate finds a best-fit free extent across all known trunk files
// for size bytes of payload, splitting the extent and writing the
// header/occupied-region accounting. Returns ferr.ErrNoSpace if no
// existing trunk file has room (callers are expected to then create a
// new trunk file and retry via AddTrunkFile).
func (a *Allocator) Allocate(size uint32) (Slot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := a.opts.align(size)
	var best *trunkState
	bestIdx := -1
	bestLen := uint32(0)

	for _, ts := range a.trunks {
		if ts.freeSize < want || len(ts.free) == 0 {
			continue
		}
		// best-fit within this trunk: smallest extent >= want
		for i, e := range ts.free {
			if e.length >= want && (best == nil || e.length < bestLen) {
				best = ts
				bestIdx = i
				bestLen = e.length
			}
		}
	}
	if best == nil {
		return Slot{}, ferr.ErrNoSpace
	}

	e := best.free[bestIdx]
	best.free = append(best.free[:bestIdx], best.free[bestIdx+1:]...)
	heap.Init(&best.free)
	best.freeSize -= e.length

	slot := Slot{PathIndex: a.pathIdx, TrunkID: best.id, Offset: e.offset, AllocSize: want}

	if remain := e.length - want; remain > 0 {
		rem := extent{offset: e.offset + want, length: remain}
		heap.Push(&best.free, rem)
		best.freeSize += remain
	}

	if a.binlog != nil {
		if err := a.binlog.AppendTrunkRecord(a.pathIdx, 'A', best.id, e.offset, want); err != nil {
			return Slot{}, fmt.Errorf("trunk: append alloc record: %w", err)
		}
	}
	a.notifyFreemapLocked(best)
	return slot, nil
}

// Free returns slot's space to its trunk's free map, optionally merging
// with adjacent free extents per MergeFreeSpace.
func (a *Allocator) Free(slot Slot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts, ok := a.trunks[slot.TrunkID]
	if !ok {
		return ferr.ErrTrunkNotFound
	}

	e := extent{offset: slot.Offset, length: slot.AllocSize}
	if a.opts.MergeFreeSpace {
		e = mergeAdjacent(&ts.free, e)
	}
	heap.Push(&ts.free, e)
	ts.freeSize += slot.AllocSize

	if a.opts.DeleteUnusedTrunk && ts.freeSize == ts.size-uint32(HeaderSize) {
		delete(a.trunks, slot.TrunkID)
	}

	if a.binlog != nil {
		if err := a.binlog.AppendTrunkRecord(a.pathIdx, 'F', slot.TrunkID, slot.Offset, slot.AllocSize); err != nil {
			return fmt.Errorf("trunk: append free record: %w", err)
		}
	}
	if _, stillPresent := a.trunks[slot.TrunkID]; stillPresent {
		a.notifyFreemapLocked(ts)
	}
	return nil
}

// mergeAdjacent scans h for an extent directly touching e and, if
// found, removes it and returns the coalesced extent (repeating once on
// each side is sufficient since h never holds two touching extents
// simultaneously by this same invariant).
func mergeAdjacent(h *extentHeap, e extent) extent {
	for {
		merged := false
		for i, o := range *h {
			if o.offset+o.length == e.offset {
				e = extent{offset: o.offset, length: o.length + e.length}
				*h = append((*h)[:i], (*h)[i+1:]...)
				merged = true
				break
			}
			if e.offset+e.length == o.offset {
				e = extent{offset: e.offset, length: e.length + o.length}
				*h = append((*h)[:i], (*h)[i+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			heap.Init(h)
			return e
		}
	}
}

// FreeMBEquivalent returns the trunk's current free space in bytes and
// whether the trunk is known, for testing invariant 6 (spec.md §8):
// tests doing Allocate-then-Free compare it against the value read
// before any allocation.
func (a *Allocator) FreeMBEquivalent(id uint32) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ts, ok := a.trunks[id]
	if !ok {
		return 0, false
	}
	return ts.freeSize, true
}
