package fname

import (
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
)

// StorePath is one of the up to 256 local base directories a node stores
// payload under (spec.md §3 "Storage Path").
type StorePath struct {
	Index uint8
	Root  string // local filesystem root, e.g. /data/fastdfs/store0
}

// DataDir returns the path's data/ subtree root.
func (p StorePath) DataDir() string {
	return filepath.Join(p.Root, "data")
}

// PhysicalPath resolves f to an absolute on-disk path under p. Callers
// must have already checked f.PathIndex == p.Index. A trunk-packed
// file's physical path is the shared trunk file itself (spec.md §4.B) —
// many logical names resolve to the same path, distinguished by
// f.TrunkOffset within it, not by separate per-upload files.
func PhysicalPath(p StorePath, f Fields) (string, error) {
	if f.IsTrunk {
		return TrunkFilePath(p, f.TrunkID), nil
	}
	name, err := OnDiskName(f)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.DataDir(),
		hexByte(f.DirHigh), hexByte(f.DirLow), name), nil
}

// TrunkFilePath returns the shared on-disk path for one trunk file
// within store path p.
func TrunkFilePath(p StorePath, trunkID uint32) string {
	return filepath.Join(p.Root, "data", "trunk", fmt.Sprintf("%06d", trunkID))
}

// MetaPath returns the SET_METADATA/GET_METADATA sidecar path for f,
// keyed off its always-unique encoded core rather than its physical
// data path so metadata never collides for two logical files packed
// into the same trunk file.
func MetaPath(p StorePath, f Fields) (string, error) {
	name, err := OnDiskName(f)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.Root, "meta", hexByte(f.DirHigh), hexByte(f.DirLow), name+"-m"), nil
}

func hexByte(b uint8) string {
	const hex = "0123456789ABCDEF"
	return string([]byte{hex[b>>4], hex[b&0xF]})
}

// WriteMode selects the pick_write_path strategy (spec.md §4.A).
type WriteMode int

const (
	// RoundRobin advances (high, low) counters and rotates after N
	// writes per path.
	RoundRobin WriteMode = iota
	// LoadBalance selects the path with the most free MB above the
	// reserved threshold, re-evaluated on each stat report.
	LoadBalance
)

// PathStats is the free/total megabyte snapshot the Tracker Reporter
// refreshes (spec.md §4.G disk-usage report).
type PathStats struct {
	FreeMB  int64
	TotalMB int64
}

// Picker implements pick_write_path over a fixed set of store paths.
type Picker struct {
	mode            WriteMode
	paths           []StorePath
	writesPerRound  int // round-robin batch size before advancing
	reservedMB      int64
	rrCounter       atomic.Uint64 // monotonically increasing write count
	statsFn         func(idx uint8) (PathStats, bool)
}

// NewPicker builds a Picker. statsFn supplies the latest known disk stats
// for a path index; it is called fresh on every LoadBalance pick so the
// decision always reflects the most recent stat report (spec.md: "select
// path with most free MB above reserved threshold, re-evaluated on each
// stat report").
func NewPicker(mode WriteMode, paths []StorePath, writesPerRound int, reservedMB int64, statsFn func(idx uint8) (PathStats, bool)) *Picker {
	if writesPerRound <= 0 {
		writesPerRound = 1
	}
	return &Picker{
		mode:           mode,
		paths:          paths,
		writesPerRound: writesPerRound,
		reservedMB:     reservedMB,
		statsFn:        statsFn,
	}
}

// Pick returns the store path index to use for the next upload.
func (p *Picker) Pick() (uint8, error) {
	if len(p.paths) == 0 {
		return 0, ferr.ErrNoSpace
	}
	switch p.mode {
	case LoadBalance:
		return p.pickLoadBalance()
	default:
		return p.pickRoundRobin(), nil
	}
}

func (p *Picker) pickRoundRobin() uint8 {
	n := p.rrCounter.Add(1) - 1
	round := n / uint64(p.writesPerRound)
	idx := int(round) % len(p.paths)
	return p.paths[idx].Index
}

// PickWritePath returns the full StorePath chosen for the next upload.
func (p *Picker) PickWritePath() (StorePath, error) {
	idx, err := p.Pick()
	if err != nil {
		return StorePath{}, err
	}
	return p.StorePathByIndex(idx)
}

// StorePathByIndex resolves a path index (e.g. decoded from a logical
// filename) back to its StorePath.
func (p *Picker) StorePathByIndex(idx uint8) (StorePath, error) {
	for _, sp := range p.paths {
		if sp.Index == idx {
			return sp, nil
		}
	}
	return StorePath{}, ferr.ErrUnknownPath
}

// Physical resolves f to its on-disk path under sp.
func (p *Picker) Physical(sp StorePath, f Fields) (string, error) {
	return PhysicalPath(sp, f)
}

// MetaPath resolves f's metadata sidecar path under sp.
func (p *Picker) MetaPath(sp StorePath, f Fields) (string, error) {
	return MetaPath(sp, f)
}

func (p *Picker) pickLoadBalance() (uint8, error) {
	// avg_reserved: the average of all paths' reserved overrun is folded
	// into a single threshold per spec.md "free_mb > reserved +
	// avg_reserved"; we track it as a configured constant here since
	// per-path reserved values are uniform in this implementation.
	var best StorePath
	var bestFree int64 = -1
	found := false
	for _, sp := range p.paths {
		stats, ok := p.statsFn(sp.Index)
		if !ok {
			continue
		}
		if stats.FreeMB <= p.reservedMB {
			continue
		}
		if stats.FreeMB > bestFree {
			bestFree = stats.FreeMB
			best = sp
			found = true
		}
	}
	if !found {
		return 0, ferr.ErrNoSpace
	}
	return best.Index, nil
}
