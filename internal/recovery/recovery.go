package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/binlog"
	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/happyfish100/fastdfs-sub008/internal/fname"
)

// TrackerClient is the capability Recover needs from the tracker for
// steps 1-2 of spec.md §4.H's protocol.
type TrackerClient interface {
	ActivePeer(ctx context.Context) (peerID string, err error)
	FetchPathBinlog(ctx context.Context, peerID string, pathIndex uint8, dest string) error
	ReportActive(ctx context.Context) error
}

// SourcePeer is the capability Recover needs to pull individual files
// from the chosen source peer in step 4.
type SourcePeer interface {
	DownloadFile(ctx context.Context, name string) (data []byte, mtime time.Time, err error)
}

// LocalWriter places recovered file bytes at their decoded local path
// and sets mtime.
type LocalWriter interface {
	WriteFileWithMtime(ctx context.Context, localPath string, data []byte, mtime time.Time) error
}

// Progress persists recovery progress every markEvery records
// (spec.md: "Persist progress in .recovery.mark every 1000 records").
type Progress struct {
	path      string
	markEvery int
	count     int
}

// NewProgress creates a throttled progress persister at path.
func NewProgress(path string, markEvery int) *Progress {
	if markEvery <= 0 {
		markEvery = 1000
	}
	return &Progress{path: path, markEvery: markEvery}
}

func (p *Progress) recordDone(offset int64) error {
	p.count++
	if p.count < p.markEvery {
		return nil
	}
	p.count = 0
	return os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", offset)), 0o644)
}

// Recover runs the six-step protocol for one local store path.
//
//  1. ask tracker for an ACTIVE peer
//  2. fetch that peer's binlog slice filtered to pathIndex into
//     recoveryBinlogPath
//  3. dedupe trunk references while replaying (handled inline via
//     TrunkSet, not persisted; the set triggers no separate trunk fetch,
//     so a trunk-packed file is downloaded by name like any other)
//  4. replay the recovery binlog, downloading each referenced file
//  5. persist progress every 1000 records
//  6. report ACTIVE and clean up
func Recover(ctx context.Context, pathIndex uint8, tracker TrackerClient, dialSource func(peerID string) (SourcePeer, error), localPath func(name string) (string, error), writer LocalWriter, recoveryBinlogPath, markPath string) error {
	peerID, err := tracker.ActivePeer(ctx)
	if err != nil {
		return fmt.Errorf("recovery: ask tracker for active peer: %w", err)
	}

	if err := tracker.FetchPathBinlog(ctx, peerID, pathIndex, recoveryBinlogPath); err != nil {
		return fmt.Errorf("recovery: fetch path binlog: %w", err)
	}

	src, err := dialSource(peerID)
	if err != nil {
		return fmt.Errorf("recovery: dial source peer %s: %w", peerID, err)
	}

	trunks := NewTrunkSet()
	progress := NewProgress(markPath, 1000)

	r, err := binlog.OpenReader(recoveryBinlogPath, 0, 0)
	if err != nil {
		return fmt.Errorf("recovery: open recovery binlog: %w", err)
	}
	defer r.Close()

	skipped := 0
	for {
		rec, err := r.ReadNext(0)
		if err != nil {
			break // ENOENT/EOF: slice fully replayed
		}

		if key, ok := trunkKeyOf(rec); ok {
			trunks.Add(key) // dedup: records the trunk once, repeats are no-ops
		}

		local, err := localPath(rec.Filename)
		if err != nil {
			return err
		}
		data, mtime, err := src.DownloadFile(ctx, rec.Filename)
		if err != nil {
			if isNotFound(err) {
				skipped++
				_, offset := r.Position()
				if perr := progress.recordDone(offset); perr != nil {
					return perr
				}
				continue
			}
			return err
		}
		if err := writer.WriteFileWithMtime(ctx, local, data, mtime); err != nil {
			return err
		}
		_, offset := r.Position()
		if err := progress.recordDone(offset); err != nil {
			return err
		}
	}

	if err := tracker.ReportActive(ctx); err != nil {
		return fmt.Errorf("recovery: report active: %w", err)
	}
	_ = os.Remove(markPath)
	_ = os.Remove(recoveryBinlogPath)
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ferr.ErrNotFound)
}

// trunkKeyOf extracts a trunk reference, keyed by the name's "M<pp>"
// store-path prefix and trunk id, when the record's filename encodes a
// trunk-packed file. Standalone-file records (no trunk encoding) return
// ok=false.
func trunkKeyOf(rec binlog.Record) (TrunkKey, bool) {
	f, err := fname.Decode(rec.Filename)
	if err != nil || !f.IsTrunk {
		return TrunkKey{}, false
	}
	return TrunkKey{TrunkPath: rec.Filename[:strings.IndexByte(rec.Filename, '/')], TrunkID: f.TrunkID}, true
}
