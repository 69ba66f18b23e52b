// Package replication implements the per-peer replication worker
// (spec.md §4.F): bootstrap, steady-state tailing loop, conflict-free
// batching, and per-op send semantics. Batch dispatch is bounded by
// golang.org/x/sync/semaphore + errgroup, and reconnects back off
// through lib/pacer — both grounded on the teacher's own bounded
// fan-out idiom in backend/union (parallel upstream dispatch capped by
// a semaphore) and lib/pacer's reconnect backoff usage across rclone's
// backends.
package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/binlog"
	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/happyfish100/fastdfs-sub008/lib/pacer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// PeerClient is the capability a Worker needs to push one operation to
// its peer; a real implementation dials the peer's storage port and
// speaks the SYNC_* commands from spec.md §6.
type PeerClient interface {
	ReportServerID(ctx context.Context, id string) error
	SendCreate(ctx context.Context, rec binlog.Record, data []byte) error
	SendUpdate(ctx context.Context, rec binlog.Record, data []byte) error
	SendAppendOrModify(ctx context.Context, rec binlog.Record, offset int64, data []byte) error
	SendTruncate(ctx context.Context, rec binlog.Record, oldSize, newSize int64) error
	SendDelete(ctx context.Context, rec binlog.Record) error
	SendRename(ctx context.Context, rec binlog.Record) error
	SendLink(ctx context.Context, rec binlog.Record) error
	Close() error
}

// PeerDialer creates a fresh PeerClient connection; called on initial
// connect and every reconnect.
type PeerDialer func(ctx context.Context) (PeerClient, error)

// BinlogReader is the subset of *binlog.Reader a Worker needs, kept as
// an interface so tests can fake the tailing sequence.
type BinlogReader interface {
	ReadNext(currentWriteIndex int) (binlog.Record, error)
	Position() (int, int64)
}

// LocalFile is the capability needed to serve bytes for an outgoing
// CREATE/APPEND/MODIFY send.
type LocalFile interface {
	ReadFile(ctx context.Context, name string, offset, length int64) ([]byte, error)
	Size(ctx context.Context, name string) (int64, error)
}

// Bootstrap is the answer the tracker gives on first start for a peer
// (spec.md §4.F "Bootstrap").
type Bootstrap struct {
	SyncSrcID     string
	UntilTS       int64
	WeAreTheSrc   bool
}

// Worker is one long-lived replication worker for a single peer.
type Worker struct {
	PeerID        string
	Dial          PeerDialer
	Reader        BinlogReader
	Files         LocalFile
	Checkpoint    *binlog.CheckpointWriter
	SyncMaxThreads int
	HeartbeatInterval time.Duration
	CurrentWriteIndex func() int

	cp     binlog.Checkpoint
	pacer  *pacer.Pacer
}

// NewWorker creates a Worker seeded with cp (the peer's persisted
// checkpoint, already loaded by the caller) and bootstrap info.
func NewWorker(peerID string, boot Bootstrap, cp binlog.Checkpoint, heartbeat time.Duration) *Worker {
	if boot.WeAreTheSrc {
		cp.NeedSyncOld = true
	}
	cp.UntilTimestamp = boot.UntilTS
	return &Worker{
		PeerID:            peerID,
		HeartbeatInterval: heartbeat,
		cp:                cp,
		pacer: pacer.New(
			pacer.CalculatorOption(pacer.NewDefault(pacer.MinSleep(heartbeat), pacer.MaxSleep(10*heartbeat))),
		),
	}
}

// shouldSync implements spec.md §4.F step 5's decision table.
func shouldSync(op binlog.Op, cp binlog.Checkpoint, ts int64) bool {
	if !op.IsReplica() {
		return true // all SOURCE_* records sync
	}
	switch op {
	case binlog.OpReplicaAppend, binlog.OpReplicaModify, binlog.OpReplicaTruncate:
		return false // peer already applied these through its own source path
	default: // Create/Delete/Update/Link/Rename
		return cp.NeedSyncOld && !cp.SyncOldDone && ts <= cp.UntilTimestamp
	}
}

// conflictFreeBatch selects records from recs in order (up to max
// records), skipping any record that would make two selected records
// touch the same Filename or Aux (src_filename for
// rename/link records) — spec.md §4.F step 6 as a pure, independently
// unit-testable function.
func conflictFreeBatch(recs []binlog.Record, max int) []binlog.Record {
	if max <= 0 {
		max = 1
	}
	touched := make(map[string]bool)
	out := make([]binlog.Record, 0, max)
	for _, r := range recs {
		if len(out) >= max {
			break
		}
		if touched[r.Filename] || (r.Aux != "" && touched[r.Aux]) {
			continue
		}
		out = append(out, r)
		touched[r.Filename] = true
		if r.Aux != "" {
			touched[r.Aux] = true
		}
	}
	return out
}

// dispatchBatch sends every record in batch concurrently through
// client, bounded by a semaphore sized to SyncMaxThreads, and returns
// the first error encountered (if any) alongside the index of the
// first failing record within batch, so the caller can rewind the
// reader there per spec.md step 6 ("rewind the reader to the earliest
// failing record's offset").
func (w *Worker) dispatchBatch(ctx context.Context, client PeerClient, batch []binlog.Record) (failedAt int, err error) {
	sem := semaphore.NewWeighted(int64(w.SyncMaxThreads))
	g, gctx := errgroup.WithContext(ctx)
	failedAt = -1

	for i, rec := range batch {
		i, rec := i, rec
		if err := sem.Acquire(gctx, 1); err != nil {
			return i, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			sendErr := w.sendOne(gctx, client, rec)
			if sendErr != nil && (failedAt == -1 || i < failedAt) {
				failedAt = i
			}
			return sendErr
		})
	}
	err = g.Wait()
	return failedAt, err
}

func (w *Worker) sendOne(ctx context.Context, client PeerClient, rec binlog.Record) error {
	switch rec.Op {
	case binlog.OpSourceCreate, binlog.OpReplicaCreate:
		data, rerr := w.Files.ReadFile(ctx, rec.Filename, 0, -1)
		if rerr != nil {
			return rerr
		}
		err := client.SendCreate(ctx, rec, data)
		return w.handleCreateResult(ctx, client, rec, data, err)
	case binlog.OpSourceUpdate, binlog.OpReplicaUpdate:
		size, serr := w.Files.Size(ctx, rec.Filename)
		if serr != nil {
			return serr
		}
		data, rerr := w.Files.ReadFile(ctx, rec.Filename, 0, size)
		if rerr != nil {
			return rerr
		}
		return client.SendUpdate(ctx, rec, data)
	case binlog.OpSourceAppend, binlog.OpSourceModify, binlog.OpReplicaAppend, binlog.OpReplicaModify:
		size, serr := w.Files.Size(ctx, rec.Filename)
		if serr != nil {
			return serr
		}
		data, rerr := w.Files.ReadFile(ctx, rec.Filename, 0, size)
		if rerr != nil {
			return rerr
		}
		err := client.SendAppendOrModify(ctx, rec, 0, data)
		if errors.Is(err, ferr.ErrNotFound) {
			// spec.md §4.F: ENOENT on receiver falls back to full UPDATE
			return w.fallbackUpdate(ctx, client, rec)
		}
		return err
	case binlog.OpSourceTruncate, binlog.OpReplicaTruncate:
		return client.SendTruncate(ctx, rec, 0, 0)
	case binlog.OpSourceDelete, binlog.OpReplicaDelete:
		if err := client.SendDelete(ctx, rec); err != nil && !errors.Is(err, ferr.ErrNotFound) {
			return err
		}
		return nil
	case binlog.OpSourceRename, binlog.OpReplicaRename:
		err := client.SendRename(ctx, rec)
		if errors.Is(err, ferr.ErrNotFound) {
			// spec.md §4.F: receiver ENOENT on rename falls back to CREATE
			return w.fallbackCreateFromRename(ctx, client, rec)
		}
		return err
	case binlog.OpSourceLink, binlog.OpReplicaLink:
		return client.SendLink(ctx, rec)
	default:
		return fmt.Errorf("replication: unknown op %q", rec.Op)
	}
}

func (w *Worker) handleCreateResult(ctx context.Context, client PeerClient, rec binlog.Record, data []byte, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, ferr.ErrAlreadyExists) {
		return err
	}
	// Receiver already has a file at this name (spec.md §4.F); retry as
	// UPDATE, which is idempotent if the content already matches.
	return client.SendUpdate(ctx, rec, data)
}

func (w *Worker) fallbackUpdate(ctx context.Context, client PeerClient, rec binlog.Record) error {
	size, serr := w.Files.Size(ctx, rec.Filename)
	if serr != nil {
		return serr
	}
	data, rerr := w.Files.ReadFile(ctx, rec.Filename, 0, size)
	if rerr != nil {
		return rerr
	}
	return client.SendUpdate(ctx, rec, data)
}

func (w *Worker) fallbackCreateFromRename(ctx context.Context, client PeerClient, rec binlog.Record) error {
	data, rerr := w.Files.ReadFile(ctx, rec.Filename, 0, -1)
	if rerr != nil {
		return rerr
	}
	return client.SendCreate(ctx, rec, data)
}
