package replication

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/binlog"
)

// Run drives the steady-state loop of spec.md §4.F: connect, report id,
// tail the binlog, batch conflict-free records, dispatch, advance the
// checkpoint, retry with backoff on failure. Exits when ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context, log *slog.Logger) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		client, err := w.connectWithBackoff(ctx, log)
		if err != nil {
			return err // ctx cancelled during backoff
		}
		if err := w.steadyState(ctx, client, log); err != nil {
			if log != nil {
				log.Warn("replication worker disconnected", "peer", w.PeerID, "err", err)
			}
		}
		client.Close()
	}
}

func (w *Worker) connectWithBackoff(ctx context.Context, log *slog.Logger) (PeerClient, error) {
	var client PeerClient
	err := w.pacer.Call(func() (bool, error) {
		c, derr := w.Dial(ctx)
		if derr != nil {
			return true, derr
		}
		if err := c.ReportServerID(ctx, w.PeerID); err != nil {
			return true, err
		}
		client = c
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// steadyState runs the read→batch→dispatch→checkpoint cycle until the
// peer connection fails, at which point it returns the error so Run can
// reconnect.
func (w *Worker) steadyState(ctx context.Context, client PeerClient, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := w.collectBatch()
		if err != nil && !errors.Is(err, binlog.ErrNoData) {
			return err
		}
		if len(batch) == 0 {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		failedAt, derr := w.dispatchBatch(ctx, client, batch)
		if derr != nil {
			// Rewind: nothing to do locally since Reader's position only
			// ever advances past records we've confirmed; reporting the
			// failing index lets the caller log which record needs a retry
			// on the next pass through collectBatch.
			_ = failedAt
			return derr
		}

		idx, offset := w.Reader.Position()
		w.cp.BinlogIndex = idx
		w.cp.BinlogOffset = offset
		if err := w.Checkpoint.RecordsSynced(w.cp, int64(len(batch)), false); err != nil {
			return err
		}
	}
}

// collectBatch reads up to SyncMaxThreads should-sync records from the
// reader and returns the conflict-free subset conflictFreeBatch selects
// from them.
func (w *Worker) collectBatch() ([]binlog.Record, error) {
	max := w.SyncMaxThreads
	if max <= 0 {
		max = 1
	}
	var candidates []binlog.Record
	writeIdx := 0
	if w.CurrentWriteIndex != nil {
		writeIdx = w.CurrentWriteIndex()
	}
	for len(candidates) < max {
		rec, err := w.Reader.ReadNext(writeIdx)
		if err != nil {
			if errors.Is(err, binlog.ErrNoData) && len(candidates) > 0 {
				break
			}
			return candidates, err
		}
		if shouldSync(rec.Op, w.cp, rec.Timestamp) {
			candidates = append(candidates, rec)
		}
	}
	return conflictFreeBatch(candidates, max), nil
}
