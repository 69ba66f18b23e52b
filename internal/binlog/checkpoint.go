package binlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

// Checkpoint is a peer's durable reader state (spec.md §3 "Reader
// Checkpoint").
type Checkpoint struct {
	PeerID         string
	BinlogIndex    int
	BinlogOffset   int64
	NeedSyncOld    bool
	SyncOldDone    bool
	UntilTimestamp int64
	ScanRowCount   int64
	SyncRowCount   int64
}

func markPath(dir, peerID string) string {
	return filepath.Join(dir, peerID+".mark")
}

// LoadCheckpoint reads a peer's .mark file, returning a zero-value
// Checkpoint (not an error) if the file does not yet exist.
func LoadCheckpoint(dir, peerID string) (Checkpoint, error) {
	cp := Checkpoint{PeerID: peerID}
	data, err := os.ReadFile(markPath(dir, peerID))
	if os.IsNotExist(err) {
		return cp, nil
	}
	if err != nil {
		return cp, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k, v := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch k {
		case "binlog_index":
			cp.BinlogIndex, _ = strconv.Atoi(v)
		case "binlog_offset":
			cp.BinlogOffset, _ = strconv.ParseInt(v, 10, 64)
		case "need_sync_old":
			cp.NeedSyncOld = v == "1"
		case "sync_old_done":
			cp.SyncOldDone = v == "1"
		case "until_timestamp":
			cp.UntilTimestamp, _ = strconv.ParseInt(v, 10, 64)
		case "scan_row_count":
			cp.ScanRowCount, _ = strconv.ParseInt(v, 10, 64)
		case "sync_row_count":
			cp.SyncRowCount, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	return cp, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Save serializes cp atomically (write-temp, rename) to its .mark file.
func (cp Checkpoint) Save(dir string) error {
	body := fmt.Sprintf(
		"binlog_index=%d\nbinlog_offset=%d\nneed_sync_old=%d\nsync_old_done=%d\nuntil_timestamp=%d\nscan_row_count=%d\nsync_row_count=%d\n",
		cp.BinlogIndex, cp.BinlogOffset, boolInt(cp.NeedSyncOld), boolInt(cp.SyncOldDone),
		cp.UntilTimestamp, cp.ScanRowCount, cp.SyncRowCount,
	)
	return atomicWrite(markPath(dir, cp.PeerID), []byte(body))
}

// CheckpointWriter throttles persistence of a reader's checkpoint:
// every writeMarkFileFreq synced records, or immediately whenever the
// reader hits ENOENT (spec.md §4.C "Checkpointing").
type CheckpointWriter struct {
	dir             string
	writeMarkFileFreq int64
	sinceLastWrite  atomic.Int64
}

// NewCheckpointWriter creates a throttled checkpoint persister.
func NewCheckpointWriter(dir string, writeMarkFileFreq int64) *CheckpointWriter {
	if writeMarkFileFreq <= 0 {
		writeMarkFileFreq = 1
	}
	return &CheckpointWriter{dir: dir, writeMarkFileFreq: writeMarkFileFreq}
}

// RecordsSynced advances the throttle counter by n and, once the
// threshold is crossed (or force is set, e.g. on ENOENT), persists cp.
func (w *CheckpointWriter) RecordsSynced(cp Checkpoint, n int64, force bool) error {
	total := w.sinceLastWrite.Add(n)
	if !force && total < w.writeMarkFileFreq {
		return nil
	}
	w.sinceLastWrite.Store(0)
	return cp.Save(w.dir)
}
