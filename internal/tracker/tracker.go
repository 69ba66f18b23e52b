// Package tracker implements the Tracker Reporter (spec.md §4.G): one
// worker per tracker server driving join/heartbeat/disk-usage/sync-
// timestamp reporting, and the peer-table merge rules triggered by
// tracker responses. Disk usage comes from
// github.com/shirou/gopsutil/v3/disk, and each tracker connection is
// guarded by lib/pacer for reconnect backoff, shared with
// internal/replication's own reconnect logic.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/happyfish100/fastdfs-sub008/lib/pacer"
	"github.com/shirou/gopsutil/v3/disk"
)

// PeerStatus mirrors spec.md §3's status lattice.
type PeerStatus int

const (
	StatusInit PeerStatus = iota
	StatusWaitSync
	StatusSyncing
	StatusOffline
	StatusOnline
	StatusActive
	StatusDeleted
	StatusIPChanged
	StatusRecovery
)

// PeerInfo is one row of the Peer Table (spec.md §3).
type PeerInfo struct {
	ID                   string
	IP                   string
	Status               PeerStatus
	LastSyncSrcTimestamp int64
}

// ResponseFlags decodes the one-byte flag set a tracker response
// carries (spec.md §4.G "Responses").
type ResponseFlags struct {
	ChangeTrackerLeader bool
	ChangeTrunkServer   bool
	ChangeGroupServer   bool
}

// JoinAnswer is what the tracker tells us on STORAGE_JOIN.
type JoinAnswer struct {
	SyncSrcID     string
	UntilTS       int64
	Status        PeerStatus
}

// Client is the capability a Reporter needs to talk to one tracker
// server; a real implementation speaks the opaque STORAGE_* RPCs of
// spec.md §6 over the tracker's TCP port.
type Client interface {
	Join(ctx context.Context, group string, storePathCount int) (JoinAnswer, error)
	HeartBeat(ctx context.Context, stats []PathUsage) (ResponseFlags, []PeerInfo, error)
	ReportDiskUsage(ctx context.Context, stats []PathUsage) error
	ReportSyncTimestamps(ctx context.Context, peers []PeerInfo) error
	Close() error
}

// PathUsage is one base path's statvfs snapshot.
type PathUsage struct {
	PathIndex uint8
	FreeMB    int64
	TotalMB   int64
}

// DiskUsage calls gopsutil's disk.Usage for every mount point in paths,
// implementing spec.md §4.G's "statvfs each base path".
func DiskUsage(paths map[uint8]string) ([]PathUsage, error) {
	out := make([]PathUsage, 0, len(paths))
	for idx, p := range paths {
		u, err := disk.Usage(p)
		if err != nil {
			return nil, err
		}
		out = append(out, PathUsage{
			PathIndex: idx,
			FreeMB:    int64(u.Free / (1024 * 1024)),
			TotalMB:   int64(u.Total / (1024 * 1024)),
		})
	}
	return out, nil
}

// PeerTable is the node's mutable view of the group's peers, merged
// under a single mutex per spec.md §5 ("Peer table: mutex around
// merge; lookups inside a replication worker use a stable snapshot").
type PeerTable struct {
	mu       sync.Mutex
	peers    map[string]PeerInfo
	self     string
	onSpawn  func(PeerInfo)
	onRetire func(string)
}

// NewPeerTable creates a PeerTable for selfID. onSpawn/onRetire are
// called (outside the lock) when a peer transitions to/from active
// replication, letting the caller start or stop a replication.Worker.
func NewPeerTable(selfID string, onSpawn func(PeerInfo), onRetire func(string)) *PeerTable {
	return &PeerTable{
		peers:    make(map[string]PeerInfo),
		self:     selfID,
		onSpawn:  onSpawn,
		onRetire: onRetire,
	}
}

// MergeDiff applies spec.md §4.G's four peer-table merge rules for one
// incoming peer entry (ours is our own last-known status for that
// peer, if any). Returns (changed, needReplicaChg, needRejoin).
func (t *PeerTable) MergeDiff(incoming PeerInfo) (changed, needReplicaChg, needRejoin bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ours, known := t.peers[incoming.ID]

	if !known {
		if incoming.Status == StatusDeleted || incoming.Status == StatusIPChanged {
			return false, false, false // unknown peer with terminal status is ignored
		}
		t.peers[incoming.ID] = incoming
		if t.onSpawn != nil {
			go t.onSpawn(incoming)
		}
		return true, false, false
	}

	if incoming.Status == StatusOffline && (ours.Status == StatusActive || ours.Status == StatusOnline) {
		ours.Status = StatusOffline
		t.peers[incoming.ID] = ours
		return true, false, false
	}

	if (incoming.Status == StatusWaitSync || incoming.Status == StatusSyncing) && statusRank(ours.Status) > statusRank(incoming.Status) {
		needReplicaChg = true
		if incoming.ID == t.self {
			needRejoin = true
		}
		return false, needReplicaChg, needRejoin
	}

	if incoming.Status == StatusDeleted || incoming.Status == StatusIPChanged {
		delete(t.peers, incoming.ID)
		if t.onRetire != nil {
			go t.onRetire(incoming.ID)
		}
		return true, false, false
	}

	t.peers[incoming.ID] = incoming
	return true, false, false
}

// statusRank orders the lattice so "higher" statuses (further along
// towards ACTIVE) compare greater, used by the WAIT_SYNC/SYNCING rule.
func statusRank(s PeerStatus) int {
	switch s {
	case StatusInit:
		return 0
	case StatusWaitSync:
		return 1
	case StatusSyncing:
		return 2
	case StatusOffline:
		return 3
	case StatusOnline:
		return 4
	case StatusActive:
		return 5
	default:
		return -1
	}
}

// Snapshot returns a stable copy of the peer table for a replication
// worker to consult without holding the merge lock.
func (t *PeerTable) Snapshot() map[string]PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]PeerInfo, len(t.peers))
	for k, v := range t.peers {
		out[k] = v
	}
	return out
}

// Reporter runs one tracker server's join/heartbeat/report cycle.
type Reporter struct {
	Client            Client
	Group             string
	StorePathCount    int
	HeartbeatInterval time.Duration
	StatReportInterval time.Duration
	Paths             map[uint8]string
	Table             *PeerTable

	pacer *pacer.Pacer
}

// NewReporter builds a Reporter with reconnect backoff seeded from
// heartbeatInterval.
func NewReporter(client Client, group string, storePathCount int, heartbeat, statInterval time.Duration, paths map[uint8]string, table *PeerTable) *Reporter {
	return &Reporter{
		Client:             client,
		Group:              group,
		StorePathCount:     storePathCount,
		HeartbeatInterval:  heartbeat,
		StatReportInterval: statInterval,
		Paths:              paths,
		Table:              table,
		pacer: pacer.New(pacer.CalculatorOption(
			pacer.NewDefault(pacer.MinSleep(heartbeat), pacer.MaxSleep(10*heartbeat)),
		)),
	}
}

// Run joins once, then loops heartbeats and periodic disk-usage
// reports until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context, log *slog.Logger) error {
	var join JoinAnswer
	err := r.pacer.Call(func() (bool, error) {
		var jerr error
		join, jerr = r.Client.Join(ctx, r.Group, r.StorePathCount)
		return jerr != nil, jerr
	})
	if err != nil {
		return err
	}
	if log != nil {
		log.Info("joined tracker", "sync_src_id", join.SyncSrcID, "until_ts", join.UntilTS)
	}

	hbTicker := time.NewTicker(r.HeartbeatInterval)
	defer hbTicker.Stop()
	statTicker := time.NewTicker(r.StatReportInterval)
	defer statTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-hbTicker.C:
			stats, _ := DiskUsage(r.Paths)
			flags, peers, err := r.Client.HeartBeat(ctx, stats)
			if err != nil {
				if log != nil {
					log.Warn("heartbeat failed", "err", err)
				}
				continue
			}
			r.applyFlags(flags, log)
			for _, p := range peers {
				r.Table.MergeDiff(p)
			}
		case <-statTicker.C:
			stats, err := DiskUsage(r.Paths)
			if err != nil {
				continue
			}
			_ = r.Client.ReportDiskUsage(ctx, stats)
		}
	}
}

func (r *Reporter) applyFlags(flags ResponseFlags, log *slog.Logger) {
	if flags.ChangeTrackerLeader && log != nil {
		log.Info("tracker leader changed")
	}
	if flags.ChangeTrunkServer && log != nil {
		log.Info("trunk server role changed")
	}
	if flags.ChangeGroupServer && log != nil {
		log.Info("group server set changed")
	}
}
