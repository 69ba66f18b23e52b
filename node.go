// Package storaged wires the eight components (internal/fname,
// internal/trunk, internal/binlog, internal/fsm, internal/dio,
// internal/replication, internal/tracker, internal/recovery) and the
// ambient stack (internal/config, internal/logging, internal/ctlapi,
// internal/serverid, internal/durability, internal/storepath) into one
// running storage node, the way the teacher's root fs.Fs assembles a
// backend from its constituent pieces in NewFs.
package storaged

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/binlog"
	"github.com/happyfish100/fastdfs-sub008/internal/config"
	"github.com/happyfish100/fastdfs-sub008/internal/ctlapi"
	"github.com/happyfish100/fastdfs-sub008/internal/dio"
	"github.com/happyfish100/fastdfs-sub008/internal/durability"
	"github.com/happyfish100/fastdfs-sub008/internal/fname"
	"github.com/happyfish100/fastdfs-sub008/internal/fsm"
	"github.com/happyfish100/fastdfs-sub008/internal/logging"
	"github.com/happyfish100/fastdfs-sub008/internal/replication"
	"github.com/happyfish100/fastdfs-sub008/internal/serverid"
	"github.com/happyfish100/fastdfs-sub008/internal/storepath"
	"github.com/happyfish100/fastdfs-sub008/internal/tracker"
	"github.com/happyfish100/fastdfs-sub008/internal/trunk"
)

// markWriteFreq is how many synced records a replication worker's
// CheckpointWriter lets pass before it persists the .mark file, per
// spec.md §4.C "Checkpointing".
const markWriteFreq = 100

// peerDialTimeout bounds how long a replication worker waits to
// establish (or re-establish) a connection to one peer.
const peerDialTimeout = 10 * time.Second

// Node is one running storage node: every component's goroutines are
// started from Run and stopped by cancelling its context.
type Node struct {
	Config   *config.Config
	Log      *slog.Logger
	ServerID string

	Picker    *fname.Picker
	StatCache *storepath.Cache
	Trunks    map[uint8]*trunk.Allocator
	Binlog    *binlog.Writer
	Durable   *durability.Store
	PeerTable *tracker.PeerTable

	dataDir string
	syncDir string

	fsmServer *fsm.Server
	ctl       *ctlapi.Server
	fileStore *fsm.DiskFileStore

	// runCtx is set once Run starts; onSpawn uses it to launch a
	// replication worker for a newly discovered peer. Nil before Run,
	// so peer-table activity observed during New (none today) can never
	// race a worker launch against an unset context.
	runCtx context.Context

	workersMu sync.Mutex
	workers   map[string]context.CancelFunc
}

// New builds a Node from cfg, opening the binlog, durability database,
// and disk I/O pools but starting no goroutines yet — call Run for that.
func New(cfg *config.Config, log *slog.Logger) (*Node, error) {
	if log == nil {
		log = slog.New(logging.NewDefaultHandler(os.Stderr, slog.LevelInfo, false))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseDir := cfg.StorePaths[0]
	dataDir := filepath.Join(baseDir, "data")
	id, err := serverid.LoadOrCreate(dataDir)
	if err != nil {
		return nil, fmt.Errorf("storaged: load server id: %w", err)
	}

	durable, err := durability.Open(filepath.Join(dataDir, "meta.db"))
	if err != nil {
		return nil, fmt.Errorf("storaged: open durability store: %w", err)
	}

	bwriter, err := binlog.NewWriter(filepath.Join(dataDir, "sync"), func(err error) {
		log.Error("binlog fatal error, node draining", "err", err)
	})
	if err != nil {
		durable.Close()
		return nil, fmt.Errorf("storaged: open binlog: %w", err)
	}

	statCache := storepath.NewCache()

	paths := make([]fname.StorePath, len(cfg.StorePaths))
	trunks := make(map[uint8]*trunk.Allocator, len(cfg.StorePaths))
	for i, root := range cfg.StorePaths {
		idx := uint8(i)
		root := root // Go 1.21 loop vars are shared; pin a per-iteration copy for the closure below
		paths[i] = fname.StorePath{Index: idx, Root: root}

		topts := trunk.DefaultOptions()
		topts.SlotMinSize = uint32(cfg.SlotMinSizeBytes)
		topts.TrunkFileSize = uint32(cfg.TrunkFileSizeBytes)
		alloc := trunk.New(idx, topts, nil)
		alloc.OnFreemapChange = func(snap trunk.FreemapSnapshot) {
			encoded := encodeFreemap(snap)
			if err := durable.PutTrunkFreemap(fmt.Sprintf("%s/%d", root, snap.TrunkID), encoded); err != nil {
				log.Warn("persist trunk freemap failed", "err", err)
			}
		}
		trunks[idx] = alloc
	}

	var mode fname.WriteMode
	if cfg.WriteMode == config.WriteModeLoadBalance {
		mode = fname.LoadBalance
	}
	picker := fname.NewPicker(mode, paths, cfg.WritesPerRound, cfg.ReservedSpaceMB, statCache.PickerStatsFn())

	n := &Node{
		Config:    cfg,
		Log:       log,
		ServerID:  id,
		Picker:    picker,
		StatCache: statCache,
		Trunks:    trunks,
		Binlog:    bwriter,
		Durable:   durable,
		dataDir:   dataDir,
		syncDir:   filepath.Join(dataDir, "sync"),
		workers:   make(map[string]context.CancelFunc),
	}

	onSpawn := func(p tracker.PeerInfo) {
		n.persistPeer(p)
		n.handlePeerSpawn(p)
	}
	onRetire := func(id string) {
		if err := durable.DeletePeer(id); err != nil {
			log.Warn("delete persisted peer failed", "err", err)
		}
		n.stopReplicationWorker(id)
	}
	n.PeerTable = tracker.NewPeerTable(id, onSpawn, onRetire)

	return n, nil
}

func (n *Node) persistPeer(p tracker.PeerInfo) {
	encoded := []byte(fmt.Sprintf("%s\t%s\t%d\t%d", p.ID, p.IP, p.Status, p.LastSyncSrcTimestamp))
	if err := n.Durable.PutPeer(p.ID, encoded); err != nil {
		n.Log.Warn("persist peer failed", "err", err)
	}
}

func encodeFreemap(snap trunk.FreemapSnapshot) []byte {
	out := fmt.Sprintf("free=%d extents=%d", snap.FreeSize, len(snap.Extents))
	return []byte(out)
}

// sourceIDFromServerID derives the 4-byte source-storage id embedded in
// every logical filename (internal/fname.Fields.SourceID) from the
// node's persistent uuid-based ServerID, so filenames stay stable across
// restarts without reintroducing FastDFS's historical IP-as-id encoding.
func sourceIDFromServerID(serverID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(serverID))
	return h.Sum32()
}

// BuildFileService wires the FSM command set and dispatcher on top of a
// dio-backed FileStore, ready to register onto a Server.
func (n *Node) BuildFileService() *fsm.Dispatcher {
	const dioBufSize = 64 * 1024
	readers := dio.New(n.Config.DiskReaderThreads, int64(n.Config.DiskReaderThreads*4), dioBufSize)
	writers := dio.New(n.Config.DiskWriterThreads, int64(n.Config.DiskWriterThreads*4), dioBufSize)
	n.fileStore = &fsm.DiskFileStore{Readers: readers, Writers: writers}

	cs := &fsm.CommandSet{
		Files:       n.fileStore,
		Paths:       n.Picker,
		Binlog:      n.Binlog,
		SourceID:    sourceIDFromServerID(n.ServerID),
		SlotMaxSize: n.Config.SlotMaxSizeBytes,
		Trunks:      n.Trunks,
	}
	d := fsm.NewDispatcher()
	cs.Register(d)
	return d
}

// localFileAdapter implements replication.LocalFile over a Picker's
// logical-name decoding plus a DiskFileStore's physical-path I/O, so a
// replication.Worker can read the bytes for an outgoing sync send by
// logical filename alone.
type localFileAdapter struct {
	picker *fname.Picker
	store  *fsm.DiskFileStore
}

func (a *localFileAdapter) physical(name string) (string, error) {
	f, err := fname.Decode(name)
	if err != nil {
		return "", err
	}
	sp, err := a.picker.StorePathByIndex(f.PathIndex)
	if err != nil {
		return "", err
	}
	return a.picker.Physical(sp, f)
}

// resolve decodes name and, for a trunk-packed file, also returns the
// byte offset its payload starts at within the shared trunk file and
// its logical length — a trunk file's physical path is shared with
// every other slot packed into it, so neither can be read off the
// physical file alone the way a standalone file's can.
func (a *localFileAdapter) resolve(name string) (path string, base, fileSize int64, isTrunk bool, err error) {
	f, err := fname.Decode(name)
	if err != nil {
		return "", 0, 0, false, err
	}
	sp, err := a.picker.StorePathByIndex(f.PathIndex)
	if err != nil {
		return "", 0, 0, false, err
	}
	path, err = a.picker.Physical(sp, f)
	if err != nil {
		return "", 0, 0, false, err
	}
	if f.IsTrunk {
		base = int64(f.TrunkOffset) + trunk.HeaderSize
	}
	return path, base, int64(f.FileSize), f.IsTrunk, nil
}

func (a *localFileAdapter) ReadFile(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	path, base, fileSize, isTrunk, err := a.resolve(name)
	if err != nil {
		return nil, err
	}
	if isTrunk && length < 0 {
		length = fileSize - offset
	}
	return a.store.ReadFile(ctx, path, base+offset, length)
}

// Size returns name's current logical length. A trunk-packed file's
// size is read straight off its decoded filename (trunk files are
// never appended/modified after creation); anything else is live-
// stat'd since append/modify/truncate can have changed it since upload.
func (a *localFileAdapter) Size(ctx context.Context, name string) (int64, error) {
	f, err := fname.Decode(name)
	if err != nil {
		return 0, err
	}
	if f.IsTrunk {
		return int64(f.FileSize), nil
	}
	path, err := a.physical(name)
	if err != nil {
		return 0, err
	}
	size, _, err := a.store.StatFile(ctx, path)
	return size, err
}

// handlePeerSpawn starts a replication worker for a newly discovered
// peer (spec.md §4.F "Bootstrap"). A no-op before Run has set runCtx,
// and a no-op for our own id (the tracker's peer list always includes
// the reporting node itself).
func (n *Node) handlePeerSpawn(p tracker.PeerInfo) {
	if n.runCtx == nil || p.ID == n.ServerID || n.fileStore == nil {
		return
	}

	n.workersMu.Lock()
	if _, exists := n.workers[p.ID]; exists {
		n.workersMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(n.runCtx)
	n.workers[p.ID] = cancel
	n.workersMu.Unlock()

	cp, err := binlog.LoadCheckpoint(n.syncDir, p.ID)
	if err != nil {
		n.Log.Warn("load replication checkpoint failed", "peer", p.ID, "err", err)
		n.stopReplicationWorker(p.ID)
		return
	}
	reader, err := binlog.OpenReader(n.syncDir, cp.BinlogIndex, cp.BinlogOffset)
	if err != nil {
		n.Log.Warn("open replication reader failed", "peer", p.ID, "err", err)
		n.stopReplicationWorker(p.ID)
		return
	}

	addr := fmt.Sprintf("%s:%d", p.IP, n.Config.Port)
	group := n.Config.GroupName
	dial := func(dctx context.Context) (replication.PeerClient, error) {
		return replication.DialPeer(dctx, addr, group, peerDialTimeout)
	}

	w := replication.NewWorker(p.ID, replication.Bootstrap{}, cp, n.Config.HeartbeatInterval)
	w.Dial = dial
	w.Reader = reader
	w.Files = &localFileAdapter{picker: n.Picker, store: n.fileStore}
	w.Checkpoint = binlog.NewCheckpointWriter(n.syncDir, markWriteFreq)
	w.SyncMaxThreads = n.Config.SyncMaxThreads
	w.CurrentWriteIndex = n.Binlog.CurrentIndex

	go func() {
		if err := w.Run(ctx, n.Log); err != nil && ctx.Err() == nil {
			n.Log.Warn("replication worker exited", "peer", p.ID, "err", err)
		}
		reader.Close()
	}()
}

// startTrackerReporters launches one tracker.Reporter per configured
// tracker server (spec.md §4.G), each feeding peer-table updates that
// drive handlePeerSpawn/stopReplicationWorker.
func (n *Node) startTrackerReporters(ctx context.Context) {
	if len(n.Config.TrackerServers) == 0 {
		return
	}
	paths := make(map[uint8]string, len(n.Config.StorePaths))
	for i, root := range n.Config.StorePaths {
		paths[uint8(i)] = root
	}
	statInterval := n.Config.HeartbeatInterval * 2

	for _, addr := range n.Config.TrackerServers {
		client := tracker.NewTCPClient(addr, peerDialTimeout)
		reporter := tracker.NewReporter(client, n.Config.GroupName, len(n.Config.StorePaths),
			n.Config.HeartbeatInterval, statInterval, paths, n.PeerTable)
		go func(addr string) {
			if err := reporter.Run(ctx, n.Log); err != nil && ctx.Err() == nil {
				n.Log.Warn("tracker reporter exited", "tracker", addr, "err", err)
			}
		}(addr)
	}
}

func (n *Node) stopReplicationWorker(peerID string) {
	n.workersMu.Lock()
	cancel, ok := n.workers[peerID]
	if ok {
		delete(n.workers, peerID)
	}
	n.workersMu.Unlock()
	if ok {
		cancel()
	}
}

// Run starts the file service listener, the tracker reporters, the
// control endpoint, and (as peers are discovered) their replication
// workers. Blocks until ctx is cancelled or the listener fails.
func (n *Node) Run(ctx context.Context) error {
	n.runCtx = ctx

	dispatcher := n.BuildFileService()
	n.fsmServer = &fsm.Server{
		Dispatcher:  dispatcher,
		Log:         n.Log,
		IdleTimeout: 2 * time.Minute,
		GroupName:   n.Config.GroupName,
		ServerID:    n.ServerID,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", n.Config.BindAddr, n.Config.Port))
	if err != nil {
		return fmt.Errorf("storaged: listen: %w", err)
	}

	n.startTrackerReporters(ctx)

	n.ctl = ctlapi.NewServer(n.rotateLog, n.dumpState, n.Log)
	var ctlLn net.Listener
	if n.Config.ControlListenAddr != "" {
		ctlLn, err = net.Listen("tcp", n.Config.ControlListenAddr)
		if err != nil {
			n.Log.Warn("control endpoint listen failed", "err", err)
		}
	}

	errCh := make(chan error, 2)
	go func() { errCh <- n.fsmServer.Serve(ctx, ln) }()
	if ctlLn != nil {
		go func() {
			<-ctx.Done()
			ctlLn.Close()
		}()
		go func() { errCh <- n.ctl.Serve(ctlLn) }()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (n *Node) rotateLog() error {
	n.Log.Info("log rotate requested via control endpoint")
	return nil
}

func (n *Node) dumpState() any {
	trunkFree := make(map[uint8]uint64, len(n.Trunks))
	for idx, alloc := range n.Trunks {
		trunkFree[idx] = alloc.TotalFreeBytes()
	}
	return map[string]any{
		"server_id":        n.ServerID,
		"group":            n.Config.GroupName,
		"binlog_idx":       n.Binlog.CurrentIndex(),
		"peers":            n.PeerTable.Snapshot(),
		"trunk_free_bytes": trunkFree,
	}
}

// Close releases the node's file handles.
func (n *Node) Close() error {
	var firstErr error
	if n.Binlog != nil {
		if err := n.Binlog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if n.Durable != nil {
		if err := n.Durable.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ fsm.BinlogAppender = (*binlog.Writer)(nil)
