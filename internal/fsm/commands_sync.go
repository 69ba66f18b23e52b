package fsm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/happyfish100/fastdfs-sub008/internal/binlog"
	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/happyfish100/fastdfs-sub008/internal/wire"
)

// Sync-* commands are the receive-side of replication (spec.md §4.D):
// the same local effect as their source-side counterparts, but emitting
// REPLICA_* binlog records instead of SOURCE_* ones.

// handleSyncCreate implements SYNC_CREATE_FILE: name-len:8, size:8,
// src-ts:4, group:16, name, bytes. Per spec.md §4.D's tie-break: a file
// that already exists locally with the same size acknowledges success
// silently (EEXIST treated as success at the sender).
func (cs *CommandSet) handleSyncCreate(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 16+4+wire.GroupNameLen {
		return nil, fmt.Errorf("%w: sync-create header too short", ferr.ErrProtocol)
	}
	nameLen := int64(binary.BigEndian.Uint64(body[0:8]))
	size := int64(binary.BigEndian.Uint64(body[8:16]))
	rest := body[16+4+wire.GroupNameLen:]
	if int64(len(rest)) < nameLen {
		return nil, fmt.Errorf("%w: sync-create body too short", ferr.ErrProtocol)
	}
	name := string(rest[:nameLen])
	data := rest[nameLen:]

	path, err := cs.physicalFromName(name)
	if err != nil {
		return nil, err
	}
	if existingSize, _, serr := cs.Files.StatFile(ctx, path); serr == nil {
		if existingSize == size {
			return nil, nil // spec.md: identical size on Sync-Create is success
		}
		return nil, ferr.ErrAlreadyExists // different size: caller switches to UPDATE
	}
	if err := cs.Files.WriteFile(ctx, path, data); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpReplicaCreate, name, "")
}

// handleSyncUpdate implements SYNC_UPDATE_FILE: same wire layout as
// SYNC_CREATE_FILE, but always overwrites.
func (cs *CommandSet) handleSyncUpdate(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 16+4+wire.GroupNameLen {
		return nil, fmt.Errorf("%w: sync-update header too short", ferr.ErrProtocol)
	}
	nameLen := int64(binary.BigEndian.Uint64(body[0:8]))
	rest := body[16+4+wire.GroupNameLen:]
	if int64(len(rest)) < nameLen {
		return nil, fmt.Errorf("%w: sync-update body too short", ferr.ErrProtocol)
	}
	name := string(rest[:nameLen])
	data := rest[nameLen:]
	path, err := cs.physicalFromName(name)
	if err != nil {
		return nil, err
	}
	if err := cs.Files.WriteFile(ctx, path, data); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpReplicaUpdate, name, "")
}

// handleSyncDelete implements SYNC_DELETE_FILE: src-ts:4, group:16,
// name. Idempotent: ENOENT on the receiver is success (spec.md §7).
func (cs *CommandSet) handleSyncDelete(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 4+wire.GroupNameLen {
		return nil, fmt.Errorf("%w: sync-delete header too short", ferr.ErrProtocol)
	}
	name := string(body[4+wire.GroupNameLen:])
	path, err := cs.physicalFromName(name)
	if err != nil {
		return nil, err
	}
	if err := cs.Files.DeleteFile(ctx, path); err != nil && !errors.Is(err, ferr.ErrNotFound) {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpReplicaDelete, name, "")
}

// handleSyncAppend implements SYNC_APPEND_FILE: name-len:8, start:8,
// len:8, src-ts:4, group:16, name, bytes. ENOENT surfaces so the
// replicator can fall back to SYNC_UPDATE_FILE (spec.md §4.F).
func (cs *CommandSet) handleSyncAppend(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 24+4+wire.GroupNameLen {
		return nil, fmt.Errorf("%w: sync-append header too short", ferr.ErrProtocol)
	}
	nameLen := int64(binary.BigEndian.Uint64(body[0:8]))
	rest := body[24+4+wire.GroupNameLen:]
	if int64(len(rest)) < nameLen {
		return nil, fmt.Errorf("%w: sync-append body too short", ferr.ErrProtocol)
	}
	name := string(rest[:nameLen])
	data := rest[nameLen:]
	path, err := cs.physicalFromName(name)
	if err != nil {
		return nil, err
	}
	if !cs.Files.Exists(ctx, path) {
		return nil, ferr.ErrNotFound
	}
	if err := cs.Files.AppendFile(ctx, path, data); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpReplicaAppend, name, "")
}

// handleSyncModify implements SYNC_MODIFY_FILE, same wire layout as
// SYNC_APPEND_FILE per spec.md §6.
func (cs *CommandSet) handleSyncModify(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	resp, err := cs.handleSyncAppend(ctx, c, body)
	if err != nil {
		return resp, err
	}
	return resp, nil
}

// handleSyncTruncate implements SYNC_TRUNCATE_FILE: name-len:8,
// old-size:8, new-size:8, src-ts:4, group:16, name. Receiver sets
// length unconditionally.
func (cs *CommandSet) handleSyncTruncate(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 24+4+wire.GroupNameLen {
		return nil, fmt.Errorf("%w: sync-truncate header too short", ferr.ErrProtocol)
	}
	nameLen := int64(binary.BigEndian.Uint64(body[0:8]))
	newSize := int64(binary.BigEndian.Uint64(body[16:24]))
	rest := body[24+4+wire.GroupNameLen:]
	if int64(len(rest)) < nameLen {
		return nil, fmt.Errorf("%w: sync-truncate body too short", ferr.ErrProtocol)
	}
	name := string(rest[:nameLen])
	path, err := cs.physicalFromName(name)
	if err != nil {
		return nil, err
	}
	if err := cs.Files.TruncateFile(ctx, path, newSize); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpReplicaTruncate, name, "")
}

// handleSyncRename implements SYNC_RENAME_FILE: dest-len:8, src-len:8,
// src-ts:4, group:16, dest, src. On receiver ENOENT, falls back to a
// plain create at dest from the synced bytes is not possible here (no
// bytes are sent); per spec.md §4.F the sender falls back to CREATE in
// that case, so a missing source here simply reports NotFound and lets
// the replicator retry as CREATE.
func (cs *CommandSet) handleSyncRename(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 16+4+wire.GroupNameLen {
		return nil, fmt.Errorf("%w: sync-rename header too short", ferr.ErrProtocol)
	}
	destLen := int64(binary.BigEndian.Uint64(body[0:8]))
	srcLen := int64(binary.BigEndian.Uint64(body[8:16]))
	rest := body[16+4+wire.GroupNameLen:]
	if int64(len(rest)) < destLen+srcLen {
		return nil, fmt.Errorf("%w: sync-rename body too short", ferr.ErrProtocol)
	}
	dest := string(rest[:destLen])
	src := string(rest[destLen : destLen+srcLen])

	srcPath, err := cs.physicalFromName(src)
	if err != nil {
		return nil, err
	}
	if !cs.Files.Exists(ctx, srcPath) {
		return nil, ferr.ErrNotFound
	}
	destPath, err := cs.physicalFromName(dest)
	if err != nil {
		return nil, err
	}
	data, err := cs.Files.ReadFile(ctx, srcPath, 0, -1)
	if err != nil {
		return nil, err
	}
	if err := cs.Files.WriteFile(ctx, destPath, data); err != nil {
		return nil, err
	}
	if err := cs.Files.DeleteFile(ctx, srcPath); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpReplicaRename, dest, src)
}

// handleSyncCreateLink implements SYNC_CREATE_LINK, the replica receipt
// of a CREATE_LINK: dest-len:8, src-len:8, src-ts:4, group:16, dest,
// src — the same wire layout as SYNC_RENAME_FILE (see peerclient.go's
// SendLink). Unlike rename, the source file is left untouched; dest
// becomes a symlink pointing at src's physical path.
func (cs *CommandSet) handleSyncCreateLink(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 16+4+wire.GroupNameLen {
		return nil, fmt.Errorf("%w: sync-create-link header too short", ferr.ErrProtocol)
	}
	destLen := int64(binary.BigEndian.Uint64(body[0:8]))
	srcLen := int64(binary.BigEndian.Uint64(body[8:16]))
	rest := body[16+4+wire.GroupNameLen:]
	if int64(len(rest)) < destLen+srcLen {
		return nil, fmt.Errorf("%w: sync-create-link body too short", ferr.ErrProtocol)
	}
	dest := string(rest[:destLen])
	src := string(rest[destLen : destLen+srcLen])

	srcPath, err := cs.physicalFromName(src)
	if err != nil {
		return nil, err
	}
	if !cs.Files.Exists(ctx, srcPath) {
		return nil, ferr.ErrNotFound
	}
	destPath, err := cs.physicalFromName(dest)
	if err != nil {
		return nil, err
	}
	if err := cs.Files.Symlink(ctx, srcPath, destPath); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpReplicaLink, dest, src)
}
