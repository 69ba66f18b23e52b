package fsm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/binlog"
	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/happyfish100/fastdfs-sub008/internal/fname"
	"github.com/happyfish100/fastdfs-sub008/internal/trunk"
	"github.com/happyfish100/fastdfs-sub008/internal/wire"
)

// CommandSet binds the command handlers to the node's storage
// capabilities and registers them on a Dispatcher. Splitting handlers
// into small capability-interface-backed methods (rather than one giant
// switch) is the tagged-variant design spec.md §9 asks for.
type CommandSet struct {
	Files       FileStore
	Paths       PathPicker
	Binlog      BinlogAppender
	SourceID    uint32
	SlotMaxSize int64
	// Trunks holds one allocator per store-path index (internal/trunk),
	// keyed the same way Paths is. A nil/missing entry for a path index
	// just means uploads to that path are never trunk-packed.
	Trunks map[uint8]*trunk.Allocator
	Now    func() time.Time
}

func (cs *CommandSet) now() time.Time {
	if cs.Now != nil {
		return cs.Now()
	}
	return time.Now()
}

// Register wires every command this node handles onto d.
func (cs *CommandSet) Register(d *Dispatcher) {
	d.Register(wire.CmdUploadFile, cs.handleUpload(false))
	d.Register(wire.CmdUploadAppenderFile, cs.handleUpload(true))
	d.Register(wire.CmdUploadSlaveFile, cs.handleUploadSlaveFile)
	d.Register(wire.CmdDeleteFile, cs.handleDelete)
	d.Register(wire.CmdDownloadFile, cs.handleDownload)
	d.Register(wire.CmdAppendFile, cs.handleAppend)
	d.Register(wire.CmdModifyFile, cs.handleModify)
	d.Register(wire.CmdTruncateFile, cs.handleTruncate)
	d.Register(wire.CmdGetMetadata, cs.handleGetMetadata)
	d.Register(wire.CmdSetMetadata, cs.handleSetMetadata)
	d.Register(wire.CmdQueryFileInfo, cs.handleQueryFileInfo)
	d.Register(wire.CmdRenameFile, cs.handleRename)
	d.Register(wire.CmdCreateLink, cs.handleCreateLink)
	d.Register(wire.CmdActiveTest, cs.handleActiveTest)
	d.Register(wire.CmdReportServerID, cs.handleReportServerID)

	d.Register(wire.CmdSyncCreateFile, cs.handleSyncCreate)
	d.Register(wire.CmdSyncDeleteFile, cs.handleSyncDelete)
	d.Register(wire.CmdSyncUpdateFile, cs.handleSyncUpdate)
	d.Register(wire.CmdSyncAppendFile, cs.handleSyncAppend)
	d.Register(wire.CmdSyncModifyFile, cs.handleSyncModify)
	d.Register(wire.CmdSyncTruncateFile, cs.handleSyncTruncate)
	d.Register(wire.CmdSyncRenameFile, cs.handleSyncRename)
	d.Register(wire.CmdSyncCreateLink, cs.handleSyncCreateLink)
}

// handleUpload implements UPLOAD_FILE / UPLOAD_APPENDER_FILE (spec.md
// §4.D, §6): path-index:1, file-size:8, ext-name:6, bytes.
func (cs *CommandSet) handleUpload(appender bool) HandlerFunc {
	return func(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
		if len(body) < 1+8+wire.ExtNameLen {
			return nil, fmt.Errorf("%w: upload header too short", ferr.ErrProtocol)
		}
		size := int64(binary.BigEndian.Uint64(body[1 : 1+8]))
		ext := wire.GetFixedString(body[1+8 : 1+8+wire.ExtNameLen])
		data := body[1+8+wire.ExtNameLen:]
		if int64(len(data)) != size {
			return nil, fmt.Errorf("%w: declared size %d != body %d", ferr.ErrProtocol, size, len(data))
		}

		name, err := cs.storeNewFile(ctx, ext, data, appender)
		if err != nil {
			return nil, err
		}

		resp := make([]byte, wire.GroupNameLen+len(name))
		wire.PutFixedString(resp[:wire.GroupNameLen], c.groupName)
		copy(resp[wire.GroupNameLen:], name)
		return resp, nil
	}
}

// storeNewFile is the common body of UPLOAD_FILE/UPLOAD_APPENDER_FILE/
// UPLOAD_SLAVE_FILE: pick a store path, pack the bytes into a trunk
// file when they fit and the file isn't an appender, otherwise write a
// standalone file, then encode the logical name and log SOURCE_CREATE.
// A size equal to SlotMaxSize is still packed; only larger sizes bypass
// the trunk allocator, and appender files always stay standalone since
// they grow after creation.
func (cs *CommandSet) storeNewFile(ctx context.Context, ext string, data []byte, appender bool) (string, error) {
	sp, err := cs.Paths.PickWritePath()
	if err != nil {
		return "", err
	}
	size := int64(len(data))
	f := fname.Fields{
		PathIndex:  sp.Index,
		Timestamp:  uint32(cs.now().Unix()),
		FileSize:   uint64(size),
		CRC32:      crc32.ChecksumIEEE(data),
		SourceID:   cs.SourceID,
		IsAppender: appender,
		Ext:        ext,
	}

	alloc := cs.Trunks[sp.Index]
	if !appender && alloc != nil && cs.SlotMaxSize > 0 && size <= cs.SlotMaxSize {
		slot, err := cs.allocateTrunkSlot(alloc, uint32(size))
		if err != nil {
			return "", err
		}
		trunkPath := fname.TrunkFilePath(sp, slot.TrunkID)
		payload := make([]byte, 0, trunk.HeaderSize+len(data))
		payload = append(payload, trunk.EncodeHeader(uint64(size), f.CRC32, f.Timestamp, slot.AllocSize)...)
		payload = append(payload, data...)
		if err := cs.Files.WriteAt(ctx, trunkPath, int64(slot.Offset), payload); err != nil {
			return "", err
		}
		f.IsTrunk = true
		f.TrunkID = slot.TrunkID
		f.TrunkOffset = slot.Offset
	} else {
		physPath, err := cs.Paths.Physical(sp, f)
		if err != nil {
			return "", err
		}
		if err := cs.Files.WriteFile(ctx, physPath, data); err != nil {
			return "", err
		}
	}

	name, err := fname.Encode(f)
	if err != nil {
		return "", err
	}
	return name, cs.appendBinlog(binlog.OpSourceCreate, name, "")
}

// allocateTrunkSlot finds room for size payload bytes plus their trunk
// header in alloc, creating one new trunk file and retrying once if no
// existing trunk file has space (spec.md §4.B).
func (cs *CommandSet) allocateTrunkSlot(alloc *trunk.Allocator, size uint32) (trunk.Slot, error) {
	want := size + uint32(trunk.HeaderSize)
	slot, err := alloc.Allocate(want)
	if errors.Is(err, ferr.ErrNoSpace) {
		alloc.AddTrunkFile(alloc.NextTrunkFileID())
		slot, err = alloc.Allocate(want)
	}
	return slot, err
}

// freeTrunkSlot releases a trunk-packed file's space back to its
// allocator. The logical filename only carries the trunk id/offset, not
// the aligned allocation size, so the slot's own on-disk header
// (written by storeNewFile) is read back to recover it.
func (cs *CommandSet) freeTrunkSlot(ctx context.Context, trunkPath string, f fname.Fields) error {
	alloc, ok := cs.Trunks[f.PathIndex]
	if !ok || alloc == nil {
		return fmt.Errorf("%w: no trunk allocator for path %d", ferr.ErrTrunkNotFound, f.PathIndex)
	}
	hdr, err := cs.Files.ReadFile(ctx, trunkPath, int64(f.TrunkOffset), trunk.HeaderSize)
	if err != nil {
		return err
	}
	_, _, _, allocSize, err := trunk.DecodeHeader(hdr)
	if err != nil {
		return err
	}
	return alloc.Free(trunk.Slot{PathIndex: f.PathIndex, TrunkID: f.TrunkID, Offset: f.TrunkOffset, AllocSize: allocSize})
}

// handleDelete implements DELETE_FILE: group:16, name.
func (cs *CommandSet) handleDelete(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	name, err := parseGroupAndName(body)
	if err != nil {
		return nil, err
	}
	f, err := fname.Decode(name)
	if err != nil {
		return nil, err
	}
	sp, err := cs.Paths.StorePathByIndex(f.PathIndex)
	if err != nil {
		return nil, err
	}
	path, err := cs.Paths.Physical(sp, f)
	if err != nil {
		return nil, err
	}
	if f.IsTrunk {
		if err := cs.freeTrunkSlot(ctx, path, f); err != nil {
			return nil, err
		}
	} else if err := cs.Files.DeleteFile(ctx, path); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpSourceDelete, name, "")
}

// handleDownload implements DOWNLOAD_FILE: offset:8, len:8, group:16, name.
func (cs *CommandSet) handleDownload(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 16+wire.GroupNameLen {
		return nil, fmt.Errorf("%w: download header too short", ferr.ErrProtocol)
	}
	offset := int64(binary.BigEndian.Uint64(body[0:8]))
	length := int64(binary.BigEndian.Uint64(body[8:16]))
	name := string(body[16+wire.GroupNameLen:])
	path, base, _, err := cs.resolveExtent(name)
	if err != nil {
		return nil, err
	}
	return cs.Files.ReadFile(ctx, path, base+offset, length)
}

// resolveExtent decodes a logical name to its physical path and the
// base byte offset payload bytes start at within that path: 0 for a
// standalone file, past the slot's own header (at TrunkOffset) for a
// trunk-packed one. fileSize is the logical file's full length, useful
// to callers that want to read the whole file without re-decoding name.
func (cs *CommandSet) resolveExtent(name string) (path string, base int64, fileSize int64, err error) {
	f, err := fname.Decode(name)
	if err != nil {
		return "", 0, 0, err
	}
	sp, err := cs.Paths.StorePathByIndex(f.PathIndex)
	if err != nil {
		return "", 0, 0, err
	}
	path, err = cs.Paths.Physical(sp, f)
	if err != nil {
		return "", 0, 0, err
	}
	if f.IsTrunk {
		base = int64(f.TrunkOffset) + trunk.HeaderSize
	}
	return path, base, int64(f.FileSize), nil
}

// handleAppend implements APPEND_FILE: name-len:8, file-size:8, name, bytes.
func (cs *CommandSet) handleAppend(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	nameLen, size, name, data, err := parseNameLenSizeBody(body)
	if err != nil {
		return nil, err
	}
	_ = nameLen
	if int64(len(data)) != size {
		return nil, fmt.Errorf("%w: declared size mismatch", ferr.ErrProtocol)
	}
	path, err := cs.physicalFromAppenderName(name)
	if err != nil {
		return nil, err
	}
	if err := cs.Files.AppendFile(ctx, path, data); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpSourceAppend, name, "")
}

// handleModify implements MODIFY_FILE: name-len:8, start-offset:8, mod-len:8, name, bytes.
func (cs *CommandSet) handleModify(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 24 {
		return nil, fmt.Errorf("%w: modify header too short", ferr.ErrProtocol)
	}
	nameLen := int64(binary.BigEndian.Uint64(body[0:8]))
	start := int64(binary.BigEndian.Uint64(body[8:16]))
	modLen := int64(binary.BigEndian.Uint64(body[16:24]))
	rest := body[24:]
	if int64(len(rest)) < nameLen {
		return nil, fmt.Errorf("%w: modify body too short", ferr.ErrProtocol)
	}
	name := string(rest[:nameLen])
	data := rest[nameLen:]
	if int64(len(data)) != modLen {
		return nil, fmt.Errorf("%w: declared mod-len mismatch", ferr.ErrProtocol)
	}
	path, err := cs.physicalFromAppenderName(name)
	if err != nil {
		return nil, err
	}
	if err := cs.Files.WriteAt(ctx, path, start, data); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpSourceModify, name, "")
}

// handleTruncate implements TRUNCATE_FILE: name-len:8, remain-size:8, name.
func (cs *CommandSet) handleTruncate(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("%w: truncate header too short", ferr.ErrProtocol)
	}
	nameLen := int64(binary.BigEndian.Uint64(body[0:8]))
	remain := int64(binary.BigEndian.Uint64(body[8:16]))
	rest := body[16:]
	if int64(len(rest)) < nameLen {
		return nil, fmt.Errorf("%w: truncate body too short", ferr.ErrProtocol)
	}
	name := string(rest[:nameLen])
	path, err := cs.physicalFromAppenderName(name)
	if err != nil {
		return nil, err
	}
	if err := cs.Files.TruncateFile(ctx, path, remain); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpSourceTruncate, name, "")
}

// handleGetMetadata implements GET_METADATA: group:16, name.
func (cs *CommandSet) handleGetMetadata(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	name, err := parseGroupAndName(body)
	if err != nil {
		return nil, err
	}
	path, err := cs.metaPathFromName(name)
	if err != nil {
		return nil, err
	}
	return cs.Files.ReadFile(ctx, path, 0, -1)
}

// handleSetMetadata implements SET_METADATA: name-len:8, meta-len:8,
// flag:1, group:16, name, meta-blob.
func (cs *CommandSet) handleSetMetadata(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 17+wire.GroupNameLen {
		return nil, fmt.Errorf("%w: set-metadata header too short", ferr.ErrProtocol)
	}
	nameLen := int64(binary.BigEndian.Uint64(body[0:8]))
	metaLen := int64(binary.BigEndian.Uint64(body[8:16]))
	rest := body[17+wire.GroupNameLen:]
	if int64(len(rest)) < nameLen+metaLen {
		return nil, fmt.Errorf("%w: set-metadata body too short", ferr.ErrProtocol)
	}
	name := string(rest[:nameLen])
	meta := rest[nameLen : nameLen+metaLen]
	path, err := cs.metaPathFromName(name)
	if err != nil {
		return nil, err
	}
	return nil, cs.Files.WriteFile(ctx, path, meta)
}

// handleQueryFileInfo implements QUERY_FILE_INFO: group:16, name.
func (cs *CommandSet) handleQueryFileInfo(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	name, err := parseGroupAndName(body)
	if err != nil {
		return nil, err
	}
	f, err := fname.Decode(name)
	if err != nil {
		return nil, err
	}
	var size int64
	var crc uint32
	if f.IsTrunk {
		// A trunk-packed file shares its physical path with every other
		// slot in the same trunk file — StatFile would report the whole
		// trunk file's size/crc, not this logical file's. The decoded
		// name already carries both.
		size, crc = int64(f.FileSize), f.CRC32
	} else {
		path, err := cs.physicalFromName(name)
		if err != nil {
			return nil, err
		}
		size, crc, err = cs.Files.StatFile(ctx, path)
		if err != nil {
			return nil, err
		}
	}
	resp := make([]byte, 8+8+4+16)
	binary.BigEndian.PutUint64(resp[0:8], uint64(size))
	binary.BigEndian.PutUint64(resp[8:16], uint64(cs.now().Unix()))
	binary.BigEndian.PutUint32(resp[16:20], crc)
	return resp, nil
}

// metaPathFromName resolves name to its metadata sidecar path, which is
// keyed off the logical name rather than the physical data path so it
// stays unique even when the file is trunk-packed.
func (cs *CommandSet) metaPathFromName(name string) (string, error) {
	f, err := fname.Decode(name)
	if err != nil {
		return "", err
	}
	sp, err := cs.Paths.StorePathByIndex(f.PathIndex)
	if err != nil {
		return "", err
	}
	return cs.Paths.MetaPath(sp, f)
}

// handleRename implements RENAME_FILE: old-name-len:8, new-name-len:8, old, new.
func (cs *CommandSet) handleRename(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("%w: rename header too short", ferr.ErrProtocol)
	}
	oldLen := int64(binary.BigEndian.Uint64(body[0:8]))
	newLen := int64(binary.BigEndian.Uint64(body[8:16]))
	rest := body[16:]
	if int64(len(rest)) < oldLen+newLen {
		return nil, fmt.Errorf("%w: rename body too short", ferr.ErrProtocol)
	}
	oldName := string(rest[:oldLen])
	newName := string(rest[oldLen : oldLen+newLen])
	oldF, err := fname.Decode(oldName)
	if err != nil {
		return nil, err
	}
	oldPath, base, size, err := cs.resolveExtent(oldName)
	if err != nil {
		return nil, err
	}
	data, err := cs.Files.ReadFile(ctx, oldPath, base, size)
	if err != nil {
		return nil, err
	}
	newPath, err := cs.physicalFromName(newName)
	if err != nil {
		return nil, err
	}
	if err := cs.Files.WriteFile(ctx, newPath, data); err != nil {
		return nil, err
	}
	if oldF.IsTrunk {
		if err := cs.freeTrunkSlot(ctx, oldPath, oldF); err != nil {
			return nil, err
		}
	} else if err := cs.Files.DeleteFile(ctx, oldPath); err != nil {
		return nil, err
	}
	return nil, cs.appendBinlog(binlog.OpSourceRename, newName, oldName)
}

// handleCreateLink implements CREATE_LINK: target-name-len:8,
// ext-name:6, group:16, target-name. The new link shares the target's
// size/crc32 and points its physical path at the target's, so a
// download of the link reads straight through to the target's bytes
// (spec.md §4.D).
func (cs *CommandSet) handleCreateLink(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 8+wire.ExtNameLen+wire.GroupNameLen {
		return nil, fmt.Errorf("%w: create-link header too short", ferr.ErrProtocol)
	}
	targetLen := int64(binary.BigEndian.Uint64(body[0:8]))
	ext := wire.GetFixedString(body[8 : 8+wire.ExtNameLen])
	rest := body[8+wire.ExtNameLen+wire.GroupNameLen:]
	if int64(len(rest)) < targetLen {
		return nil, fmt.Errorf("%w: create-link body too short", ferr.ErrProtocol)
	}
	targetName := string(rest[:targetLen])

	targetF, err := fname.Decode(targetName)
	if err != nil {
		return nil, err
	}
	targetSP, err := cs.Paths.StorePathByIndex(targetF.PathIndex)
	if err != nil {
		return nil, err
	}
	targetPath, err := cs.Paths.Physical(targetSP, targetF)
	if err != nil {
		return nil, err
	}
	if !cs.Files.Exists(ctx, targetPath) {
		return nil, ferr.ErrNotFound
	}

	sp, err := cs.Paths.PickWritePath()
	if err != nil {
		return nil, err
	}
	linkF := fname.Fields{
		PathIndex: sp.Index,
		Timestamp: uint32(cs.now().Unix()),
		FileSize:  targetF.FileSize,
		CRC32:     targetF.CRC32,
		SourceID:  cs.SourceID,
		Ext:       ext,
	}
	linkName, err := fname.Encode(linkF)
	if err != nil {
		return nil, err
	}
	linkPath, err := cs.Paths.Physical(sp, linkF)
	if err != nil {
		return nil, err
	}
	if err := cs.Files.Symlink(ctx, targetPath, linkPath); err != nil {
		return nil, err
	}
	if err := cs.appendBinlog(binlog.OpSourceLink, linkName, targetName); err != nil {
		return nil, err
	}

	resp := make([]byte, wire.GroupNameLen+len(linkName))
	wire.PutFixedString(resp[:wire.GroupNameLen], c.groupName)
	copy(resp[wire.GroupNameLen:], linkName)
	return resp, nil
}

// handleUploadSlaveFile implements UPLOAD_SLAVE_FILE: master-name-len:8,
// file-size:8, prefix-name:16, ext-name:6, master-name, bytes. The
// master file must already exist; the slave's bytes are stored and
// named the same way a plain UPLOAD_FILE's would be, rather than
// reproducing FastDFS's deterministic master-core+prefix derivation
// (see DESIGN.md).
func (cs *CommandSet) handleUploadSlaveFile(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 16+16+wire.ExtNameLen {
		return nil, fmt.Errorf("%w: upload-slave header too short", ferr.ErrProtocol)
	}
	masterLen := int64(binary.BigEndian.Uint64(body[0:8]))
	size := int64(binary.BigEndian.Uint64(body[8:16]))
	ext := wire.GetFixedString(body[16+16 : 16+16+wire.ExtNameLen])
	rest := body[16+16+wire.ExtNameLen:]
	if int64(len(rest)) < masterLen {
		return nil, fmt.Errorf("%w: upload-slave body too short for master name", ferr.ErrProtocol)
	}
	masterName := string(rest[:masterLen])
	data := rest[masterLen:]
	if int64(len(data)) != size {
		return nil, fmt.Errorf("%w: declared size %d != body %d", ferr.ErrProtocol, size, len(data))
	}

	masterPath, err := cs.physicalFromName(masterName)
	if err != nil {
		return nil, err
	}
	if !cs.Files.Exists(ctx, masterPath) {
		return nil, ferr.ErrNotFound
	}

	name, err := cs.storeNewFile(ctx, ext, data, false)
	if err != nil {
		return nil, err
	}

	resp := make([]byte, wire.GroupNameLen+len(name))
	wire.PutFixedString(resp[:wire.GroupNameLen], c.groupName)
	copy(resp[wire.GroupNameLen:], name)
	return resp, nil
}

func (cs *CommandSet) handleActiveTest(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	return nil, nil
}

// handleReportServerID implements REPORT_SERVER_ID: id:16.
func (cs *CommandSet) handleReportServerID(ctx context.Context, c *Conn, body []byte) ([]byte, error) {
	if len(body) < 16 {
		return nil, fmt.Errorf("%w: report-server-id body too short", ferr.ErrProtocol)
	}
	c.serverID = wire.GetFixedString(body[:16])
	return nil, nil
}

func parseGroupAndName(body []byte) (string, error) {
	if len(body) < wire.GroupNameLen {
		return "", fmt.Errorf("%w: body too short for group", ferr.ErrProtocol)
	}
	return string(body[wire.GroupNameLen:]), nil
}

func parseNameLenSizeBody(body []byte) (nameLen, size int64, name string, data []byte, err error) {
	if len(body) < 16 {
		return 0, 0, "", nil, fmt.Errorf("%w: body too short", ferr.ErrProtocol)
	}
	nameLen = int64(binary.BigEndian.Uint64(body[0:8]))
	size = int64(binary.BigEndian.Uint64(body[8:16]))
	rest := body[16:]
	if int64(len(rest)) < nameLen {
		return 0, 0, "", nil, fmt.Errorf("%w: body too short for name", ferr.ErrProtocol)
	}
	name = string(rest[:nameLen])
	data = rest[nameLen:]
	return nameLen, size, name, data, nil
}

func (cs *CommandSet) physicalFromName(name string) (string, error) {
	f, err := fname.Decode(name)
	if err != nil {
		return "", err
	}
	sp, err := cs.Paths.StorePathByIndex(f.PathIndex)
	if err != nil {
		return "", err
	}
	return cs.Paths.Physical(sp, f)
}

// physicalFromAppenderName is physicalFromName plus the spec.md §4.D
// invariant that Append/Modify/Truncate are only legal on a file created
// via UPLOAD_APPENDER_FILE.
func (cs *CommandSet) physicalFromAppenderName(name string) (string, error) {
	f, err := fname.Decode(name)
	if err != nil {
		return "", err
	}
	if !f.IsAppender {
		return "", ferr.ErrNotAppender
	}
	sp, err := cs.Paths.StorePathByIndex(f.PathIndex)
	if err != nil {
		return "", err
	}
	return cs.Paths.Physical(sp, f)
}

func (cs *CommandSet) appendBinlog(op binlog.Op, name, aux string) error {
	if cs.Binlog == nil {
		return nil
	}
	if err := cs.Binlog.Append(binlog.Record{Timestamp: cs.now().Unix(), Op: op, Filename: name, Aux: aux}); err != nil {
		return fmt.Errorf("%w: %v", ferr.ErrFatal, err)
	}
	return nil
}
