package replication

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/binlog"
	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/happyfish100/fastdfs-sub008/internal/wire"
)

// TCPPeerClient implements PeerClient by speaking the SYNC_* commands
// (spec.md §6) over a single TCP connection to the peer's storage port —
// the exact wire bodies internal/fsm's handleSync* handlers parse.
type TCPPeerClient struct {
	nc      net.Conn
	group   string
	timeout time.Duration
}

// DialPeer opens a TCPPeerClient against addr.
func DialPeer(ctx context.Context, addr, group string, timeout time.Duration) (*TCPPeerClient, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial peer %s: %v", ferr.ErrRemotePeerDown, addr, err)
	}
	return &TCPPeerClient{nc: nc, group: group, timeout: timeout}, nil
}

func (c *TCPPeerClient) roundTrip(cmd uint8, body []byte) ([]byte, error) {
	if c.timeout > 0 {
		_ = c.nc.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := wire.WriteHeader(c.nc, wire.Header{BodyLen: int64(len(body)), Cmd: cmd}); err != nil {
		return nil, fmt.Errorf("%w: write header: %v", ferr.ErrRemotePeerDown, err)
	}
	if len(body) > 0 {
		if _, err := c.nc.Write(body); err != nil {
			return nil, fmt.Errorf("%w: write body: %v", ferr.ErrRemotePeerDown, err)
		}
	}
	hdr, err := wire.ReadHeader(c.nc)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ferr.ErrRemotePeerDown, err)
	}
	resp := make([]byte, hdr.BodyLen)
	if hdr.BodyLen > 0 {
		if err := readFullInto(c.nc, resp); err != nil {
			return nil, fmt.Errorf("%w: read response body: %v", ferr.ErrRemotePeerDown, err)
		}
	}
	if hdr.Status == uint8(ferr.StatusEEXIST) {
		return resp, ferr.ErrAlreadyExists
	}
	if hdr.Status == uint8(ferr.StatusENOENT) {
		return resp, ferr.ErrNotFound
	}
	if hdr.Status != 0 {
		return resp, fmt.Errorf("%w: peer status %d", ferr.ErrRemotePeerDown, hdr.Status)
	}
	return resp, nil
}

func readFullInto(nc net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := nc.Read(buf[total:])
		total += n
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *TCPPeerClient) groupField() []byte {
	b := make([]byte, wire.GroupNameLen)
	wire.PutFixedString(b, c.group)
	return b
}

// ReportServerID implements PeerClient.
func (c *TCPPeerClient) ReportServerID(ctx context.Context, id string) error {
	body := make([]byte, 16)
	wire.PutFixedString(body, id)
	_, err := c.roundTrip(wire.CmdReportServerID, body)
	return err
}

// SendCreate implements PeerClient, encoding SYNC_CREATE_FILE.
func (c *TCPPeerClient) SendCreate(ctx context.Context, rec binlog.Record, data []byte) error {
	return c.sendCreateLike(wire.CmdSyncCreateFile, rec, data)
}

// SendUpdate implements PeerClient, encoding SYNC_UPDATE_FILE (same
// wire layout as SYNC_CREATE_FILE per spec.md §6).
func (c *TCPPeerClient) SendUpdate(ctx context.Context, rec binlog.Record, data []byte) error {
	return c.sendCreateLike(wire.CmdSyncUpdateFile, rec, data)
}

func (c *TCPPeerClient) sendCreateLike(cmd uint8, rec binlog.Record, data []byte) error {
	name := []byte(rec.Filename)
	body := make([]byte, 16+4+wire.GroupNameLen+len(name)+len(data))
	binary.BigEndian.PutUint64(body[0:8], uint64(len(name)))
	binary.BigEndian.PutUint64(body[8:16], uint64(len(data)))
	binary.BigEndian.PutUint32(body[16:20], uint32(rec.Timestamp))
	copy(body[20:20+wire.GroupNameLen], c.groupField())
	off := 20 + wire.GroupNameLen
	copy(body[off:off+len(name)], name)
	copy(body[off+len(name):], data)
	_, err := c.roundTrip(cmd, body)
	return err
}

// SendAppendOrModify implements PeerClient, encoding SYNC_APPEND_FILE, or
// SYNC_MODIFY_FILE (same layout) for a modify record.
func (c *TCPPeerClient) SendAppendOrModify(ctx context.Context, rec binlog.Record, offset int64, data []byte) error {
	name := []byte(rec.Filename)
	body := make([]byte, 24+4+wire.GroupNameLen+len(name)+len(data))
	binary.BigEndian.PutUint64(body[0:8], uint64(len(name)))
	binary.BigEndian.PutUint64(body[8:16], uint64(offset))
	binary.BigEndian.PutUint64(body[16:24], uint64(len(data)))
	binary.BigEndian.PutUint32(body[24:28], uint32(rec.Timestamp))
	copy(body[28:28+wire.GroupNameLen], c.groupField())
	off := 28 + wire.GroupNameLen
	copy(body[off:off+len(name)], name)
	copy(body[off+len(name):], data)
	cmd := wire.CmdSyncAppendFile
	if rec.Op == binlog.OpSourceModify || rec.Op == binlog.OpReplicaModify {
		cmd = wire.CmdSyncModifyFile
	}
	_, err := c.roundTrip(cmd, body)
	return err
}

// SendTruncate implements PeerClient, encoding SYNC_TRUNCATE_FILE.
func (c *TCPPeerClient) SendTruncate(ctx context.Context, rec binlog.Record, oldSize, newSize int64) error {
	name := []byte(rec.Filename)
	body := make([]byte, 24+4+wire.GroupNameLen+len(name))
	binary.BigEndian.PutUint64(body[0:8], uint64(len(name)))
	binary.BigEndian.PutUint64(body[8:16], uint64(oldSize))
	binary.BigEndian.PutUint64(body[16:24], uint64(newSize))
	binary.BigEndian.PutUint32(body[24:28], uint32(rec.Timestamp))
	copy(body[28:28+wire.GroupNameLen], c.groupField())
	copy(body[28+wire.GroupNameLen:], name)
	_, err := c.roundTrip(wire.CmdSyncTruncateFile, body)
	return err
}

// SendDelete implements PeerClient, encoding SYNC_DELETE_FILE.
func (c *TCPPeerClient) SendDelete(ctx context.Context, rec binlog.Record) error {
	name := []byte(rec.Filename)
	body := make([]byte, 4+wire.GroupNameLen+len(name))
	binary.BigEndian.PutUint32(body[0:4], uint32(rec.Timestamp))
	copy(body[4:4+wire.GroupNameLen], c.groupField())
	copy(body[4+wire.GroupNameLen:], name)
	_, err := c.roundTrip(wire.CmdSyncDeleteFile, body)
	return err
}

// SendRename implements PeerClient, encoding SYNC_RENAME_FILE. rec.Aux
// carries the old (source) name, rec.Filename the new (dest) name, the
// same orientation internal/fsm's handleRename logs with.
func (c *TCPPeerClient) SendRename(ctx context.Context, rec binlog.Record) error {
	dest := []byte(rec.Filename)
	src := []byte(rec.Aux)
	body := make([]byte, 16+4+wire.GroupNameLen+len(dest)+len(src))
	binary.BigEndian.PutUint64(body[0:8], uint64(len(dest)))
	binary.BigEndian.PutUint64(body[8:16], uint64(len(src)))
	binary.BigEndian.PutUint32(body[16:20], uint32(rec.Timestamp))
	copy(body[20:20+wire.GroupNameLen], c.groupField())
	off := 20 + wire.GroupNameLen
	copy(body[off:off+len(dest)], dest)
	copy(body[off+len(dest):], src)
	_, err := c.roundTrip(wire.CmdSyncRenameFile, body)
	return err
}

// SendLink implements PeerClient, encoding SYNC_CREATE_LINK with the
// same layout as SendRename (dest/src pair), since a symlink sync
// carries no payload bytes either.
func (c *TCPPeerClient) SendLink(ctx context.Context, rec binlog.Record) error {
	dest := []byte(rec.Filename)
	src := []byte(rec.Aux)
	body := make([]byte, 16+4+wire.GroupNameLen+len(dest)+len(src))
	binary.BigEndian.PutUint64(body[0:8], uint64(len(dest)))
	binary.BigEndian.PutUint64(body[8:16], uint64(len(src)))
	binary.BigEndian.PutUint32(body[16:20], uint32(rec.Timestamp))
	copy(body[20:20+wire.GroupNameLen], c.groupField())
	off := 20 + wire.GroupNameLen
	copy(body[off:off+len(dest)], dest)
	copy(body[off+len(dest):], src)
	_, err := c.roundTrip(wire.CmdSyncCreateLink, body)
	return err
}

// Close implements PeerClient.
func (c *TCPPeerClient) Close() error {
	return c.nc.Close()
}
