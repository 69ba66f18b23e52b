package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/happyfish100/fastdfs-sub008/internal/trackerproto"
	"github.com/happyfish100/fastdfs-sub008/internal/wire"
)

// TCPClient is the Client implementation for one tracker server
// connection, reusing internal/wire's framing and internal/trackerproto's
// command bytes. The tracker is treated as an opaque, authoritative RPC
// peer (spec.md §6): this client only frames/parses enough to drive the
// Reporter's join/heartbeat/report cycle.
type TCPClient struct {
	addr    string
	dial    func(ctx context.Context, addr string) (net.Conn, error)
	timeout time.Duration

	conn net.Conn
}

// NewTCPClient creates a client dialing addr on demand.
func NewTCPClient(addr string, timeout time.Duration) *TCPClient {
	return &TCPClient{
		addr:    addr,
		timeout: timeout,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

func (c *TCPClient) ensureConn(ctx context.Context) (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	nc, err := c.dial(ctx, c.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial tracker %s: %v", ferr.ErrRemotePeerDown, c.addr, err)
	}
	c.conn = nc
	return nc, nil
}

func (c *TCPClient) roundTrip(ctx context.Context, cmd uint8, body []byte) (wire.Header, []byte, error) {
	nc, err := c.ensureConn(ctx)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if c.timeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := wire.WriteHeader(nc, wire.Header{BodyLen: int64(len(body)), Cmd: cmd}); err != nil {
		c.Close()
		return wire.Header{}, nil, fmt.Errorf("%w: write request: %v", ferr.ErrRemotePeerDown, err)
	}
	if len(body) > 0 {
		if _, err := nc.Write(body); err != nil {
			c.Close()
			return wire.Header{}, nil, fmt.Errorf("%w: write body: %v", ferr.ErrRemotePeerDown, err)
		}
	}
	hdr, err := wire.ReadHeader(nc)
	if err != nil {
		c.Close()
		return wire.Header{}, nil, fmt.Errorf("%w: read response: %v", ferr.ErrRemotePeerDown, err)
	}
	resp := make([]byte, hdr.BodyLen)
	if hdr.BodyLen > 0 {
		if _, err := readFull(nc, resp); err != nil {
			c.Close()
			return wire.Header{}, nil, fmt.Errorf("%w: read response body: %v", ferr.ErrRemotePeerDown, err)
		}
	}
	if hdr.Status != 0 {
		return hdr, resp, fmt.Errorf("%w: tracker status %d", ferr.ErrRemotePeerDown, hdr.Status)
	}
	return hdr, resp, nil
}

func readFull(nc net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := nc.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Join implements Client.
func (c *TCPClient) Join(ctx context.Context, group string, storePathCount int) (JoinAnswer, error) {
	body := make([]byte, wire.GroupNameLen+1)
	wire.PutFixedString(body[:wire.GroupNameLen], group)
	body[wire.GroupNameLen] = byte(storePathCount)

	_, resp, err := c.roundTrip(ctx, trackerproto.CmdStorageJoin, body)
	if err != nil {
		return JoinAnswer{}, err
	}
	if len(resp) < wire.GroupNameLen+9 {
		return JoinAnswer{}, fmt.Errorf("%w: short join response", ferr.ErrProtocol)
	}
	srcID := wire.GetFixedString(resp[:wire.GroupNameLen])
	untilTS := int64(binary.BigEndian.Uint64(resp[wire.GroupNameLen : wire.GroupNameLen+8]))
	status := PeerStatus(resp[wire.GroupNameLen+8])
	return JoinAnswer{SyncSrcID: srcID, UntilTS: untilTS, Status: status}, nil
}

func encodeStats(stats []PathUsage) []byte {
	body := make([]byte, 1+len(stats)*17)
	body[0] = byte(len(stats))
	off := 1
	for _, s := range stats {
		body[off] = s.PathIndex
		binary.BigEndian.PutUint64(body[off+1:off+9], uint64(s.FreeMB))
		binary.BigEndian.PutUint64(body[off+9:off+17], uint64(s.TotalMB))
		off += 17
	}
	return body
}

// HeartBeat implements Client.
func (c *TCPClient) HeartBeat(ctx context.Context, stats []PathUsage) (ResponseFlags, []PeerInfo, error) {
	_, resp, err := c.roundTrip(ctx, trackerproto.CmdStorageBeat, encodeStats(stats))
	if err != nil {
		return ResponseFlags{}, nil, err
	}
	if len(resp) < 1 {
		return ResponseFlags{}, nil, nil
	}
	leader, trunk, group := trackerproto.DecodeResponseFlags(resp[0])
	flags := ResponseFlags{ChangeTrackerLeader: leader, ChangeTrunkServer: trunk, ChangeGroupServer: group}

	peers, err := decodePeers(resp[1:])
	if err != nil {
		return flags, nil, err
	}
	return flags, peers, nil
}

func decodePeers(b []byte) ([]PeerInfo, error) {
	const peerLen = wire.GroupNameLen + wire.GroupNameLen + 1 + 8
	if len(b) < 2 {
		return nil, nil
	}
	count := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < count*peerLen {
		return nil, fmt.Errorf("%w: short peer list", ferr.ErrProtocol)
	}
	out := make([]PeerInfo, 0, count)
	off := 0
	for i := 0; i < count; i++ {
		id := wire.GetFixedString(b[off : off+wire.GroupNameLen])
		ip := wire.GetFixedString(b[off+wire.GroupNameLen : off+2*wire.GroupNameLen])
		status := PeerStatus(b[off+2*wire.GroupNameLen])
		ts := int64(binary.BigEndian.Uint64(b[off+2*wire.GroupNameLen+1 : off+peerLen]))
		out = append(out, PeerInfo{ID: id, IP: ip, Status: status, LastSyncSrcTimestamp: ts})
		off += peerLen
	}
	return out, nil
}

// ReportDiskUsage implements Client.
func (c *TCPClient) ReportDiskUsage(ctx context.Context, stats []PathUsage) error {
	_, _, err := c.roundTrip(ctx, trackerproto.CmdStorageReportDiskUsage, encodeStats(stats))
	return err
}

// ReportSyncTimestamps implements Client.
func (c *TCPClient) ReportSyncTimestamps(ctx context.Context, peers []PeerInfo) error {
	body := make([]byte, 2+len(peers)*(wire.GroupNameLen+8))
	binary.BigEndian.PutUint16(body[:2], uint16(len(peers)))
	off := 2
	for _, p := range peers {
		wire.PutFixedString(body[off:off+wire.GroupNameLen], p.ID)
		binary.BigEndian.PutUint64(body[off+wire.GroupNameLen:off+wire.GroupNameLen+8], uint64(p.LastSyncSrcTimestamp))
		off += wire.GroupNameLen + 8
	}
	_, _, err := c.roundTrip(ctx, trackerproto.CmdStorageSyncReport, body)
	return err
}

// Close implements Client.
func (c *TCPClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
