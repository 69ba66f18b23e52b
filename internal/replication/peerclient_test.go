package replication

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/binlog"
	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/happyfish100/fastdfs-sub008/internal/wire"
	"github.com/stretchr/testify/require"
)

func serveOnce(t *testing.T, status uint8, respBody []byte, check func(hdr wire.Header, body []byte)) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()

		hdr, err := wire.ReadHeader(nc)
		if err != nil {
			return
		}
		body := make([]byte, hdr.BodyLen)
		if hdr.BodyLen > 0 {
			if err := readFullInto(nc, body); err != nil {
				return
			}
		}
		if check != nil {
			check(hdr, body)
		}
		_ = wire.WriteHeader(nc, wire.Header{BodyLen: int64(len(respBody)), Cmd: hdr.Cmd, Status: status})
		if len(respBody) > 0 {
			_, _ = nc.Write(respBody)
		}
	}()
	return ln
}

func TestSendCreateEncodesExpectedBody(t *testing.T) {
	var gotCmd uint8
	var gotBody []byte
	ln := serveOnce(t, 0, nil, func(hdr wire.Header, body []byte) {
		gotCmd = hdr.Cmd
		gotBody = body
	})
	defer ln.Close()

	c, err := DialPeer(context.Background(), ln.Addr().String(), "group1", time.Second)
	require.NoError(t, err)
	defer c.Close()

	rec := binlog.Record{Timestamp: 1700000000, Op: binlog.OpSourceCreate, Filename: "M00/00/00/abc.txt"}
	data := []byte("hello world")
	require.NoError(t, c.SendCreate(context.Background(), rec, data))

	require.Equal(t, wire.CmdSyncCreateFile, gotCmd)
	name := []byte(rec.Filename)
	require.Equal(t, uint64(len(name)), binary.BigEndian.Uint64(gotBody[0:8]))
	require.Equal(t, uint64(len(data)), binary.BigEndian.Uint64(gotBody[8:16]))
	require.Equal(t, uint32(rec.Timestamp), binary.BigEndian.Uint32(gotBody[16:20]))
	require.Equal(t, "group1", wire.GetFixedString(gotBody[20:20+wire.GroupNameLen]))
	off := 20 + wire.GroupNameLen
	require.Equal(t, rec.Filename, string(gotBody[off:off+len(name)]))
	require.Equal(t, data, gotBody[off+len(name):])
}

func TestSendDeleteEncodesExpectedBody(t *testing.T) {
	var gotBody []byte
	ln := serveOnce(t, 0, nil, func(hdr wire.Header, body []byte) { gotBody = body })
	defer ln.Close()

	c, err := DialPeer(context.Background(), ln.Addr().String(), "group1", time.Second)
	require.NoError(t, err)
	defer c.Close()

	rec := binlog.Record{Timestamp: 42, Op: binlog.OpSourceDelete, Filename: "M00/00/00/x.txt"}
	require.NoError(t, c.SendDelete(context.Background(), rec))

	require.Equal(t, uint32(42), binary.BigEndian.Uint32(gotBody[0:4]))
	require.Equal(t, "group1", wire.GetFixedString(gotBody[4:4+wire.GroupNameLen]))
	require.Equal(t, rec.Filename, string(gotBody[4+wire.GroupNameLen:]))
}

func TestRoundTripTranslatesAlreadyExistsStatus(t *testing.T) {
	ln := serveOnce(t, uint8(ferr.StatusEEXIST), nil, nil)
	defer ln.Close()

	c, err := DialPeer(context.Background(), ln.Addr().String(), "group1", time.Second)
	require.NoError(t, err)
	defer c.Close()

	rec := binlog.Record{Timestamp: 1, Op: binlog.OpSourceCreate, Filename: "a"}
	err = c.SendCreate(context.Background(), rec, []byte("x"))
	require.ErrorIs(t, err, ferr.ErrAlreadyExists)
}

func TestRoundTripTranslatesNotFoundStatus(t *testing.T) {
	ln := serveOnce(t, uint8(ferr.StatusENOENT), nil, nil)
	defer ln.Close()

	c, err := DialPeer(context.Background(), ln.Addr().String(), "group1", time.Second)
	require.NoError(t, err)
	defer c.Close()

	rec := binlog.Record{Timestamp: 1, Op: binlog.OpSourceDelete, Filename: "a"}
	err = c.SendDelete(context.Background(), rec)
	require.ErrorIs(t, err, ferr.ErrNotFound)
}
