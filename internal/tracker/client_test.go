package tracker

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/trackerproto"
	"github.com/happyfish100/fastdfs-sub008/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestTCPClientJoinDecodesResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()

		hdr, err := wire.ReadHeader(nc)
		if err != nil || hdr.Cmd != trackerproto.CmdStorageJoin {
			return
		}
		body := make([]byte, hdr.BodyLen)
		_, _ = readFullBody(nc, body)

		resp := make([]byte, wire.GroupNameLen+9)
		wire.PutFixedString(resp[:wire.GroupNameLen], "peer9")
		binary.BigEndian.PutUint64(resp[wire.GroupNameLen:wire.GroupNameLen+8], 12345)
		resp[wire.GroupNameLen+8] = byte(StatusActive)

		_ = wire.WriteHeader(nc, wire.Header{BodyLen: int64(len(resp)), Cmd: hdr.Cmd})
		_, _ = nc.Write(resp)
	}()

	client := NewTCPClient(ln.Addr().String(), 2*time.Second)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	answer, err := client.Join(ctx, "group1", 2)
	require.NoError(t, err)
	require.Equal(t, "peer9", answer.SyncSrcID)
	require.Equal(t, int64(12345), answer.UntilTS)
	require.Equal(t, StatusActive, answer.Status)
}

func readFullBody(nc net.Conn, buf []byte) (int, error) {
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
