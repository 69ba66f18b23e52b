// Package wire implements the storage node's TCP wire framing: a fixed
// 10-byte header followed by a body, exactly as specified for the storage
// port protocol. It holds only the framing and command-byte constants;
// per-command body layouts live in internal/fsm next to the handlers that
// interpret them.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
)

// HeaderLen is the fixed wire header size: body_len(8) + cmd(1) + status(1).
const HeaderLen = 10

// Command bytes, stable across protocol versions (spec.md §6).
const (
	CmdUploadFile          = 11
	CmdDeleteFile          = 12
	CmdGetMetadata         = 13
	CmdDownloadFile        = 14
	CmdSetMetadata         = 15
	CmdCreateLink          = 16
	CmdUploadSlaveFile     = 21
	CmdQueryFileInfo       = 22
	CmdUploadAppenderFile  = 23
	CmdAppendFile          = 24
	CmdModifyFile          = 34
	CmdTruncateFile        = 36
	CmdRenameFile          = 38
	CmdSyncCreateFile      = 80
	CmdSyncDeleteFile      = 81
	CmdSyncUpdateFile      = 82
	CmdSyncAppendFile      = 83
	CmdSyncModifyFile      = 84
	CmdSyncTruncateFile    = 85
	CmdSyncCreateLink      = 86
	CmdSyncRenameFile      = 87
	CmdReportServerID      = 93
	CmdQuit                = 61
	CmdActiveTest          = 62
)

// GroupNameLen and related fixed-width wire fields.
const (
	GroupNameLen = 16
	ExtNameLen   = 6
)

// Header is the 10-byte frame header shared by every request/response.
type Header struct {
	BodyLen int64
	Cmd     uint8
	Status  uint8
}

// Encode writes h onto the wire in big-endian form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.BodyLen))
	buf[8] = h.Cmd
	buf[9] = h.Status
	return buf
}

// ReadHeader reads and decodes one 10-byte header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	bodyLen := int64(binary.BigEndian.Uint64(buf[0:8]))
	if bodyLen < 0 {
		return Header{}, fmt.Errorf("%w: negative body length %d", ferr.ErrProtocol, bodyLen)
	}
	return Header{BodyLen: bodyLen, Cmd: buf[8], Status: buf[9]}, nil
}

// WriteHeader writes h to w.
func WriteHeader(w io.Writer, h Header) error {
	_, err := w.Write(h.Encode())
	return err
}

// PutFixedString writes s into a fixed-width field, NUL-padding or
// truncating as FastDFS does for group names and extensions.
func PutFixedString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

// GetFixedString trims trailing NUL/space padding from a fixed-width field.
func GetFixedString(src []byte) string {
	n := len(src)
	for n > 0 && (src[n-1] == 0 || src[n-1] == ' ') {
		n--
	}
	return string(src[:n])
}
