// Package fname implements the Path Layout & Filename Codec component
// (spec.md §4.A): mapping logical file IDs to on-disk paths, and
// encoding/decoding the self-describing logical filename exchanged on the
// wire.
//
// The logical filename is:
//
//	M<path-index:2hex>/<dir-high:2hex>/<dir-low:2hex>/<encoded-core>.<ext>
//
// where <encoded-core> is a URL-safe-ish base64 variant (alphabet using
// '-' and '_', padding character '.') of a fixed binary layout carrying
// path-index, upload timestamp, file size, crc32, source-storage id, the
// two directory indices, a random component and (when the file lives in a
// trunk) the trunk id and the slot's offset inside the trunk file.
package fname

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
)

// coreEncoding is FastDFS's base64 variant: alphabet with '-'/'_' standing
// in for '+'/'/', and '.' used as the padding character instead of '='.
var coreEncoding = base64.NewEncoding(
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_",
).WithPadding('.')

// MaxPathIndex is the largest representable store-path index (spec.md §3:
// "One of up to 256 local base directories").
const MaxPathIndex = 255

// coreLen is the fixed length of the binary core before base64 encoding:
// pathIndex(1) + ts(4) + size(8) + crc32(4) + sourceID(4) + dirHigh(1) +
// dirLow(1) + random(2) + flags(1) = 26 bytes, plus 8 more
// (trunkID(4)+trunkOffset(4)) when the trunk flag bit is set.
const coreLenBase = 26
const coreLenTrunk = coreLenBase + 8

// flags byte bits (buf[25]).
const (
	flagTrunk    = 1 << 0
	flagAppender = 1 << 1
)

// Fields is the fully decoded content of a logical filename.
type Fields struct {
	PathIndex   uint8
	Timestamp   uint32
	FileSize    uint64
	CRC32       uint32
	SourceID    uint32
	DirHigh     uint8
	DirLow      uint8
	Random      uint16
	IsTrunk     bool
	IsAppender  bool
	TrunkID     uint32
	TrunkOffset uint32
	Ext         string
}

// Encode renders f as the wire logical filename. Ext is truncated to 6
// bytes as the wire format reserves (spec.md §6 ext-name:6).
func Encode(f Fields) (string, error) {
	core, ext, err := encodeCoreAndExt(f)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("M%02X/%02X/%02X/%s.%s", f.PathIndex, f.DirHigh, f.DirLow, core, ext)
	return name, nil
}

// OnDiskName returns the filename component stored under
// <store-path>/data/XX/YY/ — the logical name minus its "M<pp>/XX/YY/"
// routing prefix.
func OnDiskName(f Fields) (string, error) {
	core, ext, err := encodeCoreAndExt(f)
	if err != nil {
		return "", err
	}
	return core + "." + ext, nil
}

func encodeCoreAndExt(f Fields) (core, ext string, err error) {
	if f.PathIndex > MaxPathIndex {
		return "", "", fmt.Errorf("%w: path index %d out of range", ferr.ErrInvalidFilename, f.PathIndex)
	}
	ext = f.Ext
	if len(ext) > 6 {
		ext = ext[:6]
	}

	n := coreLenBase
	if f.IsTrunk {
		n = coreLenTrunk
	}
	buf := make([]byte, n)
	buf[0] = f.PathIndex
	binary.BigEndian.PutUint32(buf[1:5], f.Timestamp)
	binary.BigEndian.PutUint64(buf[5:13], f.FileSize)
	binary.BigEndian.PutUint32(buf[13:17], f.CRC32)
	binary.BigEndian.PutUint32(buf[17:21], f.SourceID)
	buf[21] = f.DirHigh
	buf[22] = f.DirLow
	binary.BigEndian.PutUint16(buf[23:25], f.Random)
	var flags uint8
	if f.IsTrunk {
		flags |= flagTrunk
		binary.BigEndian.PutUint32(buf[26:30], f.TrunkID)
		binary.BigEndian.PutUint32(buf[30:34], f.TrunkOffset)
	}
	if f.IsAppender {
		flags |= flagAppender
	}
	buf[25] = flags

	core = coreEncoding.EncodeToString(buf)
	return core, ext, nil
}

// Decode parses a logical filename produced by Encode, validating that the
// embedded path-index is within range. It does not check whether the path
// index is locally known; callers combine Decode with a store-path lookup
// for that (ErrUnknownPath).
func Decode(name string) (Fields, error) {
	// name = M<pp>/<XX>/<YY>/<core>.<ext>
	if len(name) < 1 || name[0] != 'M' {
		return Fields{}, fmt.Errorf("%w: missing leading M", ferr.ErrInvalidFilename)
	}
	parts := splitPath(name[1:])
	if len(parts) != 4 {
		return Fields{}, fmt.Errorf("%w: malformed logical name %q", ferr.ErrInvalidFilename, name)
	}
	ppStr, xxStr, yyStr, coreAndExt := parts[0], parts[1], parts[2], parts[3]
	if len(ppStr) != 2 || len(xxStr) != 2 || len(yyStr) != 2 {
		return Fields{}, fmt.Errorf("%w: malformed logical name %q", ferr.ErrInvalidFilename, name)
	}

	dotIdx := lastIndexByte(coreAndExt, '.')
	// The padding char '.' can also appear as the base64 pad, but FastDFS
	// extensions never contain '.' themselves, so the name is split on
	// its LAST dot.
	var coreStr, ext string
	if dotIdx >= 0 {
		coreStr, ext = coreAndExt[:dotIdx], coreAndExt[dotIdx+1:]
	} else {
		coreStr = coreAndExt
	}

	var pathIndex uint8
	if _, err := fmt.Sscanf(ppStr, "%X", &pathIndex); err != nil {
		return Fields{}, fmt.Errorf("%w: bad path index %q", ferr.ErrInvalidFilename, ppStr)
	}
	var dirHigh, dirLow uint8
	if _, err := fmt.Sscanf(xxStr, "%X", &dirHigh); err != nil {
		return Fields{}, fmt.Errorf("%w: bad dir-high %q", ferr.ErrInvalidFilename, xxStr)
	}
	if _, err := fmt.Sscanf(yyStr, "%X", &dirLow); err != nil {
		return Fields{}, fmt.Errorf("%w: bad dir-low %q", ferr.ErrInvalidFilename, yyStr)
	}

	buf, err := coreEncoding.DecodeString(coreStr)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: base64 decode: %v", ferr.ErrInvalidFilename, err)
	}
	if len(buf) != coreLenBase && len(buf) != coreLenTrunk {
		return Fields{}, fmt.Errorf("%w: bad core length %d", ferr.ErrInvalidFilename, len(buf))
	}

	f := Fields{
		PathIndex: buf[0],
		Timestamp: binary.BigEndian.Uint32(buf[1:5]),
		FileSize:  binary.BigEndian.Uint64(buf[5:13]),
		CRC32:     binary.BigEndian.Uint32(buf[13:17]),
		SourceID:  binary.BigEndian.Uint32(buf[17:21]),
		DirHigh:   buf[21],
		DirLow:    buf[22],
		Random:    binary.BigEndian.Uint16(buf[23:25]),
		Ext:       ext,
	}
	flags := buf[25]
	f.IsAppender = flags&flagAppender != 0
	if flags&flagTrunk != 0 {
		if len(buf) != coreLenTrunk {
			return Fields{}, fmt.Errorf("%w: trunk flag set but short core", ferr.ErrInvalidFilename)
		}
		f.IsTrunk = true
		f.TrunkID = binary.BigEndian.Uint32(buf[26:30])
		f.TrunkOffset = binary.BigEndian.Uint32(buf[30:34])
	}

	if f.PathIndex != pathIndex || f.DirHigh != dirHigh || f.DirLow != dirLow {
		return Fields{}, fmt.Errorf("%w: header/core field mismatch", ferr.ErrInvalidFilename)
	}
	if f.PathIndex > MaxPathIndex {
		return Fields{}, fmt.Errorf("%w: path index %d out of range", ferr.ErrInvalidFilename, f.PathIndex)
	}
	return f, nil
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// splitPath splits s on '/'.
func splitPath(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
