package fname

import (
	"testing"

	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Fields{
		{PathIndex: 0, Timestamp: 1, FileSize: 5, CRC32: 0xdeadbeef, SourceID: 7, DirHigh: 0x00, DirLow: 0x00, Random: 42, Ext: "txt"},
		{PathIndex: 255, Timestamp: 4000000000, FileSize: 1 << 40, CRC32: 0, SourceID: 0xffffffff, DirHigh: 0xFF, DirLow: 0xFF, Random: 65535, Ext: "jpeg"},
		{PathIndex: 3, Timestamp: 123, FileSize: 64 * 1024 * 1024, CRC32: 99, SourceID: 1, DirHigh: 0x1A, DirLow: 0x2B, Random: 7, Ext: "", IsTrunk: true, TrunkID: 42, TrunkOffset: 8192},
		{PathIndex: 1, Timestamp: 9, FileSize: 0, CRC32: 1, SourceID: 2, DirHigh: 0x03, DirLow: 0x04, Random: 5, Ext: "dat", IsAppender: true},
	}
	for _, f := range cases {
		name, err := Encode(f)
		require.NoError(t, err)

		got, err := Decode(name)
		require.NoError(t, err)
		assert.Equal(t, f.PathIndex, got.PathIndex)
		assert.Equal(t, f.Timestamp, got.Timestamp)
		assert.Equal(t, f.FileSize, got.FileSize)
		assert.Equal(t, f.CRC32, got.CRC32)
		assert.Equal(t, f.SourceID, got.SourceID)
		assert.Equal(t, f.DirHigh, got.DirHigh)
		assert.Equal(t, f.DirLow, got.DirLow)
		assert.Equal(t, f.Random, got.Random)
		assert.Equal(t, f.IsTrunk, got.IsTrunk)
		assert.Equal(t, f.IsAppender, got.IsAppender)
		if f.IsTrunk {
			assert.Equal(t, f.TrunkID, got.TrunkID)
			assert.Equal(t, f.TrunkOffset, got.TrunkOffset)
		}
		assert.Equal(t, f.Ext, got.Ext)

		// decode(encode(y)) == y round trip via re-encoding the decoded
		// fields and comparing wire strings.
		name2, err := Encode(got)
		require.NoError(t, err)
		assert.Equal(t, name, name2)
	}
}

func TestDecodeRejectsPrefixCoreMismatch(t *testing.T) {
	f := Fields{PathIndex: 0, DirHigh: 1, DirLow: 1, Ext: "txt"}
	name, err := Encode(f)
	require.NoError(t, err)
	// Corrupt the embedded path-index prefix so it no longer matches the
	// (valid) encoded core -> mismatch error, not a panic.
	corrupted := "M99" + name[3:]
	_, err = Decode(corrupted)
	assert.Error(t, err)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, bad := range []string{
		"",
		"not-an-M-prefixed-name",
		"M00/XX",
		"M00/00/00/not-valid-base64!!!.txt",
	} {
		_, err := Decode(bad)
		assert.Error(t, err, "expected error decoding %q", bad)
	}
}

func TestPickerRoundRobin(t *testing.T) {
	paths := []StorePath{{Index: 0}, {Index: 1}, {Index: 2}}
	p := NewPicker(RoundRobin, paths, 2, 0, nil)
	var got []uint8
	for i := 0; i < 9; i++ {
		idx, err := p.Pick()
		require.NoError(t, err)
		got = append(got, idx)
	}
	assert.Equal(t, []uint8{0, 0, 1, 1, 2, 2, 0, 0, 1}, got)
}

func TestPickerLoadBalanceNoSpace(t *testing.T) {
	paths := []StorePath{{Index: 0}, {Index: 1}}
	stats := map[uint8]PathStats{
		0: {FreeMB: 10, TotalMB: 100},
		1: {FreeMB: 5, TotalMB: 100},
	}
	p := NewPicker(LoadBalance, paths, 1, 20, func(idx uint8) (PathStats, bool) {
		s, ok := stats[idx]
		return s, ok
	})
	_, err := p.Pick()
	assert.ErrorIs(t, err, ferr.ErrNoSpace)
}
