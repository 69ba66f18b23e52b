package binlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(Record{Timestamp: 100, Op: OpSourceCreate, Filename: "M00/00/00/abc.txt"}))
	require.NoError(t, w.Flush())

	r, err := OpenReader(dir, 0, 0)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.ReadNext(w.CurrentIndex())
	require.NoError(t, err)
	assert.Equal(t, OpSourceCreate, rec.Op)
	assert.Equal(t, "M00/00/00/abc.txt", rec.Filename)

	_, err = r.ReadNext(w.CurrentIndex())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestParseRecordRejectsMalformed(t *testing.T) {
	_, err := ParseRecord("not-enough-fields")
	assert.Error(t, err)
}

func TestReaderRollsAcrossRotatedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binlog.000"), []byte("1 C a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binlog.001"), []byte("2 C b\n"), 0o644))

	r, err := OpenReader(dir, 0, 0)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.ReadNext(1)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Filename)

	rec, err = r.ReadNext(1)
	require.NoError(t, err)
	assert.Equal(t, "b", rec.Filename)
	assert.Equal(t, 1, r.index)
}

func TestCheckpointSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cp := Checkpoint{PeerID: "peer1", BinlogIndex: 3, BinlogOffset: 128, NeedSyncOld: true, UntilTimestamp: 555}
	require.NoError(t, cp.Save(dir))

	got, err := LoadCheckpoint(dir, "peer1")
	require.NoError(t, err)
	assert.Equal(t, cp.BinlogIndex, got.BinlogIndex)
	assert.Equal(t, cp.BinlogOffset, got.BinlogOffset)
	assert.True(t, got.NeedSyncOld)
	assert.Equal(t, cp.UntilTimestamp, got.UntilTimestamp)
}

func TestLoadCheckpointMissingReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	got, err := LoadCheckpoint(dir, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, got.BinlogIndex)
}

func TestCheckpointWriterThrottles(t *testing.T) {
	dir := t.TempDir()
	w := NewCheckpointWriter(dir, 10)
	cp := Checkpoint{PeerID: "p"}

	require.NoError(t, w.RecordsSynced(cp, 3, false))
	_, err := os.Stat(markPath(dir, "p"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, w.RecordsSynced(cp, 8, false))
	_, err = os.Stat(markPath(dir, "p"))
	assert.NoError(t, err)
}

func TestCompressSkipsMinLiveIndex(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, nil)
	require.NoError(t, err)
	require.NoError(t, w.Append(Record{Timestamp: 1, Op: OpSourceCreate, Filename: "x"}))
	require.NoError(t, w.Flush())
	w.Close()

	require.NoError(t, Compress(dir, 0))
	_, err = os.Stat(filepath.Join(dir, "binlog.000"))
	assert.NoError(t, err, "binlog.000 is the minimum live reader index and must not be compressed")
}
