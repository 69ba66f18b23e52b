package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/happyfish100/fastdfs-sub008/internal/binlog"
	"github.com/happyfish100/fastdfs-sub008/internal/ferr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	peerID         string
	reportedActive bool
	fetchErr       error
}

func (f *fakeTracker) ActivePeer(ctx context.Context) (string, error) {
	return f.peerID, nil
}

func (f *fakeTracker) FetchPathBinlog(ctx context.Context, peerID string, pathIndex uint8, dest string) error {
	return f.fetchErr
}

func (f *fakeTracker) ReportActive(ctx context.Context) error {
	f.reportedActive = true
	return nil
}

type fakeSource struct {
	files map[string][]byte
}

func (f *fakeSource) DownloadFile(ctx context.Context, name string) ([]byte, time.Time, error) {
	data, ok := f.files[name]
	if !ok {
		return nil, time.Time{}, ferr.ErrNotFound
	}
	return data, time.Unix(42, 0), nil
}

type fakeWriter struct {
	written map[string][]byte
}

func (f *fakeWriter) WriteFileWithMtime(ctx context.Context, localPath string, data []byte, mtime time.Time) error {
	if f.written == nil {
		f.written = make(map[string][]byte)
	}
	f.written[localPath] = data
	return nil
}

func seedRecoveryBinlog(t *testing.T, dir string, recs []binlog.Record) {
	t.Helper()
	w, err := binlog.NewWriter(dir, nil)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
}

func TestRecoverDownloadsReferencedFilesAndSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	seedRecoveryBinlog(t, dir, []binlog.Record{
		{Timestamp: 1, Op: binlog.OpSourceCreate, Filename: "M00/00/00/a.txt"},
		{Timestamp: 2, Op: binlog.OpSourceCreate, Filename: "M00/00/00/missing.txt"},
	})

	tracker := &fakeTracker{peerID: "peer1"}
	source := &fakeSource{files: map[string][]byte{
		"M00/00/00/a.txt": []byte("hello"),
	}}
	writer := &fakeWriter{}

	markPath := filepath.Join(dir, ".recovery.mark")
	err := Recover(context.Background(), 0, tracker,
		func(peerID string) (SourcePeer, error) { return source, nil },
		func(name string) (string, error) { return filepath.Join(dir, "out", name), nil },
		writer, dir, markPath)

	require.NoError(t, err)
	assert.True(t, tracker.reportedActive)
	assert.Equal(t, []byte("hello"), writer.written[filepath.Join(dir, "out", "M00/00/00/a.txt")])
	assert.NotContains(t, writer.written, filepath.Join(dir, "out", "M00/00/00/missing.txt"))

	_, err = os.Stat(markPath)
	assert.True(t, os.IsNotExist(err), "mark file should be removed on successful completion")
}

func TestRecoverPropagatesFetchError(t *testing.T) {
	dir := t.TempDir()
	tracker := &fakeTracker{peerID: "peer1", fetchErr: os.ErrInvalid}
	err := Recover(context.Background(), 0, tracker,
		func(peerID string) (SourcePeer, error) { return &fakeSource{}, nil },
		func(name string) (string, error) { return name, nil },
		&fakeWriter{}, dir, filepath.Join(dir, ".recovery.mark"))
	assert.Error(t, err)
	assert.False(t, tracker.reportedActive)
}
