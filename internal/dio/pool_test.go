package dio

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := New(2, 8, 64)
	defer p.Close()

	path := filepath.Join(dir, "f.bin")
	var wg sync.WaitGroup
	wg.Add(1)
	var writeErr error
	require.NoError(t, p.Submit(context.Background(), Job{
		Op: OpWrite, Path: path, Data: []byte("hello"),
		Callback: func(n int, err error) { writeErr = err; wg.Done() },
	}))
	wg.Wait()
	require.NoError(t, writeErr)

	wg.Add(1)
	buf := make([]byte, 5)
	var readErr error
	require.NoError(t, p.Submit(context.Background(), Job{
		Op: OpRead, Path: path, Data: buf,
		Callback: func(n int, err error) { readErr = err; wg.Done() },
	}))
	wg.Wait()
	require.NoError(t, readErr)
	assert.Equal(t, "hello", string(buf))
}

func TestSameThreadKeyPinsToSameWorker(t *testing.T) {
	p := New(8, 8, 16)
	defer p.Close()
	a := p.pinIndex("conn-42")
	b := p.pinIndex("conn-42")
	assert.Equal(t, a, b)
}

func TestDeleteMissingFileReportsNotFound(t *testing.T) {
	p := New(1, 4, 16)
	defer p.Close()
	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	require.NoError(t, p.Submit(context.Background(), Job{
		Op: OpDelete, Path: filepath.Join(t.TempDir(), "nope"),
		Callback: func(n int, err error) { gotErr = err; wg.Done() },
	}))
	wg.Wait()
	assert.True(t, os.IsNotExist(gotErr))
}

func TestGetPutBufferReuses(t *testing.T) {
	p := New(1, 4, 32)
	defer p.Close()
	b := p.GetBuffer()
	assert.Len(t, b, 32)
	p.PutBuffer(b)
}
