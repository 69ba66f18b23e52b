package storepath

import (
	"testing"

	"github.com/happyfish100/fastdfs-sub008/internal/tracker"
	"github.com/stretchr/testify/assert"
)

func TestLookupMissingReportsNotOK(t *testing.T) {
	c := NewCache()
	_, ok := c.Lookup(3)
	assert.False(t, ok)
}

func TestUpdateFromReportPopulatesCache(t *testing.T) {
	c := NewCache()
	c.UpdateFromReport([]tracker.PathUsage{
		{PathIndex: 0, FreeMB: 500, TotalMB: 1000},
		{PathIndex: 1, FreeMB: 200, TotalMB: 1000},
	})

	s, ok := c.Lookup(0)
	assert.True(t, ok)
	assert.Equal(t, int64(500), s.FreeMB)

	fn := c.PickerStatsFn()
	ps, ok := fn(1)
	assert.True(t, ok)
	assert.Equal(t, int64(200), ps.FreeMB)

	_, ok = fn(9)
	assert.False(t, ok)
}

func TestSnapshotReturnsCopy(t *testing.T) {
	c := NewCache()
	c.Update(0, Stats{FreeMB: 1, TotalMB: 2})
	snap := c.Snapshot()
	snap[0] = Stats{FreeMB: 99, TotalMB: 99}

	s, _ := c.Lookup(0)
	assert.Equal(t, int64(1), s.FreeMB, "Snapshot must not alias internal map")
}
