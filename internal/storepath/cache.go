// Package storepath bridges the Tracker Reporter's periodic disk-usage
// snapshots (internal/tracker.DiskUsage) to internal/fname.Picker's
// LoadBalance statsFn, so a path's free-space number used for write
// selection is always the last value reported to the tracker rather than
// a fresh statvfs call on every upload.
package storepath

import (
	"sync"

	"github.com/happyfish100/fastdfs-sub008/internal/fname"
	"github.com/happyfish100/fastdfs-sub008/internal/tracker"
)

// Cache holds the latest PathStats-shaped reading per store path index.
type Cache struct {
	mu    sync.RWMutex
	stats map[uint8]Stats
}

// Stats is the free/total megabyte snapshot for one store path.
type Stats struct {
	FreeMB  int64
	TotalMB int64
}

// NewCache creates an empty cache; Lookup returns ok=false for any index
// until the first Update.
func NewCache() *Cache {
	return &Cache{stats: make(map[uint8]Stats)}
}

// Update replaces the cached reading for idx.
func (c *Cache) Update(idx uint8, s Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[idx] = s
}

// UpdateAll replaces the readings for every index in readings in one
// pass. UpdateFromReport takes internal/tracker.DiskUsage's []PathUsage
// shape directly.
func (c *Cache) UpdateAll(readings map[uint8]Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, s := range readings {
		c.stats[idx] = s
	}
}

// Lookup returns the cached reading for idx, or ok=false if none has
// been reported yet. PickerStatsFn wraps it in the
// func(idx uint8) (fname.PathStats, bool) shape fname.NewPicker expects.
func (c *Cache) Lookup(idx uint8) (Stats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stats[idx]
	return s, ok
}

// Snapshot returns a copy of every cached reading, for logging/control
// endpoints.
func (c *Cache) Snapshot() map[uint8]Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint8]Stats, len(c.stats))
	for k, v := range c.stats {
		out[k] = v
	}
	return out
}

// UpdateFromReport absorbs one internal/tracker.DiskUsage sweep.
func (c *Cache) UpdateFromReport(usage []tracker.PathUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range usage {
		c.stats[u.PathIndex] = Stats{FreeMB: u.FreeMB, TotalMB: u.TotalMB}
	}
}

// PickerStatsFn adapts Lookup to the func(idx uint8) (fname.PathStats, bool)
// shape fname.NewPicker's statsFn parameter expects.
func (c *Cache) PickerStatsFn() func(idx uint8) (fname.PathStats, bool) {
	return func(idx uint8) (fname.PathStats, bool) {
		s, ok := c.Lookup(idx)
		if !ok {
			return fname.PathStats{}, false
		}
		return fname.PathStats{FreeMB: s.FreeMB, TotalMB: s.TotalMB}, true
	}
}
