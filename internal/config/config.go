// Package config loads the storage node's INI-style configuration file
// (storage.conf), the same format and section-less layout FastDFS's own
// tools have always used, via github.com/Unknwon/goconfig.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Unknwon/goconfig"
)

// WriteMode mirrors spec.md component A's store-path selection policy.
type WriteMode int

const (
	WriteModeRoundRobin WriteMode = iota
	WriteModeLoadBalance
)

// Config is the fully parsed, typed configuration for a storage node.
type Config struct {
	GroupName        string
	BindAddr         string
	Port             int
	ClientPort       int
	StorePaths       []string
	StorePathIndex   int // subdir_count_per_path's sibling: which path new writes favor first
	SubdirCountPerPath int
	WriteMode        WriteMode
	WritesPerRound   int
	ReservedSpaceMB  int64

	TrackerServers []string
	HeartbeatInterval time.Duration
	SyncMaxThreads int
	SyncIntervalMs int

	SlotMinSizeBytes int64
	SlotMaxSizeBytes int64
	TrunkFileSizeBytes int64

	BinlogWriteBufferBytes int
	BinlogCompressAfterN   int

	DiskReaderThreads int
	DiskWriterThreads int

	LogLevel string
	LogFile  string

	ControlListenAddr string
}

// Default returns a Config with the teacher-idiomatic defaults FastDFS
// ships in its sample storage.conf.
func Default() *Config {
	return &Config{
		BindAddr:           "0.0.0.0",
		Port:               23000,
		ClientPort:         23000,
		StorePaths:         []string{"/data/fastdfs"},
		SubdirCountPerPath: 256,
		WriteMode:          WriteModeRoundRobin,
		WritesPerRound:     1,
		ReservedSpaceMB:    1024,
		HeartbeatInterval:  30 * time.Second,
		SyncMaxThreads:     4,
		SyncIntervalMs:     0,
		SlotMinSizeBytes:   256,
		SlotMaxSizeBytes:   16 * 1024 * 1024,
		TrunkFileSizeBytes: 64 * 1024 * 1024,
		BinlogWriteBufferBytes: 256 * 1024,
		BinlogCompressAfterN:   10000,
		DiskReaderThreads: 1,
		DiskWriterThreads: 1,
		LogLevel:          "info",
		LogFile:           "",
		ControlListenAddr: "127.0.0.1:23080",
	}
}

// Load reads and parses path on top of Default().
func Load(path string) (*Config, error) {
	cfg, err := goconfig.LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	c := Default()

	if v, ok := getString(cfg, "group_name"); ok {
		c.GroupName = v
	}
	if v, ok := getString(cfg, "bind_addr"); ok {
		c.BindAddr = v
	}
	if v, ok := getInt(cfg, "port"); ok {
		c.Port = v
	}
	if v, ok := getInt(cfg, "client_port"); ok {
		c.ClientPort = v
	}
	if v, ok := getString(cfg, "store_path"); ok {
		c.StorePaths = splitNonEmpty(v, ",")
	}
	if v, ok := getInt(cfg, "subdir_count_per_path"); ok {
		c.SubdirCountPerPath = v
	}
	if v, ok := getString(cfg, "store_path_mode"); ok {
		if strings.EqualFold(v, "load_balance") {
			c.WriteMode = WriteModeLoadBalance
		} else {
			c.WriteMode = WriteModeRoundRobin
		}
	}
	if v, ok := getInt(cfg, "write_to_same_path_count"); ok {
		c.WritesPerRound = v
	}
	if v, ok := getInt64(cfg, "reserved_storage_space_mb"); ok {
		c.ReservedSpaceMB = v
	}
	if v, ok := getString(cfg, "tracker_server"); ok {
		c.TrackerServers = splitNonEmpty(v, ",")
	}
	if v, ok := getInt(cfg, "heart_beat_interval"); ok {
		c.HeartbeatInterval = time.Duration(v) * time.Second
	}
	if v, ok := getInt(cfg, "sync_max_threads"); ok {
		c.SyncMaxThreads = v
	}
	if v, ok := getInt(cfg, "sync_interval_ms"); ok {
		c.SyncIntervalMs = v
	}
	if v, ok := getInt64(cfg, "slot_min_size"); ok {
		c.SlotMinSizeBytes = v
	}
	if v, ok := getInt64(cfg, "slot_max_size"); ok {
		c.SlotMaxSizeBytes = v
	}
	if v, ok := getInt64(cfg, "trunk_file_size"); ok {
		c.TrunkFileSizeBytes = v
	}
	if v, ok := getInt(cfg, "write_buff_size"); ok {
		c.BinlogWriteBufferBytes = v
	}
	if v, ok := getInt(cfg, "binlog_compress_after_records"); ok {
		c.BinlogCompressAfterN = v
	}
	if v, ok := getInt(cfg, "disk_rw_separated_reader_threads"); ok {
		c.DiskReaderThreads = v
	}
	if v, ok := getInt(cfg, "disk_rw_separated_writer_threads"); ok {
		c.DiskWriterThreads = v
	}
	if v, ok := getString(cfg, "log_level"); ok {
		c.LogLevel = v
	}
	if v, ok := getString(cfg, "log_file"); ok {
		c.LogFile = v
	}
	if v, ok := getString(cfg, "admin_listen_addr"); ok {
		c.ControlListenAddr = v
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the invariants the storage node cannot safely start
// without: at least one store path, a positive slot range, and a
// subdir_count_per_path in (0, 256]. An empty tracker list is accepted.
func (c *Config) Validate() error {
	if len(c.StorePaths) == 0 {
		return fmt.Errorf("config: at least one store_path is required")
	}
	if c.SlotMinSizeBytes <= 0 || c.SlotMaxSizeBytes <= c.SlotMinSizeBytes {
		return fmt.Errorf("config: slot_min_size must be positive and less than slot_max_size")
	}
	if c.SubdirCountPerPath <= 0 || c.SubdirCountPerPath > 256 {
		return fmt.Errorf("config: subdir_count_per_path must be in (0, 256]")
	}
	return nil
}

func getString(cfg *goconfig.ConfigFile, key string) (string, bool) {
	v, err := cfg.GetValue(goconfig.DEFAULT_SECTION, key)
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

func getInt(cfg *goconfig.ConfigFile, key string) (int, bool) {
	v, ok := getString(cfg, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func getInt64(cfg *goconfig.ConfigFile, key string) (int64, bool) {
	v, ok := getString(cfg, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
