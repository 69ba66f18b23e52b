package fsm

import (
	"context"

	"github.com/happyfish100/fastdfs-sub008/internal/binlog"
	"github.com/happyfish100/fastdfs-sub008/internal/fname"
)

// Capability interfaces a command needs, kept small so tests can fake
// each one independently (spec.md §9's "common capability set").

// BinlogAppender appends one replication record.
type BinlogAppender interface {
	Append(r binlog.Record) error
}

// FileStore is the local disk surface a command reads/writes through.
// WriteFile/AppendFile/TruncateFile cover standalone files; WriteAt
// additionally lets a command place a payload at an arbitrary byte
// offset inside a larger, possibly pre-existing file, which is what
// lets a trunk-packed upload share one physical file across many
// logical names instead of paying one file per upload (spec.md §4.B).
type FileStore interface {
	WriteFile(ctx context.Context, path string, data []byte) error
	WriteAt(ctx context.Context, path string, offset int64, data []byte) error
	AppendFile(ctx context.Context, path string, data []byte) error
	ReadFile(ctx context.Context, path string, offset, length int64) ([]byte, error)
	TruncateFile(ctx context.Context, path string, size int64) error
	DeleteFile(ctx context.Context, path string) error
	StatFile(ctx context.Context, path string) (size int64, crc32 uint32, err error)
	Exists(ctx context.Context, path string) bool
	Symlink(ctx context.Context, target, link string) error
}

// PathPicker selects a store path for a new upload and resolves logical
// filenames to physical paths. MetaPath is kept separate from Physical
// because a trunk-packed file's physical path is shared with every other
// file packed into the same trunk — metadata sidecars need a path that
// stays unique per logical file regardless of trunk packing.
type PathPicker interface {
	PickWritePath() (fname.StorePath, error)
	StorePathByIndex(idx uint8) (fname.StorePath, error)
	Physical(sp fname.StorePath, f fname.Fields) (string, error)
	MetaPath(sp fname.StorePath, f fname.Fields) (string, error)
}
