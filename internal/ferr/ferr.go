// Package ferr defines the storage node's error taxonomy.
//
// Every subsystem returns one of the sentinel errors below (wrapped with
// context via fmt.Errorf("...: %w", ...) as needed). internal/fsm is the
// only place that maps a ferr error back onto the wire status byte; the
// rest of the node works with plain Go errors.
package ferr

import "errors"

// Sentinel errors, one per taxonomy entry in the spec's error handling
// design. Use errors.Is to test for these after wrapping.
var (
	// ErrProtocol covers malformed header, unsupported cmd, body-length
	// mismatch. An error-status response header is sent, then the
	// connection is closed.
	ErrProtocol = errors.New("protocol error")

	// ErrNotFound means the referenced file does not exist locally.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means the file is already present. Callers on the
	// sync path treat same-size AlreadyExists as success.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidFilename means filename decoding failed or a decoded
	// field is out of range. Client visible, never retried.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrUnknownPath means a decoded path-index has no local store path.
	ErrUnknownPath = errors.New("unknown store path")

	// ErrNoSpace means no store path satisfies the reserved-space policy.
	ErrNoSpace = errors.New("no space")

	// ErrDiskIO covers read/write/fsync errno other than ENOSPC/EEXIST.
	// The failing command fails; the node keeps running.
	ErrDiskIO = errors.New("disk i/o error")

	// ErrRemotePeerDown means a replication send failed to reach a peer.
	// The reader rewinds and the replicator retries after backoff.
	ErrRemotePeerDown = errors.New("remote peer down")

	// ErrFatal means binlog flush, mark-file write, or trunk-binlog
	// write failed. The node drains and exits non-zero.
	ErrFatal = errors.New("fatal storage error")

	// ErrTrunkNotFound means a decoded trunk slot references a trunk
	// file id the allocator does not know about.
	ErrTrunkNotFound = errors.New("trunk not found")

	// ErrCorruptTrunkHeader means a trunk slot's 24-byte header failed
	// its magic/crc32 check.
	ErrCorruptTrunkHeader = errors.New("corrupt trunk header")

	// ErrNotAppender means Append/Modify/Truncate was requested on a
	// file that was not created as an appender file.
	ErrNotAppender = errors.New("file is not an appender file")
)

// Status is the one-byte wire status code (errno-shaped, per spec.md §7).
type Status byte

// Wire status codes. Values match the errno numbers FastDFS clients
// historically expect; callers outside internal/fsm should never need
// these directly.
const (
	StatusOK       Status = 0
	StatusEAGAIN   Status = 11
	StatusENOENT   Status = 2
	StatusEEXIST   Status = 17
	StatusENOSPC   Status = 28
	StatusEINVAL   Status = 22
	StatusEPERM    Status = 1
	StatusEIO      Status = 5
	StatusProtocol Status = 255
)

// ToStatus maps a ferr sentinel (or a wrapped error carrying one) onto the
// wire status byte a client expects in a response header. Unknown errors
// map to StatusEIO so a bug never silently reports success.
func ToStatus(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNotFound):
		return StatusENOENT
	case errors.Is(err, ErrAlreadyExists):
		return StatusEEXIST
	case errors.Is(err, ErrInvalidFilename):
		return StatusEINVAL
	case errors.Is(err, ErrUnknownPath):
		return StatusEINVAL
	case errors.Is(err, ErrNoSpace):
		return StatusENOSPC
	case errors.Is(err, ErrNotAppender):
		return StatusEPERM
	case errors.Is(err, ErrDiskIO):
		return StatusEIO
	case errors.Is(err, ErrTrunkNotFound), errors.Is(err, ErrCorruptTrunkHeader):
		return StatusEIO
	case errors.Is(err, ErrProtocol):
		return StatusProtocol
	default:
		return StatusEIO
	}
}
