// Package trackerproto holds the opaque command bytes a storage node
// speaks to a tracker server (spec.md §4.G). The tracker itself is
// external and out of scope; this package only gives the Tracker
// Reporter and Disk Recovery client stable names for the command bytes
// they send and the responses they decode, mirroring how internal/wire
// holds the storage-port command bytes next to internal/fsm's handlers.
package trackerproto

// Command bytes sent by a storage node to a tracker server.
const (
	CmdStorageJoin            = 91
	CmdStorageBeat            = 92
	CmdStorageReportDiskUsage = 94
	CmdStorageSyncSrcReq      = 95
	CmdStorageSyncDestReq     = 96
	CmdStorageSyncDestQuery   = 97
	CmdStorageSyncDestNotify  = 98
	CmdStorageSyncReport      = 99
	CmdStorageReportTrunkFID  = 100
	CmdStorageReportTrunkFree = 101
	CmdStorageChangelogReq    = 102
	CmdStorageReportIPChanged = 103
	CmdStorageFetchOnePathBinlog = 104
)

// ResponseFlag bits decode the one-byte flag set carried on
// STORAGE_JOIN/STORAGE_BEAT responses (spec.md §4.G "Responses").
type ResponseFlag uint8

const (
	FlagChangeTrackerLeader ResponseFlag = 1 << iota
	FlagChangeTrunkServer
	FlagChangeGroupServer
)

// Has reports whether bit is set in flags.
func (flags ResponseFlag) Has(bit ResponseFlag) bool {
	return flags&bit != 0
}

// DecodeResponseFlags turns the wire byte into the three named booleans
// internal/tracker.ResponseFlags carries.
func DecodeResponseFlags(b byte) (changeTrackerLeader, changeTrunkServer, changeGroupServer bool) {
	flags := ResponseFlag(b)
	return flags.Has(FlagChangeTrackerLeader), flags.Has(FlagChangeTrunkServer), flags.Has(FlagChangeGroupServer)
}
