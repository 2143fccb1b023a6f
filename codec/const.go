package codec

import (
	"fmt"
	"math"
)

// ControlName is the name of the kernel control the session connects to.
const ControlName string = "com.apple.network.statistics"

// MsgType is the type carried in every message header. The numbering
// has been stable across every supported revision.
type MsgType uint32

const (
	MsgTypeSuccess MsgType = 0
	MsgTypeError   MsgType = 1

	// Requests
	MsgTypeAddSrc     MsgType = 1001
	MsgTypeAddAllSrcs MsgType = 1002
	MsgTypeRemSrc     MsgType = 1003
	MsgTypeQuerySrc   MsgType = 1004
	MsgTypeGetSrcDesc MsgType = 1005

	// Responses and notifications
	MsgTypeSrcAdded   MsgType = 10001
	MsgTypeSrcRemoved MsgType = 10002
	MsgTypeSrcDesc    MsgType = 10003
	MsgTypeSrcCounts  MsgType = 10004
)

var msgTypeName = map[MsgType]string{
	MsgTypeSuccess:    "SUCCESS",
	MsgTypeError:      "ERROR",
	MsgTypeAddSrc:     "ADD_SRC",
	MsgTypeAddAllSrcs: "ADD_ALL_SRCS",
	MsgTypeRemSrc:     "REM_SRC",
	MsgTypeQuerySrc:   "QUERY_SRC",
	MsgTypeGetSrcDesc: "GET_SRC_DESC",
	MsgTypeSrcAdded:   "SRC_ADDED",
	MsgTypeSrcRemoved: "SRC_REMOVED",
	MsgTypeSrcDesc:    "SRC_DESC",
	MsgTypeSrcCounts:  "SRC_COUNTS",
}

func (t MsgType) String() string {
	name, ok := msgTypeName[t]
	if !ok {
		return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
	}
	return name
}

// IsRequest reports whether messages of this type flow from the client
// to the kernel.
func (t MsgType) IsRequest() bool {
	return t >= MsgTypeAddSrc && t <= MsgTypeGetSrcDesc
}

// ProviderID identifies the kernel subsystem producing a source. Values
// are revision specific: ask the Codec what they mean.
type ProviderID uint32

// SourceRef is the kernel assigned handle of a source. Older revisions
// only use the lower 32 bits.
type SourceRef uint64

// SrcRefAll addresses every source at once in query requests. Each codec
// translates it into whatever its revision expects.
const SrcRefAll SourceRef = math.MaxUint64

// Darwin errno values the session cares about. They differ from the
// ones of the build host when not running on Darwin.
const (
	ErrnoNone    uint32 = 0
	ErrnoNoBufs  uint32 = 55
	ErrnoNoEnt   uint32 = 2
	ErrnoInvalid uint32 = 22
)

// IsNonFatal reports whether an error code is in the allow-list of
// benign errors: nothing at all and the kernel running out of buffers.
func IsNonFatal(errno uint32) bool {
	return errno == ErrnoNone || errno == ErrnoNoBufs
}

// Darwin address families. These are NOT unix.AF_INET{,6} on Linux.
const (
	afInet  uint8 = 2
	afInet6 uint8 = 30
)
