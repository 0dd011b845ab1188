// Package orchestrator implements C7: the control-socket event loop that
// registers clients, dispatches ACQUIRE/RELEASE/INQUIRE/ADD_LOCKSPACE/
// REM_LOCKSPACE/STATUS/LOG_DUMP/SHUTDOWN, and drives the kill-escalation
// tick that fences local lease holders when a lockspace can no longer
// renew its lease. Grounded on the teacher's pkg/adapter/nfs RPC
// dispatch loop (one goroutine per connection, per-connection command
// serialization) and pkg/wire's fixed-header codec style, adapted from
// an on-disk layout to an on-wire one.
package orchestrator

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a well-formed control-socket message. Arbitrary but
// fixed, the same role PaxosDiskMagic plays for on-disk leaders.
const Magic uint32 = 0x53474c4b // "SGLK"

// Version packs (major<<16 | minor), mirroring wire.Version.
const Version uint32 = 1 << 16

// HeaderSize is the fixed 32-byte control-socket header: magic,
// version, cmd, cmd_flags, length, seq, data, data2 at 4 bytes each.
const HeaderSize = 32

// Command is one of the control-socket command codes.
type Command uint32

const (
	CmdRegister Command = iota + 1
	CmdShutdown
	CmdStatus
	CmdLogDump
	CmdAddLockspace
	CmdRemLockspace
	CmdAcquire
	CmdRelease
	CmdInquire
)

func (c Command) String() string {
	switch c {
	case CmdRegister:
		return "REGISTER"
	case CmdShutdown:
		return "SHUTDOWN"
	case CmdStatus:
		return "STATUS"
	case CmdLogDump:
		return "LOG_DUMP"
	case CmdAddLockspace:
		return "ADD_LOCKSPACE"
	case CmdRemLockspace:
		return "REM_LOCKSPACE"
	case CmdAcquire:
		return "ACQUIRE"
	case CmdRelease:
		return "RELEASE"
	case CmdInquire:
		return "INQUIRE"
	default:
		return fmt.Sprintf("CMD(%d)", uint32(c))
	}
}

// CmdFlagRelAll is RELEASE's "release every token this client holds, no
// body" flag.
const CmdFlagRelAll uint32 = 1 << 0

// SelfPid is the data2 sentinel meaning "the caller itself", sent by
// SHUTDOWN.
const SelfPid int32 = -1

// Header is the fixed 32-byte frame every control-socket message opens
// with. A JSON body of Length-HeaderSize bytes follows when Length >
// HeaderSize; the body's shape is command-specific (see request.go).
type Header struct {
	Magic    uint32
	Version  uint32
	Cmd      Command
	CmdFlags uint32
	Length   uint32
	Seq      uint32
	Data     int32
	Data2    int32
}

// Encode writes h in the canonical little-endian 32-byte wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Cmd))
	binary.LittleEndian.PutUint32(buf[12:16], h.CmdFlags)
	binary.LittleEndian.PutUint32(buf[16:20], h.Length)
	binary.LittleEndian.PutUint32(buf[20:24], h.Seq)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.Data))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(h.Data2))
	return buf
}

// DecodeHeader parses and magic/version-validates a 32-byte header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("control message too short: %d bytes", len(buf))
	}
	h := Header{
		Magic:    binary.LittleEndian.Uint32(buf[0:4]),
		Version:  binary.LittleEndian.Uint32(buf[4:8]),
		Cmd:      Command(binary.LittleEndian.Uint32(buf[8:12])),
		CmdFlags: binary.LittleEndian.Uint32(buf[12:16]),
		Length:   binary.LittleEndian.Uint32(buf[16:20]),
		Seq:      binary.LittleEndian.Uint32(buf[20:24]),
		Data:     int32(binary.LittleEndian.Uint32(buf[24:28])),
		Data2:    int32(binary.LittleEndian.Uint32(buf[28:32])),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("bad control message magic: %#x", h.Magic)
	}
	if h.Version>>16 != Version>>16 {
		return Header{}, fmt.Errorf("incompatible control message version: %#x", h.Version)
	}
	if h.Length < HeaderSize {
		return Header{}, fmt.Errorf("control message length %d shorter than header", h.Length)
	}
	return h, nil
}
