//go:build linux

package orchestrator

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerPID reads the connecting process's pid from SO_PEERCRED, the
// kernel-verified credential REGISTER relies on rather than trusting anything the
// client claims in its payload. Unlike the rest of the wire codec, there
// is no prior-art example in the retrieved pack for this syscall; it is
// applied directly from golang.org/x/sys/unix, the same package the
// watchdog mmap path already depends on.
func peerPID(conn net.Conn) (int, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, fmt.Errorf("control connection is not a unix socket")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var cred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, err
	}
	if sockErr != nil {
		return 0, sockErr
	}
	return int(cred.Pid), nil
}
