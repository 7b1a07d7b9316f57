//go:build linux || darwin || freebsd || netbsd || openbsd

package tracker

import (
	"net"
	"syscall"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// socketMode reports whether socket is in non-blocking mode,
// switching it to non-blocking when it was not.
func socketMode(conn net.Conn) (nonblock bool, changed bool, err error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false, false, errors.NotSupportedf("conn type=%T", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false, false, errors.Annotate(err, "SyscallConn")
	}
	var opErr error
	err = raw.Control(func(fd uintptr) {
		flags, e := unix.FcntlInt(fd, unix.F_GETFL, 0)
		if e != nil {
			opErr = errors.Annotate(e, "F_GETFL")
			return
		}
		if flags&unix.O_NONBLOCK != 0 {
			nonblock = true
			return
		}
		if e = unix.SetNonblock(int(fd), true); e != nil {
			opErr = errors.Annotate(e, "set non-blocking")
			return
		}
		nonblock, changed = true, true
	})
	if err == nil {
		err = opErr
	}
	return nonblock, changed, err
}
