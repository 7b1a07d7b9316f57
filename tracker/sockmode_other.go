//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package tracker

import (
	"net"

	"github.com/juju/errors"
)

func socketMode(conn net.Conn) (bool, bool, error) {
	return false, false, errors.NotSupportedf("socket mode on this platform")
}
