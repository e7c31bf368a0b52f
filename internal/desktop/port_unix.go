//go:build !windows

package desktop

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsAddrInUse reports whether err comes from binding a taken address.
func IsAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}
