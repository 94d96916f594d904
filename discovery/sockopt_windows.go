//go:build windows

package discovery

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// setSocketOptions enables address reuse and broadcast on the probe socket.
func setSocketOptions(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		h := windows.Handle(fd)
		if serr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); serr != nil {
			return
		}
		serr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
