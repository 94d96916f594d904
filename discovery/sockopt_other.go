//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package discovery

import "syscall"

func setSocketOptions(_, _ string, _ syscall.RawConn) error { return nil }
