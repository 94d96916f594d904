// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import (
	"net"
	"strconv"
)

// SessionState enumerates the states of an upload session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateAwaitingReady
	StateTransferring
	StateAwaitingCompletion
	StateDone
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingReady:
		return "awaiting-ready"
	case StateTransferring:
		return "transferring"
	case StateAwaitingCompletion:
		return "awaiting-completion"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DiscoveryResult is the address of a device that answered a probe.
type DiscoveryResult struct {
	Host string
	Port int
}

// Addr returns host:port.
func (r DiscoveryResult) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// ProgressFunc receives bytes sent so far and the total size.
type ProgressFunc func(sent, total int64)

// LogFunc is a plain textual logging sink.
type LogFunc func(message string)
