// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for crosspoint-ws.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrHandshakeFailed  = errors.New("websocket handshake failed")
	ErrConnectionClosed = errors.New("connection closed")
	ErrTimeout          = errors.New("timed out waiting for text frame")
	ErrTransportClosed  = errors.New("socket not connected")
	ErrProtocol         = errors.New("protocol error")
	ErrDiscoveryFailed  = errors.New("no device found")
	ErrUnsupportedFrame = errors.New("unsupported frame")
	ErrFrameTooLarge    = errors.New("frame payload exceeds maximum allowed size")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// CloseError is returned when the peer sends a Close frame.
// Code is zero when the frame carried no status.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Code == 0 {
		return ErrConnectionClosed.Error()
	}
	if e.Reason == "" {
		return fmt.Sprintf("%s (code %d)", ErrConnectionClosed, e.Code)
	}
	return fmt.Sprintf("%s (code %d: %s)", ErrConnectionClosed, e.Code, e.Reason)
}

// Unwrap lets errors.Is match ErrConnectionClosed.
func (e *CloseError) Unwrap() error { return ErrConnectionClosed }

// DeviceError carries an ERROR message sent by the device, verbatim.
type DeviceError struct {
	Message string
}

func (e *DeviceError) Error() string { return e.Message }

// Unwrap lets errors.Is match ErrProtocol.
func (e *DeviceError) Unwrap() error { return ErrProtocol }

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeTimeout
	ErrCodeNotFound
	ErrCodeDevice
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap sets the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}
