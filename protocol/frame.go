// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame decoding and close payload parsing.
//
// DecodeFrame consumes exactly one frame from a stream. End of stream in the
// middle of a frame is reported as api.ErrConnectionClosed so callers never
// mistake a dropped socket for a valid empty frame.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"unicode/utf8"

	"github.com/momentics/crosspoint-ws/api"
)

// DefaultMaxPayload bounds inbound frame allocation.
const DefaultMaxPayload = 32 << 20 // 32 MiB

// WSFrame represents a decoded WebSocket frame.
type WSFrame struct {
	IsFinal    bool  // FIN bit
	Opcode     byte  // Operation code
	Masked     bool  // Whether the frame was masked
	PayloadLen int64 // Actual payload length
	MaskKey    [4]byte
	Payload    []byte
}

// DecodeFrame parses the WebSocket frame header and payload from stream.
// maxPayload <= 0 selects DefaultMaxPayload.
func DecodeFrame(r io.Reader, maxPayload int64) (*WSFrame, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, readError("read header", err)
	}

	f := &WSFrame{
		IsFinal: hdr[0]&FinBit != 0,
		Opcode:  hdr[0] & 0x0F,
		Masked:  hdr[1]&MaskBit != 0,
	}
	length := uint64(hdr[1] & 0x7F)

	switch length {
	case payloadLen16Bit:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, readError("read 16-bit length", err)
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case payloadLen64Bit:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, readError("read 64-bit length", err)
		}
		length = binary.BigEndian.Uint64(ext[:])
	}

	if length > uint64(maxPayload) {
		return nil, fmt.Errorf("%w: %d bytes", api.ErrFrameTooLarge, length)
	}
	f.PayloadLen = int64(length)

	if f.Masked {
		if _, err := io.ReadFull(r, f.MaskKey[:]); err != nil {
			return nil, readError("read mask", err)
		}
	}

	f.Payload = make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, readError("read payload", err)
		}
		if f.Masked {
			applyMask(f.Payload, f.MaskKey)
		}
	}
	return f, nil
}

// ParseClosePayload extracts the status code and reason of a Close frame.
// A payload shorter than two bytes carries no status.
func ParseClosePayload(payload []byte) *api.CloseError {
	ce := &api.CloseError{}
	if len(payload) >= 2 {
		ce.Code = int(binary.BigEndian.Uint16(payload[:2]))
		ce.Reason = DecodeText(payload[2:])
	}
	return ce
}

// DecodeText converts a payload to a string, dropping invalid UTF-8 bytes.
func DecodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]rune, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			out = append(out, r)
		}
		b = b[size:]
	}
	return string(out)
}

// readError maps a short read to api.ErrConnectionClosed and keeps
// everything else (deadlines in particular) intact for the caller.
func readError(step string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%s: %w: socket closed", step, api.ErrConnectionClosed)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// HeaderLen returns the full header size announced by the second header
// byte: base, extended length and mask key.
func HeaderLen(second byte) int {
	n := 2
	switch second &^ MaskBit {
	case payloadLen16Bit:
		n += 2
	case payloadLen64Bit:
		n += 8
	}
	if second&MaskBit != 0 {
		n += 4
	}
	return n
}

// PayloadLen returns the payload length encoded in a complete header.
func PayloadLen(hdr []byte) uint64 {
	switch l := hdr[1] &^ MaskBit; l {
	case payloadLen16Bit:
		return uint64(binary.BigEndian.Uint16(hdr[2:4]))
	case payloadLen64Bit:
		return binary.BigEndian.Uint64(hdr[2:10])
	default:
		return uint64(l)
	}
}
