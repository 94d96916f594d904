// File: protocol/frame_codec.go
// Package protocol implements frame encoding with client masking.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frames are always sent with FIN set; this library never fragments.
// The length field uses the smallest encoding that fits the payload.

package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/momentics/crosspoint-ws/api"
)

// MaskSource supplies masking keys. Tests may replace it.
var MaskSource io.Reader = rand.Reader

// EncodeFrame serializes a single final frame. When mask is set a fresh
// random key is drawn and the payload copy is XOR-masked; the caller's
// payload is never modified.
func EncodeFrame(opcode byte, payload []byte, mask bool) ([]byte, error) {
	return AppendFrame(nil, opcode, payload, mask)
}

// AppendFrame appends the encoded frame to dst and returns the extended slice.
func AppendFrame(dst []byte, opcode byte, payload []byte, mask bool) ([]byte, error) {
	if !isValidOpcode(opcode) {
		return nil, fmt.Errorf("%w: opcode 0x%X", api.ErrInvalidArgument, opcode)
	}
	if IsControl(opcode) && len(payload) > MaxControlPayloadLen {
		return nil, fmt.Errorf("%w: control payload of %d bytes", api.ErrInvalidArgument, len(payload))
	}

	var maskBit byte
	if mask {
		maskBit = MaskBit
	}

	plen := len(payload)
	var hdr [MaxFrameHeaderLen]byte
	hdr[0] = FinBit | (opcode & 0x0F)
	n := 2

	switch {
	case plen <= MaxControlPayloadLen:
		hdr[1] = byte(plen) | maskBit
	case plen <= 0xFFFF:
		hdr[1] = payloadLen16Bit | maskBit
		binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
		n += 2
	default:
		hdr[1] = payloadLen64Bit | maskBit
		binary.BigEndian.PutUint64(hdr[2:], uint64(plen))
		n += 8
	}

	var key [4]byte
	if mask {
		if _, err := io.ReadFull(MaskSource, key[:]); err != nil {
			return nil, fmt.Errorf("mask key: %w", err)
		}
		copy(hdr[n:], key[:])
		n += 4
	}

	if cap(dst)-len(dst) < n+plen {
		grown := make([]byte, len(dst), len(dst)+n+plen)
		copy(grown, dst)
		dst = grown
	}
	dst = append(dst, hdr[:n]...)
	start := len(dst)
	dst = append(dst, payload...)
	if mask {
		applyMask(dst[start:], key)
	}
	return dst, nil
}

// applyMask XORs buf in place with key; applying it twice restores buf.
func applyMask(buf []byte, key [4]byte) {
	for i := range buf {
		buf[i] ^= key[i%4]
	}
}
