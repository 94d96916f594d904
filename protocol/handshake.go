// File: protocol/handshake.go
// Package protocol
// Client side of the WebSocket opening handshake.
//
// The response is accepted when its status line contains " 101 ".
// Sec-WebSocket-Accept is not verified; the reader firmware has never
// required it and the check is left out intentionally.
package protocol

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/momentics/crosspoint-ws/api"
)

const (
	RequiredWebSocketVersion = "13"
	MaxHandshakeHeadersSize  = 8192
)

var headerTerminator = []byte("\r\n\r\n")

// NewClientKey returns a fresh base64-encoded 16-byte Sec-WebSocket-Key.
func NewClientKey() (string, error) {
	var key [16]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", fmt.Errorf("handshake key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// BuildUpgradeRequest renders the HTTP upgrade request.
func BuildUpgradeRequest(host string, port int, path, key string) []byte {
	if path == "" {
		path = "/"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", net.JoinHostPort(host, strconv.Itoa(port)))
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	fmt.Fprintf(&b, "Sec-WebSocket-Version: %s\r\n", RequiredWebSocketVersion)
	b.WriteString("\r\n")
	return b.Bytes()
}

// ReadHandshakeResponse reads until the blank line ending the headers or
// until the peer closes. Bytes after the terminator stay buffered in br.
func ReadHandshakeResponse(br *bufio.Reader) ([]byte, error) {
	var data []byte
	for !bytes.HasSuffix(data, headerTerminator) {
		line, err := br.ReadSlice('\n')
		data = append(data, line...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return data, nil
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				if len(data) > MaxHandshakeHeadersSize {
					return data, fmt.Errorf("%w: response headers too large", api.ErrHandshakeFailed)
				}
				continue
			}
			return data, fmt.Errorf("handshake read: %w", err)
		}
		if len(data) > MaxHandshakeHeadersSize {
			return data, fmt.Errorf("%w: response headers too large", api.ErrHandshakeFailed)
		}
	}
	return data, nil
}

// StatusLine returns the first line of a raw response without CRLF.
func StatusLine(resp []byte) string {
	if i := bytes.Index(resp, []byte("\r\n")); i >= 0 {
		return string(resp[:i])
	}
	return string(bytes.TrimRight(resp, "\r\n"))
}

// CheckUpgradeResponse fails with api.ErrHandshakeFailed unless the status
// line reports 101 Switching Protocols.
func CheckUpgradeResponse(resp []byte) error {
	status := StatusLine(resp)
	if !bytes.Contains([]byte(status+" "), []byte(" 101 ")) {
		return fmt.Errorf("%w: %q", api.ErrHandshakeFailed, status)
	}
	return nil
}
