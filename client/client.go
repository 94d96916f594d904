// File: client/client.go
// Package client provides a blocking WebSocket client for the reader device.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This client implements:
// - RFC6455 opening handshake over bare TCP
// - Masked outbound frames, unmasking of inbound frames when the peer masks
// - Ping auto-reply and Pong discard while waiting for text
// - Non-blocking drain of buffered text acknowledgements
// - Idempotent Close with a best-effort Close frame
//
// A Conn has a single reader and a single writer; it does no locking.

package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/crosspoint-ws/api"
	"github.com/momentics/crosspoint-ws/protocol"
)

// Config holds all configurable parameters for the WebSocket client.
type Config struct {
	Path             string        // request path, "/" when empty
	ConnectTimeout   time.Duration // TCP dial timeout
	HandshakeTimeout time.Duration // deadline for the upgrade response
	ReadTimeout      time.Duration // default ReadText deadline
	WriteTimeout     time.Duration // per-frame write deadline
	PollInterval     time.Duration // DrainPending readiness window
	MaxPayload       int64         // inbound frame limit
	Logger           *slog.Logger
}

// DefaultConfig returns the timeouts used by the reader plugin.
func DefaultConfig() Config {
	return Config{
		Path:             "/",
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PollInterval:     time.Millisecond,
		MaxPayload:       protocol.DefaultMaxPayload,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = c.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = d.MaxPayload
	}
	c.Logger = api.LoggerOrDefault(c.Logger)
	return c
}

// Conn is one open WebSocket connection.
type Conn struct {
	cfg    Config
	nc     net.Conn
	br     *bufio.Reader
	inbox  *queue.Queue // text messages read ahead of the caller
	closed bool
	log    *slog.Logger
}

// Dial opens a TCP connection to host:port and performs the upgrade.
func Dial(ctx context.Context, host string, port int, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	c, err := Handshake(nc, host, port, cfg)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

// Handshake performs the opening handshake on an established stream.
// The caller keeps ownership of nc on error.
func Handshake(nc net.Conn, host string, port int, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	key, err := protocol.NewClientKey()
	if err != nil {
		return nil, err
	}
	if err := nc.SetDeadline(time.Now().Add(cfg.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("handshake deadline: %w", err)
	}
	if _, err := nc.Write(protocol.BuildUpgradeRequest(host, port, cfg.Path, key)); err != nil {
		return nil, fmt.Errorf("handshake write: %w", err)
	}
	br := bufio.NewReader(nc)
	resp, err := protocol.ReadHandshakeResponse(br)
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckUpgradeResponse(resp); err != nil {
		return nil, err
	}
	_ = nc.SetDeadline(time.Time{})

	c := &Conn{
		cfg:   cfg,
		nc:    nc,
		br:    br,
		inbox: queue.New(),
		log:   cfg.Logger.With("peer", nc.RemoteAddr().String()),
	}
	c.log.Debug("handshake OK")
	return c, nil
}

// SendText sends one text frame.
func (c *Conn) SendText(text string) error {
	return c.send(protocol.OpcodeText, []byte(text))
}

// SendBinary sends one binary frame.
func (c *Conn) SendBinary(payload []byte) error {
	return c.send(protocol.OpcodeBinary, payload)
}

func (c *Conn) send(opcode byte, payload []byte) error {
	if c.closed {
		return api.ErrTransportClosed
	}
	buf, err := protocol.EncodeFrame(opcode, payload, true)
	if err != nil {
		return err
	}
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if _, err := c.nc.Write(buf); err != nil {
		c.release()
		if isTimeout(err) {
			return fmt.Errorf("write %s frame: %w", protocol.OpcodeName(opcode), api.ErrTimeout)
		}
		return fmt.Errorf("write %s frame: %w", protocol.OpcodeName(opcode), err)
	}
	return nil
}

// ReadText blocks until a text message arrives, the timeout elapses, or the
// peer closes. timeout <= 0 selects the configured read timeout.
func (c *Conn) ReadText(timeout time.Duration) (string, error) {
	if c.inbox.Length() > 0 {
		return c.inbox.Remove().(string), nil
	}
	if c.closed {
		return "", api.ErrTransportClosed
	}
	if timeout <= 0 {
		timeout = c.cfg.ReadTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return "", api.ErrTimeout
		}
		f, err := c.readFrame(deadline)
		if err != nil {
			return "", err
		}
		text, ok, err := c.dispatch(f)
		if err != nil {
			return "", err
		}
		if ok {
			return text, nil
		}
	}
}

// DrainPending returns every text message that is already available
// without waiting for more. Ping and Pong frames are absorbed; a Close
// frame fails with *api.CloseError.
func (c *Conn) DrainPending() ([]string, error) {
	if c.closed {
		return c.takeInbox(), nil
	}
	for {
		ready, err := c.readable()
		if err != nil {
			return nil, c.fail(err)
		}
		if !ready {
			break
		}
		// Part of a frame is here; give the rest the full read timeout.
		f, err := c.readFrame(time.Now().Add(c.cfg.ReadTimeout))
		if err != nil {
			return nil, err
		}
		text, ok, err := c.dispatch(f)
		if err != nil {
			return nil, err
		}
		if ok {
			c.inbox.Add(text)
		}
	}
	return c.takeInbox(), nil
}

// Close sends a Close frame if it can, then releases the socket.
// Calling Close more than once is a no-op.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	if err := c.send(protocol.OpcodeClose, nil); err != nil {
		c.log.Debug("close frame not sent", "err", err)
	}
	return c.release()
}

// Closed reports whether the socket has been released.
func (c *Conn) Closed() bool { return c.closed }

// dispatch applies opcode handling. ok is true when f carried a message
// the caller should see.
func (c *Conn) dispatch(f *protocol.WSFrame) (text string, ok bool, err error) {
	switch f.Opcode {
	case protocol.OpcodeText:
		if !f.IsFinal {
			c.release()
			return "", false, fmt.Errorf("%w: fragmented text message", api.ErrUnsupportedFrame)
		}
		return protocol.DecodeText(f.Payload), true, nil
	case protocol.OpcodeClose:
		ce := protocol.ParseClosePayload(f.Payload)
		c.log.Debug("server closed connection", "code", ce.Code, "reason", ce.Reason)
		c.release()
		return "", false, ce
	case protocol.OpcodePing:
		if err := c.send(protocol.OpcodePong, f.Payload); err != nil {
			return "", false, err
		}
		return "", false, nil
	case protocol.OpcodePong:
		return "", false, nil
	default:
		c.log.Debug("ignoring non-text opcode", "opcode", protocol.OpcodeName(f.Opcode), "len", len(f.Payload))
		return "", false, nil
	}
}

// readFrame decodes one frame before deadline. Nothing is consumed until
// the header, and the whole frame when it fits the read buffer, is
// buffered, so a timeout while waiting leaves the stream aligned and the
// connection usable. A timeout inside a larger payload cannot be resumed
// and releases the connection.
func (c *Conn) readFrame(deadline time.Time) (*protocol.WSFrame, error) {
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, c.fail(err)
	}
	hdr, err := c.br.Peek(2)
	if err == nil {
		hdr, err = c.br.Peek(protocol.HeaderLen(hdr[1]))
	}
	if err == nil {
		if total := uint64(len(hdr)) + protocol.PayloadLen(hdr); total <= uint64(c.br.Size()) {
			_, err = c.br.Peek(int(total))
		}
	}
	if err != nil {
		return nil, c.fail(err)
	}
	f, err := protocol.DecodeFrame(c.br, c.cfg.MaxPayload)
	if err != nil {
		if isTimeout(err) {
			c.release()
			return nil, fmt.Errorf("%w: partial frame: %w", api.ErrTimeout, api.ErrConnectionClosed)
		}
		return nil, c.fail(err)
	}
	return f, nil
}

// readable reports whether at least one byte can be read within the poll
// interval.
func (c *Conn) readable() (bool, error) {
	if c.br.Buffered() > 0 {
		return true, nil
	}
	_ = c.nc.SetReadDeadline(time.Now().Add(c.cfg.PollInterval))
	if _, err := c.br.Peek(1); err != nil {
		if isTimeout(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Conn) takeInbox() []string {
	var out []string
	for c.inbox.Length() > 0 {
		out = append(out, c.inbox.Remove().(string))
	}
	return out
}

// fail converts a read error into the library taxonomy. Timeouts leave the
// connection usable; everything else releases it.
func (c *Conn) fail(err error) error {
	if isTimeout(err) {
		return api.ErrTimeout
	}
	c.release()
	if errors.Is(err, api.ErrConnectionClosed) {
		return err
	}
	return fmt.Errorf("%w: %w", api.ErrConnectionClosed, err)
}

func (c *Conn) release() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.nc.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
