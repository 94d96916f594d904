// File: upload/session.go
// Package upload drives one file transfer to the reader over WebSocket.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wire exchange:
//
//	client: START:<name>:<size>:<dir>
//	device: READY | ERROR...
//	client: binary chunk (<= 2048 bytes), repeated
//	device: arbitrary status text, then DONE | ERROR...
//
// Every error is terminal for the session; a retry restarts from START.

package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/crosspoint-ws/api"
	"github.com/momentics/crosspoint-ws/client"
	"github.com/momentics/crosspoint-ws/pool"
)

// MaxChunkSize caps the configured chunk size.
const MaxChunkSize = pool.MaxChunkSize

// Transport is the subset of *client.Conn a session needs.
type Transport interface {
	SendText(text string) error
	SendBinary(payload []byte) error
	ReadText(timeout time.Duration) (string, error)
	DrainPending() ([]string, error)
	Close() error
}

// DialFunc opens a Transport to the device.
type DialFunc func(ctx context.Context, host string, port int, cfg client.Config) (Transport, error)

// DialWebSocket is the default DialFunc.
func DialWebSocket(ctx context.Context, host string, port int, cfg client.Config) (Transport, error) {
	c, err := client.Dial(ctx, host, port, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Config holds session options.
type Config struct {
	ChunkSize int              // bytes per binary frame, clamped to MaxChunkSize
	Client    client.Config    // transport timeouts
	Progress  api.ProgressFunc // optional
	Dial      DialFunc         // DialWebSocket when nil
	Logger    *slog.Logger
}

// Request describes one file to send.
type Request struct {
	Host     string
	Port     int
	Filename string
	Size     int64
	DestDir  string
	Source   io.Reader
}

// Result summarizes a finished session.
type Result struct {
	ID      uuid.UUID
	State   api.SessionState
	Sent    int64
	Elapsed time.Duration
}

// Session is a single-use upload state machine.
type Session struct {
	id    uuid.UUID
	cfg   Config
	state api.SessionState
	sent  int64
	log   *slog.Logger
}

// NewSession prepares an idle session.
func NewSession(cfg Config) *Session {
	if cfg.Dial == nil {
		cfg.Dial = DialWebSocket
	}
	id := uuid.New()
	return &Session{
		id:    id,
		cfg:   cfg,
		state: api.StateIdle,
		log:   api.LoggerOrDefault(cfg.Logger).With("session", id.String()),
	}
}

// ID returns the session identifier used in log records.
func (s *Session) ID() uuid.UUID { return s.id }

// ChunkSize returns the effective chunk size for a configured value.
func ChunkSize(configured int) int {
	if configured <= 0 || configured > MaxChunkSize {
		return MaxChunkSize
	}
	return configured
}

// Run performs the transfer. The connection is closed exactly once on
// every path out of Run.
func (s *Session) Run(ctx context.Context, req Request) (Result, error) {
	if s.state != api.StateIdle {
		return Result{ID: s.id, State: s.state, Sent: s.sent}, fmt.Errorf("%w: session already used", api.ErrInvalidArgument)
	}
	start := time.Now()
	err := s.run(ctx, req)
	if err != nil {
		s.transition(api.StateFailed)
		s.log.Debug("upload failed", "file", req.Filename, "err", err)
	}
	return Result{ID: s.id, State: s.state, Sent: s.sent, Elapsed: time.Since(start)}, err
}

func (s *Session) run(ctx context.Context, req Request) (err error) {
	if req.Source == nil || req.Size < 0 {
		return fmt.Errorf("%w: missing source", api.ErrInvalidArgument)
	}

	s.transition(api.StateConnecting)
	conn, err := s.cfg.Dial(ctx, req.Host, req.Port, s.cfg.Client)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.log.Debug("close failed", "err", cerr)
		}
	}()

	start := fmt.Sprintf("START:%s:%d:%s", req.Filename, req.Size, req.DestDir)
	s.log.Debug("sending START", "cmd", start)
	if err := conn.SendText(start); err != nil {
		return err
	}

	s.transition(api.StateAwaitingReady)
	msg, err := conn.ReadText(0)
	if err != nil {
		return err
	}
	s.log.Debug("received", "msg", msg)
	switch {
	case msg == "":
		return fmt.Errorf("%w: unexpected response: <empty>", api.ErrProtocol)
	case strings.HasPrefix(msg, "ERROR"):
		return &api.DeviceError{Message: msg}
	case msg != "READY":
		return fmt.Errorf("%w: unexpected response: %s", api.ErrProtocol, msg)
	}

	s.transition(api.StateTransferring)
	if err := s.transfer(ctx, conn, req); err != nil {
		return err
	}

	s.transition(api.StateAwaitingCompletion)
	for {
		msg, err := conn.ReadText(0)
		if err != nil {
			return err
		}
		s.log.Debug("received", "msg", msg)
		if msg == "DONE" {
			s.transition(api.StateDone)
			return nil
		}
		if strings.HasPrefix(msg, "ERROR") {
			return &api.DeviceError{Message: msg}
		}
	}
}

func (s *Session) transfer(ctx context.Context, conn Transport, req Request) error {
	size := ChunkSize(s.cfg.ChunkSize)
	chunks := pool.ChunkPool()
	buf := chunks.GetBuffer()[:size]
	defer chunks.PutBuffer(buf)

	// One byte past Size exposes a source longer than announced.
	src := io.LimitReader(req.Source, req.Size+1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := io.ReadFull(src, buf)
		if s.sent+int64(n) > req.Size {
			return fmt.Errorf("%w: source longer than %d bytes", api.ErrInvalidArgument, req.Size)
		}
		if n > 0 {
			if err := conn.SendBinary(buf[:n]); err != nil {
				return err
			}
			s.sent += int64(n)
			if s.cfg.Progress != nil {
				s.cfg.Progress(s.sent, req.Size)
			}
			acks, err := conn.DrainPending()
			if err != nil {
				return err
			}
			for _, a := range acks {
				s.log.Debug("pending", "msg", a)
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read source: %w", rerr)
		}
	}
	if s.sent != req.Size {
		return fmt.Errorf("%w: source yielded %d of %d bytes", api.ErrInvalidArgument, s.sent, req.Size)
	}
	return nil
}

func (s *Session) transition(to api.SessionState) {
	s.log.Debug("state", "from", s.state.String(), "to", to.String())
	s.state = to
}
