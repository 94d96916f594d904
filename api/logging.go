// File: api/logging.go
// Author: momentics <momentics@gmail.com>
//
// Adapter from a plain string sink to slog.

package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// NewSinkLogger returns a logger that renders each record as a single line
// and hands it to fn. Debug records are dropped unless debug is set.
func NewSinkLogger(fn LogFunc, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(&sinkHandler{fn: fn, level: level, mu: &sync.Mutex{}})
}

// LoggerOrDefault returns l, or slog.Default when l is nil.
func LoggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

type sinkHandler struct {
	fn    LogFunc
	level slog.Level
	attrs []slog.Attr
	group string
	mu    *sync.Mutex
}

func (h *sinkHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level
}

func (h *sinkHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString("[CrossPoint] ")
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", h.key(a.Key), a.Value.Any())
		return true
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fn != nil {
		h.fn(b.String())
	}
	return nil
}

func (h *sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &nh
}

// key qualifies k with the open group, if any.
func (h *sinkHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func (h *sinkHandler) WithGroup(name string) slog.Handler {
	nh := *h
	if nh.group != "" {
		name = nh.group + "." + name
	}
	nh.group = name
	return &nh
}
