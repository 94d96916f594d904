// File: cmd/crosspoint/main.go
// Package main
// Command-line front end for the CrossPoint reader link: discovery, book
// upload and the device file API.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/momentics/crosspoint-ws/api"
	"github.com/momentics/crosspoint-ws/control"
	"github.com/momentics/crosspoint-ws/facade"
)

const usage = `usage: crosspoint [flags] <command> [args]

commands:
  discover              find the reader on the local network
  upload <file>...      send books to the reader
  ls                    list books on the reader
  rm <path>...          delete files from the reader
  get <path> <out>      download a file from the reader

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	config   string
	host     string
	port     int
	httpPort int
	path     string
	chunk    int
	debug    bool
	discover bool
	timeout  time.Duration
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("crosspoint", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	var o options
	fs.StringVar(&o.config, "config", "", "JSON preferences file")
	fs.StringVar(&o.host, "host", "", "device host (overrides config)")
	fs.IntVar(&o.port, "port", 0, "device WebSocket port (overrides config)")
	fs.IntVar(&o.httpPort, "http-port", 0, "device HTTP port (overrides config)")
	fs.StringVar(&o.path, "path", "", "upload directory on the device")
	fs.IntVar(&o.chunk, "chunk", 0, "upload chunk size in bytes, capped at 2048")
	fs.BoolVar(&o.debug, "debug", false, "verbose logging")
	fs.BoolVar(&o.discover, "discover", false, "run discovery before file commands")
	fs.DurationVar(&o.timeout, "timeout", 0, "connect and read timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	prefs, err := control.LoadPrefs(o.config)
	if err != nil {
		fmt.Fprintln(stderr, "crosspoint:", err)
		return 1
	}
	store := control.NewConfigStore(prefs)
	store.Update(o.apply)
	prefs = store.Get()

	level := slog.LevelWarn
	if prefs.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	m := facade.New(facade.Config{
		Store:  store,
		Logger: logger,
	})
	if prefs.Debug {
		defer printMetrics(stderr, m.Metrics())
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if o.discover && cmd != "discover" {
		if _, ok, err := m.Detect(ctx); err != nil || !ok {
			logger.Warn("discovery found no device, using configured address", "err", err)
		}
	}
	if err := dispatch(ctx, m, cmd, rest, stdout); err != nil {
		fmt.Fprintln(stderr, "crosspoint:", err)
		return 1
	}
	return 0
}

func (o options) apply(p *control.Prefs) {
	if o.host != "" {
		p.Host = o.host
	}
	if o.port != 0 {
		p.Port = o.port
	}
	if o.httpPort != 0 {
		p.HTTPPort = o.httpPort
	}
	if o.path != "" {
		p.Path = o.path
	}
	if o.chunk != 0 {
		p.ChunkSize = o.chunk
	}
	if o.debug {
		p.Debug = true
	}
	if o.timeout > 0 {
		p.ConnectTimeout = o.timeout
		p.ReadTimeout = o.timeout
	}
}

func dispatch(ctx context.Context, m *facade.Manager, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "discover":
		res, ok, err := m.Detect(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return api.ErrDiscoveryFailed
		}
		fmt.Fprintln(out, res.Addr())
		return nil

	case "upload":
		if len(args) == 0 {
			return fmt.Errorf("upload: no files given")
		}
		books := make([]facade.BookFile, len(args))
		for i, a := range args {
			books[i] = facade.BookFile{Path: a}
		}
		locs, err := m.UploadBooks(ctx, books)
		for _, l := range locs {
			fmt.Fprintf(out, "%s\t%d\n", l.LPath, l.Size)
		}
		return err

	case "ls":
		books, err := m.Books(ctx)
		if err != nil {
			return err
		}
		for _, b := range books {
			fmt.Fprintf(out, "%s\t%d\t%s\n", b.LPath, b.Size, b.Title)
		}
		return nil

	case "rm":
		if len(args) == 0 {
			return fmt.Errorf("rm: no paths given")
		}
		return m.Delete(ctx, args)

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("get: want <path> <out>")
		}
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		if err := m.Download(ctx, args[0], f); err != nil {
			f.Close()
			os.Remove(args[1])
			return err
		}
		return f.Close()

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printMetrics(w io.Writer, mr *control.MetricsRegistry) {
	snap := mr.GetSnapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "metric %s=%d\n", k, snap[k])
	}
}
