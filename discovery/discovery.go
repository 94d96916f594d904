// File: discovery/discovery.go
// Package discovery locates the reader on the local network with UDP probes.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A probe round sends "hello" to the global broadcast address and to every
// candidate host (plus its /24 broadcast address) on each announce port,
// then listens for one reply. The reply sender is the device; the text after
// an optional ';' names the WebSocket port.

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/momentics/crosspoint-ws/api"
)

const (
	ProbePayload       = "hello"
	BroadcastAddr      = "255.255.255.255"
	DefaultServicePort = 81
	DefaultAttempts    = 3
	DefaultTimeout     = 2 * time.Second
	DefaultTTL         = 64
	replyBufferSize    = 256
)

// Ports are the announce ports of the device firmware, in probe order.
var Ports = []int{8134, 54982, 48123, 39001, 44044, 59678}

// Config controls one discovery run.
type Config struct {
	Timeout    time.Duration // listen window per attempt
	Hosts      []string      // candidate device hosts
	Ports      []int         // announce ports, Ports when empty
	Attempts   int           // probe rounds, DefaultAttempts when 0
	ListenAddr string        // local bind address, "0.0.0.0:0" when empty
	TTL        int           // unicast probe TTL, DefaultTTL when 0
	Logger     *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if len(c.Ports) == 0 {
		c.Ports = Ports
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:0"
	}
	c.Logger = api.LoggerOrDefault(c.Logger)
	return c
}

// Discover probes for the device. ok is false when nothing answered; err is
// reserved for failures to open the probe socket and for cancellation.
func Discover(ctx context.Context, cfg Config) (res api.DiscoveryResult, ok bool, err error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger

	p, err := openProbeConn(ctx, cfg)
	if err != nil {
		return res, false, err
	}
	defer p.Close()

	// Unblock a pending read when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = p.SetReadDeadline(time.Now()) })
	defer stop()

	targets := Targets(cfg.Hosts, cfg.Ports)
	probe := []byte(ProbePayload)
	buf := make([]byte, replyBufferSize)

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, false, err
		}
		probeAll(p, targets, probe, log)

		end := time.Now().Add(cfg.Timeout)
		if err := p.SetReadDeadline(end); err != nil {
			return res, false, fmt.Errorf("discovery deadline: %w", err)
		}
		n, cm, src, err := p.ReadFrom(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, false, ctxErr
			}
			if !isTimeout(err) {
				log.Debug("discovery receive failed", "attempt", attempt, "err", err)
			}
			continue
		}
		host := hostOf(src)
		if host == "" {
			continue
		}
		attrs := []any{"from", src.String(), "data", string(buf[:n]), "attempt", attempt}
		if cm != nil {
			attrs = append(attrs, "ifindex", cm.IfIndex, "dst", cm.Dst)
		}
		log.Debug("discovery reply", attrs...)
		return api.DiscoveryResult{Host: host, Port: ParseReply(buf[:n])}, true, nil
	}
	return res, false, nil
}

// openProbeConn binds the broadcast-capable probe socket.
func openProbeConn(ctx context.Context, cfg Config) (*ipv4.PacketConn, error) {
	lc := net.ListenConfig{Control: setSocketOptions}
	pc, err := lc.ListenPacket(ctx, "udp4", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery bind: %w", err)
	}
	cfg.Logger.Debug("discovery local", "addr", pc.LocalAddr().String())

	p := ipv4.NewPacketConn(pc)
	if err := p.SetTTL(cfg.TTL); err != nil {
		cfg.Logger.Debug("discovery ttl not set", "ttl", cfg.TTL, "err", err)
	}
	if err := p.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		cfg.Logger.Debug("discovery control messages unavailable", "err", err)
	}
	return p, nil
}

// probeAll sends the probe to every target. Per-target failures are logged
// and do not stop the round.
func probeAll(p *ipv4.PacketConn, targets []Target, probe []byte, log *slog.Logger) {
	for _, t := range targets {
		dst, err := net.ResolveUDPAddr("udp4", t.Addr())
		if err == nil {
			_, err = p.WriteTo(probe, nil, dst)
		}
		if err != nil {
			log.Debug("discovery send failed", "target", t.Addr(), "err", err)
		}
	}
}

func hostOf(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.String()
	case nil:
		return ""
	default:
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			return ""
		}
		return host
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Target is one probe destination.
type Target struct {
	Host string
	Port int
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}
