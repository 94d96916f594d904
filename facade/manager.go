// File: facade/manager.go
// Device manager facade for the CrossPoint reader.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The Manager ties discovery, upload sessions and the device's JSON/HTTP
// file API behind one type. It owns the discovery throttle and remembers
// the last discovered address until Eject.

package facade

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/momentics/crosspoint-ws/api"
	"github.com/momentics/crosspoint-ws/client"
	"github.com/momentics/crosspoint-ws/control"
	"github.com/momentics/crosspoint-ws/discovery"
	"github.com/momentics/crosspoint-ws/upload"
)

const (
	// DiscoveryInterval is the minimum spacing of discovery runs.
	DiscoveryInterval = 2 * time.Second
	// StorageBytes is the fixed capacity reported for the device.
	StorageBytes = 10 << 30
	DeviceName   = "CrossPoint Reader"
)

// TransformFunc rewrites a book before upload. It returns the path to send
// and a cleanup func run after the batch.
type TransformFunc func(path string) (string, func(), error)

// ReportFunc receives overall batch progress in [0,1].
type ReportFunc func(fraction float64, msg string)

// Config holds parameters immutable per Manager.
type Config struct {
	Store          *control.ConfigStore     // preferences, defaults when nil
	Metrics        *control.MetricsRegistry // counters, private registry when nil
	Logger         *slog.Logger
	Log            api.LogFunc // plain text sink, used when Logger is nil
	HTTPClient     *http.Client
	DiscoveryPorts []int            // announce ports, discovery.Ports when nil
	Now            func() time.Time // clock for the discovery throttle
	Transform      TransformFunc
	Report         ReportFunc
	Dial           upload.DialFunc
}

// Manager is the main facade type.
type Manager struct {
	cfg     Config
	store   *control.ConfigStore
	metrics *control.MetricsRegistry
	log     *slog.Logger
	http    *http.Client

	mu            sync.Mutex
	connected     bool
	host          string
	port          int
	lastDiscovery time.Time
	prefsHost     string
	prefsPort     int
}

// New builds a Manager.
func New(cfg Config) *Manager {
	if cfg.Store == nil {
		cfg.Store = control.NewConfigStore(control.DefaultPrefs())
	}
	if cfg.Metrics == nil {
		cfg.Metrics = control.NewMetricsRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Report == nil {
		cfg.Report = func(float64, string) {}
	}
	if cfg.Logger == nil && cfg.Log != nil {
		cfg.Logger = api.NewSinkLogger(cfg.Log, cfg.Store.Get().Debug)
	}
	m := &Manager{
		cfg:     cfg,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		log:     api.LoggerOrDefault(cfg.Logger),
		http:    cfg.HTTPClient,
	}
	prefs := cfg.Store.Get()
	m.prefsHost, m.prefsPort = prefs.Host, prefs.Port
	cfg.Store.OnReload(m.reload)
	return m
}

// reload forgets the discovered device and the discovery throttle when the
// configured address changes.
func (m *Manager) reload(p control.Prefs) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Host == m.prefsHost && p.Port == m.prefsPort {
		return
	}
	m.prefsHost, m.prefsPort = p.Host, p.Port
	m.connected = false
	m.host, m.port = "", 0
	m.lastDiscovery = time.Time{}
	m.log.Debug("device address changed", "host", p.Host, "port", p.Port)
}

// Store returns the preferences store the manager reads.
func (m *Manager) Store() *control.ConfigStore { return m.store }

// Metrics returns the registry updated by the manager.
func (m *Manager) Metrics() *control.MetricsRegistry { return m.metrics }

// Detect returns the device address, running discovery when not connected.
// Calls closer than DiscoveryInterval to the previous run report no device
// without probing.
func (m *Manager) Detect(ctx context.Context) (api.DiscoveryResult, bool, error) {
	m.mu.Lock()
	if m.connected {
		res := api.DiscoveryResult{Host: m.host, Port: m.port}
		m.mu.Unlock()
		return res, true, nil
	}
	now := m.cfg.Now()
	if !m.lastDiscovery.IsZero() && now.Sub(m.lastDiscovery) < DiscoveryInterval {
		m.mu.Unlock()
		return api.DiscoveryResult{}, false, nil
	}
	m.lastDiscovery = now
	m.mu.Unlock()

	prefs := m.store.Get()
	m.log.Debug("detect managed devices")
	m.metrics.Add(control.MetricDiscoveryAttempts, 1)
	res, ok, err := discovery.Discover(ctx, discovery.Config{
		Timeout: prefs.DiscoveryTimeout,
		Hosts:   []string{prefs.Host},
		Ports:   m.cfg.DiscoveryPorts,
		Logger:  m.log,
	})
	if err != nil {
		return res, false, err
	}
	if !ok {
		m.log.Debug("discovery failed")
		return res, false, nil
	}
	m.log.Debug("discovered", "host", res.Host, "port", res.Port)
	m.metrics.Add(control.MetricDiscoveryHits, 1)

	m.mu.Lock()
	m.connected, m.host, m.port = true, res.Host, res.Port
	m.mu.Unlock()
	return res, true, nil
}

// Connected reports whether a device address is held.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Eject forgets the discovered device.
func (m *Manager) Eject() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

// Address returns the discovered address, or the configured one.
func (m *Manager) Address() (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefs := m.store.Get()
	host, port := prefs.Host, prefs.Port
	if m.host != "" {
		host = m.host
	}
	if m.port != 0 {
		port = m.port
	}
	return host, port
}

// DeviceInfo describes the device to host applications.
type DeviceInfo struct {
	StoreUUID string
	Name      string
	Version   string
}

// DeviceInfo returns identity derived from the device host.
func (m *Manager) DeviceInfo() DeviceInfo {
	host, _ := m.Address()
	return DeviceInfo{
		StoreUUID: "crosspoint-" + strings.ReplaceAll(host, ".", "-"),
		Name:      DeviceName,
		Version:   "1",
	}
}

// Space reports total and free bytes.
func (m *Manager) Space() (total, free int64) {
	return StorageBytes, StorageBytes
}

// BookFile is one book to upload.
type BookFile struct {
	Path string // local file
	Name string // name on the device; base of Path when empty
}

// Location is where an uploaded book landed.
type Location struct {
	LPath string
	Size  int64
}

// LocalPath joins an upload directory and a file name the way the device
// stores it: leading slash, no trailing slash.
func LocalPath(uploadPath, filename string) string {
	if !strings.HasPrefix(uploadPath, "/") {
		uploadPath = "/" + uploadPath
	}
	if uploadPath != "/" {
		uploadPath = strings.TrimSuffix(uploadPath, "/")
	}
	if uploadPath == "/" {
		return "/" + filename
	}
	return uploadPath + "/" + filename
}

// UploadBooks sends each book in turn. The first failure aborts the batch.
func (m *Manager) UploadBooks(ctx context.Context, books []BookFile) ([]Location, error) {
	prefs := m.store.Get()
	host, port := m.Address()
	chunk := prefs.ChunkSize
	if chunk > upload.MaxChunkSize {
		m.log.Info(fmt.Sprintf("chunk_size capped to %d (was %d)", upload.MaxChunkSize, chunk))
		chunk = upload.MaxChunkSize
	}

	var cleanups []func()
	defer func() {
		for _, fn := range cleanups {
			fn()
		}
	}()

	cc := client.DefaultConfig()
	cc.ConnectTimeout = prefs.ConnectTimeout
	cc.ReadTimeout = prefs.ReadTimeout
	cc.Logger = m.log

	total := float64(len(books))
	out := make([]Location, 0, len(books))
	for i, b := range books {
		name := b.Name
		if name == "" {
			name = b.Path
		}
		filename := path.Base(strings.ReplaceAll(name, "\\", "/"))
		src := b.Path

		if m.cfg.Transform != nil && strings.HasSuffix(strings.ToLower(src), ".epub") {
			m.cfg.Report(float64(i)/total, "Converting images in "+filename+"...")
			converted, cleanup, err := m.cfg.Transform(src)
			if err != nil {
				m.log.Warn("conversion failed, sending original", "file", filename, "err", err)
			} else {
				if cleanup != nil {
					cleanups = append(cleanups, cleanup)
				}
				src = converted
			}
		}

		idx := float64(i)
		res, err := upload.File(ctx, upload.Config{
			ChunkSize: chunk,
			Client:    cc,
			Dial:      m.cfg.Dial,
			Logger:    m.log,
			Progress: func(sent, size int64) {
				if size > 0 {
					m.cfg.Report((idx+float64(sent)/float64(size))/total, "Transferring books to device...")
				}
			},
		}, host, port, prefs.Path, filename, src)
		m.metrics.Add(control.MetricBytesUploaded, res.Sent)
		if err != nil {
			m.metrics.Add(control.MetricUploadsFailed, 1)
			return out, fmt.Errorf("upload %s: %w", filename, err)
		}
		m.metrics.Add(control.MetricUploadsOK, 1)
		out = append(out, Location{LPath: LocalPath(prefs.Path, filename), Size: res.Sent})
	}
	m.cfg.Report(1, "Transferring books to device...")
	return out, nil
}
