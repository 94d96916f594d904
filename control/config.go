// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Device preferences and a thread-safe store with reload propagation.

package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Prefs are the user-facing settings of the reader link.
type Prefs struct {
	Host             string        `json:"host"`
	Port             int           `json:"port"`
	HTTPPort         int           `json:"http_port"`
	Path             string        `json:"path"`
	ChunkSize        int           `json:"chunk_size"`
	Debug            bool          `json:"debug"`
	FetchMetadata    bool          `json:"fetch_metadata"`
	ConnectTimeout   time.Duration `json:"connect_timeout"`
	ReadTimeout      time.Duration `json:"read_timeout"`
	DiscoveryTimeout time.Duration `json:"discovery_timeout"`
}

// DefaultPrefs returns the factory settings.
func DefaultPrefs() Prefs {
	return Prefs{
		Host:             "192.168.4.1",
		Port:             81,
		HTTPPort:         80,
		Path:             "/",
		ChunkSize:        2048,
		ConnectTimeout:   10 * time.Second,
		ReadTimeout:      10 * time.Second,
		DiscoveryTimeout: time.Second,
	}
}

// Normalize replaces unset fields with defaults.
func (p Prefs) Normalize() Prefs {
	d := DefaultPrefs()
	p.Host = strings.TrimSpace(p.Host)
	if p.Host == "" {
		p.Host = d.Host
	}
	if p.Port <= 0 || p.Port > 65535 {
		p.Port = d.Port
	}
	if p.HTTPPort <= 0 || p.HTTPPort > 65535 {
		p.HTTPPort = d.HTTPPort
	}
	p.Path = strings.TrimSpace(p.Path)
	if p.Path == "" {
		p.Path = d.Path
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = d.ChunkSize
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = d.ConnectTimeout
	}
	if p.ReadTimeout <= 0 {
		p.ReadTimeout = d.ReadTimeout
	}
	if p.DiscoveryTimeout <= 0 {
		p.DiscoveryTimeout = d.DiscoveryTimeout
	}
	return p
}

// LoadPrefs reads prefs from a JSON file. A missing file yields defaults.
// Environment overrides are applied last.
func LoadPrefs(path string) (Prefs, error) {
	p := DefaultPrefs()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return p, fmt.Errorf("read prefs: %w", err)
		default:
			if err := json.Unmarshal(data, &p); err != nil {
				return p, fmt.Errorf("parse prefs %s: %w", path, err)
			}
		}
	}
	if err := p.applyEnv(os.LookupEnv); err != nil {
		return p, err
	}
	return p.Normalize(), nil
}

// duration is the on-disk form of a time.Duration: a string such as "10s",
// or a bare number of seconds.
type duration time.Duration

func (d duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		pd, err := time.ParseDuration(x)
		if err != nil {
			return err
		}
		*d = duration(pd)
	case float64:
		*d = duration(x * float64(time.Second))
	case nil:
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// MarshalJSON writes timeouts as duration strings.
func (p Prefs) MarshalJSON() ([]byte, error) {
	type plain Prefs
	return json.Marshal(struct {
		plain
		ConnectTimeout   duration `json:"connect_timeout"`
		ReadTimeout      duration `json:"read_timeout"`
		DiscoveryTimeout duration `json:"discovery_timeout"`
	}{plain(p), duration(p.ConnectTimeout), duration(p.ReadTimeout), duration(p.DiscoveryTimeout)})
}

// UnmarshalJSON accepts duration strings or seconds for the timeouts.
// Fields absent from the input keep their current values.
func (p *Prefs) UnmarshalJSON(b []byte) error {
	type plain Prefs
	aux := struct {
		plain
		ConnectTimeout   duration `json:"connect_timeout"`
		ReadTimeout      duration `json:"read_timeout"`
		DiscoveryTimeout duration `json:"discovery_timeout"`
	}{plain(*p), duration(p.ConnectTimeout), duration(p.ReadTimeout), duration(p.DiscoveryTimeout)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*p = Prefs(aux.plain)
	p.ConnectTimeout = time.Duration(aux.ConnectTimeout)
	p.ReadTimeout = time.Duration(aux.ReadTimeout)
	p.DiscoveryTimeout = time.Duration(aux.DiscoveryTimeout)
	return nil
}

// SavePrefs writes prefs as indented JSON, creating parent directories.
func SavePrefs(path string, p Prefs) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save prefs: %w", err)
	}
	data, err := json.MarshalIndent(p.Normalize(), "", "  ")
	if err != nil {
		return fmt.Errorf("save prefs: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func (p *Prefs) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("CROSSPOINT_HOST"); ok {
		p.Host = v
	}
	if v, ok := lookup("CROSSPOINT_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CROSSPOINT_PORT: %w", err)
		}
		p.Port = n
	}
	if v, ok := lookup("CROSSPOINT_PATH"); ok {
		p.Path = v
	}
	if v, ok := lookup("CROSSPOINT_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CROSSPOINT_DEBUG: %w", err)
		}
		p.Debug = b
	}
	return nil
}

// ConfigStore holds the current Prefs with listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	prefs     Prefs
	listeners []func(Prefs)
}

// NewConfigStore initializes a store with p.
func NewConfigStore(p Prefs) *ConfigStore {
	return &ConfigStore{prefs: p.Normalize()}
}

// Get returns a copy of the current prefs.
func (cs *ConfigStore) Get() Prefs {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.prefs
}

// Set replaces the prefs and notifies listeners synchronously.
func (cs *ConfigStore) Set(p Prefs) {
	p = p.Normalize()
	cs.mu.Lock()
	cs.prefs = p
	listeners := append([]func(Prefs){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn(p)
	}
}

// Update applies fn to a copy of the prefs and stores the result.
func (cs *ConfigStore) Update(fn func(*Prefs)) {
	p := cs.Get()
	fn(&p)
	cs.Set(p)
}

// OnReload registers a listener called after every Set.
func (cs *ConfigStore) OnReload(fn func(Prefs)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
