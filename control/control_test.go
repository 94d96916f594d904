// File: control/control_test.go
// Package control_test: preferences, config store and metrics.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/momentics/crosspoint-ws/control"
)

func TestLoadPrefsMissingFile(t *testing.T) {
	p, err := control.LoadPrefs(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatal(err)
	}
	if p != control.DefaultPrefs() {
		t.Errorf("got %+v", p)
	}
}

func TestSaveLoadPrefs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "prefs.json")
	want := control.DefaultPrefs()
	want.Host = "10.0.0.5"
	want.ChunkSize = 1024
	want.Debug = true
	if err := control.SavePrefs(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := control.LoadPrefs(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestLoadPrefsPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(path, []byte(`{"host":"  ","port":0,"path":"/Books"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := control.LoadPrefs(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Host != "192.168.4.1" || p.Port != 81 || p.Path != "/Books" || p.ChunkSize != 2048 {
		t.Errorf("got %+v", p)
	}
}

func TestLoadPrefsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	os.WriteFile(path, []byte("{"), 0o600)
	if _, err := control.LoadPrefs(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadPrefsEnv(t *testing.T) {
	t.Setenv("CROSSPOINT_HOST", "192.168.1.50")
	t.Setenv("CROSSPOINT_PORT", "8081")
	t.Setenv("CROSSPOINT_DEBUG", "true")
	p, err := control.LoadPrefs("")
	if err != nil {
		t.Fatal(err)
	}
	if p.Host != "192.168.1.50" || p.Port != 8081 || !p.Debug {
		t.Errorf("got %+v", p)
	}
	t.Setenv("CROSSPOINT_PORT", "eighty")
	if _, err := control.LoadPrefs(""); err == nil {
		t.Error("expected error for bad port")
	}
}

func TestConfigStoreReload(t *testing.T) {
	cs := control.NewConfigStore(control.Prefs{})
	if cs.Get().Port != 81 {
		t.Errorf("store not normalized: %+v", cs.Get())
	}
	var seen []control.Prefs
	cs.OnReload(func(p control.Prefs) { seen = append(seen, p) })
	cs.Update(func(p *control.Prefs) { p.ReadTimeout = 3 * time.Second })
	if len(seen) != 1 || seen[0].ReadTimeout != 3*time.Second {
		t.Errorf("listeners saw %+v", seen)
	}
	if cs.Get().ReadTimeout != 3*time.Second {
		t.Error("update not stored")
	}
}

func TestMetricsRegistry(t *testing.T) {
	mr := control.NewMetricsRegistry()
	mr.Add(control.MetricBytesUploaded, 100)
	mr.Add(control.MetricBytesUploaded, 50)
	mr.Add(control.MetricUploadsOK, 1)
	snap := mr.GetSnapshot()
	if snap[control.MetricBytesUploaded] != 150 || snap[control.MetricUploadsOK] != 1 {
		t.Errorf("snapshot %v", snap)
	}
	if mr.Get(control.MetricUploadsFailed) != 0 {
		t.Error("unset counter not zero")
	}
	if mr.Updated().IsZero() {
		t.Error("updated time not set")
	}
}

func TestPrefsDurationsAsText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	if err := control.SavePrefs(path, control.DefaultPrefs()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"connect_timeout": "10s"`, `"read_timeout": "10s"`, `"discovery_timeout": "1s"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("saved prefs missing %s:\n%s", want, data)
		}
	}

	os.WriteFile(path, []byte(`{"read_timeout":"1m30s","connect_timeout":4}`), 0o600)
	p, err := control.LoadPrefs(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.ReadTimeout != 90*time.Second || p.ConnectTimeout != 4*time.Second || p.DiscoveryTimeout != time.Second {
		t.Errorf("got %+v", p)
	}

	os.WriteFile(path, []byte(`{"read_timeout":"soon"}`), 0o600)
	if _, err := control.LoadPrefs(path); err == nil {
		t.Error("expected error for bad duration")
	}
}
