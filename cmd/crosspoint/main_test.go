// File: cmd/crosspoint/main_test.go
// Package main: command-line front end.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/momentics/crosspoint-ws/api"
	"github.com/momentics/crosspoint-ws/fake"
)

func device(t *testing.T) (*fake.Device, []string) {
	t.Helper()
	d := fake.NewDevice()
	d.Start()
	t.Cleanup(d.Close)
	port := strconv.Itoa(d.Port())
	return d, []string{"-host", d.Host(), "-port", port, "-http-port", port}
}

func TestUploadListGetRemove(t *testing.T) {
	d, flags := device(t)
	dir := t.TempDir()
	book := filepath.Join(dir, "Emma.epub")
	if err := os.WriteFile(book, []byte("chapter one"), 0o600); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	if code := run(t.Context(), append(flags, "upload", book), &out, &errOut); code != 0 {
		t.Fatalf("upload exit %d: %s", code, errOut.String())
	}
	if got := out.String(); got != "/Emma.epub\t11\n" {
		t.Errorf("upload output %q", got)
	}

	out.Reset()
	if code := run(t.Context(), append(flags, "ls"), &out, &errOut); code != 0 {
		t.Fatalf("ls exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "/Emma.epub\t11\tEmma") {
		t.Errorf("ls output %q", out.String())
	}

	dst := filepath.Join(dir, "copy.epub")
	if code := run(t.Context(), append(flags, "get", "/Emma.epub", dst), &out, &errOut); code != 0 {
		t.Fatalf("get exit %d: %s", code, errOut.String())
	}
	if b, _ := os.ReadFile(dst); string(b) != "chapter one" {
		t.Errorf("downloaded %q", b)
	}

	if code := run(t.Context(), append(flags, "rm", "/Emma.epub"), &out, &errOut); code != 0 {
		t.Fatalf("rm exit %d: %s", code, errOut.String())
	}
	if _, ok := d.File("/Emma.epub"); ok {
		t.Error("file still on device")
	}
}

func TestUsageErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(t.Context(), nil, &out, &errOut); code != 2 {
		t.Errorf("no command: exit %d", code)
	}
	if code := run(t.Context(), []string{"bogus"}, &out, &errOut); code != 1 {
		t.Errorf("unknown command: exit %d", code)
	}
	if code := run(t.Context(), []string{"get", "/only-one"}, &out, &errOut); code != 1 {
		t.Errorf("bad get args: exit %d", code)
	}
}

func TestDebugPrintsMetrics(t *testing.T) {
	d, flags := device(t)
	d.StartReply = "ERROR: nope"
	book := filepath.Join(t.TempDir(), "x.epub")
	os.WriteFile(book, []byte("x"), 0o600)

	var out, errOut bytes.Buffer
	code := run(t.Context(), append(flags, "-debug", "upload", book), &out, &errOut)
	if code != 1 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(errOut.String(), "ERROR: nope") {
		t.Errorf("device error not reported: %s", errOut.String())
	}
	if !strings.Contains(errOut.String(), "metric uploads_failed=1") {
		t.Errorf("metrics missing: %s", errOut.String())
	}
}

func TestDiscoverNoDevice(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "prefs.json")
	if err := os.WriteFile(cfg, []byte(`{"host":"127.0.0.1","discovery_timeout":"50ms"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	var out, errOut bytes.Buffer
	if code := run(t.Context(), []string{"-config", cfg, "discover"}, &out, &errOut); code != 1 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(errOut.String(), api.ErrDiscoveryFailed.Error()) {
		t.Errorf("stderr %q", errOut.String())
	}
	if out.Len() != 0 {
		t.Errorf("stdout %q", out.String())
	}
}
