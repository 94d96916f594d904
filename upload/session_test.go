// File: upload/session_test.go
// Package upload_test: upload state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package upload_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/crosspoint-ws/api"
	"github.com/momentics/crosspoint-ws/client"
	"github.com/momentics/crosspoint-ws/fake"
	"github.com/momentics/crosspoint-ws/upload"
)

func startDevice(t *testing.T, setup func(d *fake.Device)) *fake.Device {
	t.Helper()
	d := fake.NewDevice()
	if setup != nil {
		setup(d)
	}
	d.Start()
	t.Cleanup(d.Close)
	return d
}

func sessionConfig(chunk int) upload.Config {
	cc := client.DefaultConfig()
	cc.ReadTimeout = 3 * time.Second
	cc.PollInterval = 200 * time.Millisecond
	return upload.Config{ChunkSize: chunk, Client: cc}
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func run(t *testing.T, d *fake.Device, cfg upload.Config, data []byte) (upload.Result, error) {
	t.Helper()
	return upload.NewSession(cfg).Run(t.Context(), upload.Request{
		Host:     d.Host(),
		Port:     d.Port(),
		Filename: "book.epub",
		Size:     int64(len(data)),
		DestDir:  "/Books",
		Source:   bytes.NewReader(data),
	})
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestUploadHappyPath(t *testing.T) {
	d := startDevice(t, nil)
	data := payload(5000)
	var progress [][2]int64
	cfg := sessionConfig(2048)
	cfg.Progress = func(sent, total int64) { progress = append(progress, [2]int64{sent, total}) }

	res, err := run(t, d, cfg, data)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != api.StateDone || res.Sent != 5000 {
		t.Errorf("result %+v", res)
	}
	if starts := d.Starts(); len(starts) != 1 || starts[0] != "START:book.epub:5000:/Books" {
		t.Errorf("starts %q", starts)
	}
	if got := d.Chunks(); !equalInts(got, []int{2048, 2048, 904}) {
		t.Errorf("chunks %v", got)
	}
	want := [][2]int64{{2048, 5000}, {4096, 5000}, {5000, 5000}}
	if len(progress) != len(want) {
		t.Fatalf("progress %v", progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, progress[i], want[i])
		}
	}
	if stored, ok := d.File("/Books/book.epub"); !ok || !bytes.Equal(stored, data) {
		t.Error("device did not store the uploaded bytes")
	}
}

func TestUploadErrorAfterStart(t *testing.T) {
	d := startDevice(t, func(d *fake.Device) { d.StartReply = "ERROR:disk full" })
	res, err := run(t, d, sessionConfig(2048), payload(5000))
	var de *api.DeviceError
	if !errors.As(err, &de) || de.Message != "ERROR:disk full" {
		t.Fatalf("got %v", err)
	}
	if err.Error() != "ERROR:disk full" {
		t.Errorf("error text %q", err.Error())
	}
	if res.State != api.StateFailed || res.Sent != 0 {
		t.Errorf("result %+v", res)
	}
	if n := len(d.Chunks()); n != 0 {
		t.Errorf("%d chunks sent", n)
	}
}

func TestUploadUnexpectedResponse(t *testing.T) {
	d := startDevice(t, func(d *fake.Device) { d.StartReply = "BUSY" })
	_, err := run(t, d, sessionConfig(2048), payload(10))
	if !errors.Is(err, api.ErrProtocol) {
		t.Fatalf("got %v", err)
	}
	var de *api.DeviceError
	if errors.As(err, &de) {
		t.Error("unexpected response reported as device error")
	}
}

func TestUploadChunkSizeClamp(t *testing.T) {
	d := startDevice(t, nil)
	if _, err := run(t, d, sessionConfig(8192), payload(9000)); err != nil {
		t.Fatal(err)
	}
	chunks := d.Chunks()
	if len(chunks) != 5 {
		t.Errorf("chunks %v", chunks)
	}
	for _, c := range chunks {
		if c > 2048 {
			t.Errorf("chunk of %d bytes on the wire", c)
		}
	}
}

func TestUploadEmptyFile(t *testing.T) {
	d := startDevice(t, nil)
	res, err := run(t, d, sessionConfig(2048), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != api.StateDone || len(d.Chunks()) != 0 {
		t.Errorf("result %+v chunks %v", res, d.Chunks())
	}
}

func TestUploadIgnoresStatusAndAcks(t *testing.T) {
	d := startDevice(t, func(d *fake.Device) {
		d.AckChunks = true
		d.Status = []string{"WRITING", "SYNC 100%"}
		d.PingBeforeReady = true
	})
	res, err := run(t, d, sessionConfig(1000), payload(3500))
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 3500 {
		t.Errorf("sent %d", res.Sent)
	}
	if d.Pongs() != 1 {
		t.Errorf("device saw %d pongs", d.Pongs())
	}
}

func TestUploadFinalError(t *testing.T) {
	d := startDevice(t, func(d *fake.Device) { d.FinalReply = "ERROR: write failed" })
	res, err := run(t, d, sessionConfig(2048), payload(100))
	var de *api.DeviceError
	if !errors.As(err, &de) || de.Message != "ERROR: write failed" {
		t.Fatalf("got %v", err)
	}
	if res.State != api.StateFailed {
		t.Errorf("state %v", res.State)
	}
}

func TestUploadPeerClosesMidTransfer(t *testing.T) {
	d := startDevice(t, func(d *fake.Device) { d.CloseAfterChunks = 1 })
	res, err := run(t, d, sessionConfig(2048), payload(8000))
	var ce *api.CloseError
	if !errors.As(err, &ce) || ce.Code != 1011 || ce.Reason != "storage" {
		t.Fatalf("got %v", err)
	}
	if res.State != api.StateFailed || res.Sent != 2048 {
		t.Errorf("result %+v", res)
	}
}

func TestUploadFile(t *testing.T) {
	d := startDevice(t, nil)
	path := filepath.Join(t.TempDir(), "novel.epub")
	data := payload(4100)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := upload.File(t.Context(), sessionConfig(2048), d.Host(), d.Port(), "/", "", path)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 4100 {
		t.Errorf("sent %d", res.Sent)
	}
	if stored, ok := d.File("/novel.epub"); !ok || !bytes.Equal(stored, data) {
		t.Error("file not stored")
	}
}

// scriptConn is an in-memory Transport.
type scriptConn struct {
	replies   []string
	binaryErr error
	texts     []string
	binaries  [][]byte
	closes    int
}

func (c *scriptConn) SendText(text string) error {
	c.texts = append(c.texts, text)
	return nil
}

func (c *scriptConn) SendBinary(p []byte) error {
	if c.binaryErr != nil {
		return c.binaryErr
	}
	c.binaries = append(c.binaries, append([]byte(nil), p...))
	return nil
}

func (c *scriptConn) ReadText(time.Duration) (string, error) {
	if len(c.replies) == 0 {
		return "", api.ErrTimeout
	}
	msg := c.replies[0]
	c.replies = c.replies[1:]
	return msg, nil
}

func (c *scriptConn) DrainPending() ([]string, error) { return nil, nil }

func (c *scriptConn) Close() error {
	c.closes++
	return nil
}

func scripted(conn *scriptConn) upload.Config {
	return upload.Config{
		ChunkSize: 2048,
		Dial: func(context.Context, string, int, client.Config) (upload.Transport, error) {
			return conn, nil
		},
	}
}

func TestUploadClosesOnceWhenSendFails(t *testing.T) {
	conn := &scriptConn{replies: []string{"READY"}, binaryErr: io.ErrClosedPipe}
	res, err := upload.NewSession(scripted(conn)).Run(t.Context(), upload.Request{
		Filename: "a.epub", Size: 10, DestDir: "/", Source: bytes.NewReader(payload(10)),
	})
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("got %v", err)
	}
	if conn.closes != 1 {
		t.Errorf("closed %d times", conn.closes)
	}
	if res.State != api.StateFailed {
		t.Errorf("state %v", res.State)
	}
}

func TestUploadEmptyReply(t *testing.T) {
	conn := &scriptConn{replies: []string{""}}
	_, err := upload.NewSession(scripted(conn)).Run(t.Context(), upload.Request{
		Filename: "a.epub", Size: 1, DestDir: "/", Source: bytes.NewReader([]byte{1}),
	})
	if !errors.Is(err, api.ErrProtocol) {
		t.Fatalf("got %v", err)
	}
	if len(conn.binaries) != 0 || conn.closes != 1 {
		t.Errorf("binaries=%d closes=%d", len(conn.binaries), conn.closes)
	}
}

func TestUploadTimeoutWaitingForDone(t *testing.T) {
	conn := &scriptConn{replies: []string{"READY", "RECEIVING"}}
	res, err := upload.NewSession(scripted(conn)).Run(t.Context(), upload.Request{
		Filename: "a.epub", Size: 3, DestDir: "/", Source: bytes.NewReader([]byte{1, 2, 3}),
	})
	if !errors.Is(err, api.ErrTimeout) {
		t.Fatalf("got %v", err)
	}
	if res.State != api.StateFailed || res.Sent != 3 {
		t.Errorf("result %+v", res)
	}
}

func TestUploadDialFailure(t *testing.T) {
	cfg := upload.Config{Dial: func(context.Context, string, int, client.Config) (upload.Transport, error) {
		return nil, api.ErrHandshakeFailed
	}}
	res, err := upload.NewSession(cfg).Run(t.Context(), upload.Request{Source: bytes.NewReader(nil)})
	if !errors.Is(err, api.ErrHandshakeFailed) || res.State != api.StateFailed {
		t.Fatalf("state %v err %v", res.State, err)
	}
}

func TestSessionIsSingleUse(t *testing.T) {
	conn := &scriptConn{replies: []string{"READY", "DONE"}}
	s := upload.NewSession(scripted(conn))
	req := upload.Request{Filename: "a", Size: 0, DestDir: "/", Source: bytes.NewReader(nil)}
	if _, err := s.Run(t.Context(), req); err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(t.Context(), req)
	if !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("second run: %v", err)
	}
	if res.State != api.StateDone {
		t.Errorf("second run changed state to %v", res.State)
	}
	if conn.closes != 1 || len(conn.texts) != 1 {
		t.Errorf("second run touched the transport: closes=%d texts=%q", conn.closes, conn.texts)
	}
}

func TestUploadSourceLongerThanSize(t *testing.T) {
	conn := &scriptConn{replies: []string{"READY", "DONE"}}
	res, err := upload.NewSession(scripted(conn)).Run(t.Context(), upload.Request{
		Filename: "a.epub", Size: 3000, DestDir: "/", Source: bytes.NewReader(payload(5000)),
	})
	if !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("got %v", err)
	}
	var sent int
	for _, b := range conn.binaries {
		sent += len(b)
	}
	if sent > 3000 || res.Sent > 3000 {
		t.Errorf("device received %d bytes (result %d), announced 3000", sent, res.Sent)
	}
	if res.State != api.StateFailed || conn.closes != 1 {
		t.Errorf("state %v closes %d", res.State, conn.closes)
	}
}

func TestUploadSourceShorterThanSize(t *testing.T) {
	conn := &scriptConn{replies: []string{"READY", "DONE"}}
	res, err := upload.NewSession(scripted(conn)).Run(t.Context(), upload.Request{
		Filename: "a.epub", Size: 3000, DestDir: "/", Source: bytes.NewReader(payload(1000)),
	})
	if !errors.Is(err, api.ErrInvalidArgument) || res.Sent != 1000 {
		t.Fatalf("sent %d err %v", res.Sent, err)
	}
}

func TestChunkSize(t *testing.T) {
	cases := map[int]int{0: 2048, -1: 2048, 512: 512, 2048: 2048, 8192: 2048}
	for in, want := range cases {
		if got := upload.ChunkSize(in); got != want {
			t.Errorf("ChunkSize(%d) = %d, want %d", in, got, want)
		}
	}
}
