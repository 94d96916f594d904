// Package fake
// Author: momentics <momentics@gmail.com>
//
// Simulated CrossPoint reader for tests and local development: the upload
// WebSocket endpoint, the JSON/HTTP file API and the UDP announce responder.
// Behavior is controlled through exported knobs set before Start.

package fake

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Device is a fake reader.
type Device struct {
	// StartReply answers START; "READY" when empty.
	StartReply string
	// FinalReply terminates an upload; "DONE" when empty.
	FinalReply string
	// Status messages sent after the last chunk, before FinalReply.
	Status []string
	// AckChunks sends a text acknowledgement after every binary chunk.
	AckChunks bool
	// PingBeforeReady sends a Ping with payload "x" before StartReply.
	PingBeforeReady bool
	// CloseAfterChunks closes with 1011 "storage" after that many chunks; 0 disables.
	CloseAfterChunks int

	mu     sync.Mutex
	files  map[string][]byte
	starts []string
	chunks []int
	pongs  int

	upgrader websocket.Upgrader
	server   *httptest.Server
	udp      *net.UDPConn
}

// NewDevice returns a stopped device with an empty file system.
func NewDevice() *Device {
	return &Device{
		files:    make(map[string][]byte),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Start serves WebSocket and HTTP on a loopback port.
func (d *Device) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/files", d.handleList)
	mux.HandleFunc("/delete", d.handleDelete)
	mux.HandleFunc("/download", d.handleDownload)
	mux.HandleFunc("/", d.handleRoot)
	d.server = httptest.NewServer(mux)
}

// Close stops every listener.
func (d *Device) Close() {
	if d.server != nil {
		d.server.Close()
	}
	if d.udp != nil {
		d.udp.Close()
	}
}

// Host returns the listening IP.
func (d *Device) Host() string {
	return d.server.Listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port shared by WebSocket and HTTP.
func (d *Device) Port() int {
	return d.server.Listener.Addr().(*net.TCPAddr).Port
}

// Put stores a file as if it had been uploaded.
func (d *Device) Put(p string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[p] = append([]byte(nil), data...)
}

// File returns a stored file.
func (d *Device) File(p string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.files[p]
	return b, ok
}

// Starts returns every START command received.
func (d *Device) Starts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.starts...)
}

// Chunks returns the binary frame sizes of every upload, in order.
func (d *Device) Chunks() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.chunks...)
}

// Pongs returns how many Pong frames the device received.
func (d *Device) Pongs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pongs
}

func (d *Device) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.NotFound(w, r)
		return
	}
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetPongHandler(func(string) error {
		d.mu.Lock()
		d.pongs++
		d.mu.Unlock()
		return nil
	})
	d.serveUpload(conn)
}

func (d *Device) serveUpload(conn *websocket.Conn) {
	mt, msg, err := conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		return
	}
	cmd := string(msg)
	d.mu.Lock()
	d.starts = append(d.starts, cmd)
	d.mu.Unlock()

	parts := strings.SplitN(cmd, ":", 4)
	if len(parts) != 4 || parts[0] != "START" {
		conn.WriteMessage(websocket.TextMessage, []byte("ERROR: bad command"))
		return
	}
	name, dir := parts[1], parts[3]
	size, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		conn.WriteMessage(websocket.TextMessage, []byte("ERROR: bad size"))
		return
	}

	if d.PingBeforeReady {
		conn.WriteControl(websocket.PingMessage, []byte("x"), time.Now().Add(time.Second))
	}
	reply := d.StartReply
	if reply == "" {
		reply = "READY"
	}
	conn.WriteMessage(websocket.TextMessage, []byte(reply))
	if reply != "READY" {
		d.waitClose(conn)
		return
	}

	var body []byte
	count := 0
	for int64(len(body)) < size {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		body = append(body, data...)
		count++
		d.mu.Lock()
		d.chunks = append(d.chunks, len(data))
		d.mu.Unlock()
		if d.CloseAfterChunks > 0 && count >= d.CloseAfterChunks {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "storage"))
			return
		}
		if d.AckChunks {
			conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("ACK %d", len(body))))
		}
	}

	for _, s := range d.Status {
		conn.WriteMessage(websocket.TextMessage, []byte(s))
	}
	final := d.FinalReply
	if final == "" {
		final = "DONE"
	}
	if final == "DONE" {
		d.Put(path.Join("/", dir, name), body)
	}
	conn.WriteMessage(websocket.TextMessage, []byte(final))
	d.waitClose(conn)
}

// waitClose drains frames until the client closes, so that Pong and Close
// frames are consumed.
func (d *Device) waitClose(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Entry mirrors one element of the /api/files listing.
type Entry struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	IsDirectory bool   `json:"isDirectory"`
	IsEpub      bool   `json:"isEpub"`
}

func (d *Device) handleList(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	entries := make([]Entry, 0, len(d.files))
	for p, b := range d.files {
		name := strings.TrimPrefix(p, "/")
		entries = append(entries, Entry{
			Name:   name,
			Size:   int64(len(b)),
			IsEpub: strings.HasSuffix(strings.ToLower(name), ".epub"),
		})
	}
	d.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	entries = append(entries, Entry{Name: "sleep", IsDirectory: true})
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (d *Device) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := r.PostFormValue("path")
	d.mu.Lock()
	_, ok := d.files[p]
	delete(d.files, p)
	d.mu.Unlock()
	if !ok {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	fmt.Fprint(w, "Deleted")
}

func (d *Device) handleDownload(w http.ResponseWriter, r *http.Request) {
	b, ok := d.File(r.URL.Query().Get("path"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/epub+zip")
	w.Write(b)
}
