// File: facade/files.go
// Author: momentics <momentics@gmail.com>
//
// JSON/HTTP file API of the device: listing, deletion and download.

package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/momentics/crosspoint-ws/api"
)

const httpTimeout = 5 * time.Second

// FileEntry is one element of the /api/files listing.
type FileEntry struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	IsDirectory bool   `json:"isDirectory"`
	IsEpub      bool   `json:"isEpub"`
}

// Book is an EPUB found on the device.
type Book struct {
	LPath string
	Title string
	Size  int64
}

func (m *Manager) httpBase() string {
	host, _ := m.Address()
	port := m.store.Get().HTTPPort
	if port == 80 {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func httpError(op, target string, err error) *api.Error {
	return api.NewError(api.ErrCodeDevice, op+" failed").Wrap(err).WithContext("url", target)
}

// Files returns the raw listing of dir.
func (m *Manager) Files(ctx context.Context, dir string) ([]FileEntry, error) {
	target := m.httpBase() + "/api/files?" + url.Values{"path": {dir}}.Encode()
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, httpError("HTTP request", target, err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, httpError("HTTP request", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, httpError("HTTP request", target, fmt.Errorf("status %d", resp.StatusCode))
	}
	var entries []FileEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, httpError("invalid JSON response", target, err)
	}
	return entries, nil
}

// Books lists the EPUB files in the device root. With FetchMetadata set,
// each book is downloaded and titled from its package metadata; the file
// name is used when that fails.
func (m *Manager) Books(ctx context.Context) ([]Book, error) {
	entries, err := m.Files(ctx, "/")
	if err != nil {
		return nil, err
	}
	fetch := m.store.Get().FetchMetadata
	var books []Book
	for _, e := range entries {
		if e.IsDirectory || !e.IsEpub || e.Name == "" {
			continue
		}
		lpath := e.Name
		if !strings.HasPrefix(lpath, "/") {
			lpath = "/" + lpath
		}
		base := path.Base(e.Name)
		title := strings.TrimSuffix(base, path.Ext(base))
		if fetch {
			if t, err := m.remoteTitle(ctx, lpath); err != nil {
				m.log.Debug("metadata unavailable", "path", lpath, "err", err)
			} else {
				title = t
			}
		}
		books = append(books, Book{LPath: lpath, Title: title, Size: e.Size})
	}
	return books, nil
}

// Delete removes files from the device. The first failure stops the loop.
func (m *Manager) Delete(ctx context.Context, paths []string) error {
	for _, p := range paths {
		target := m.httpBase() + "/delete"
		form := url.Values{"path": {p}, "type": {"file"}}
		rctx, cancel := context.WithTimeout(ctx, httpTimeout)
		req, err := http.NewRequestWithContext(rctx, http.MethodPost, target, strings.NewReader(form.Encode()))
		if err != nil {
			cancel()
			return httpError("HTTP request", target, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := m.http.Do(req)
		if err != nil {
			cancel()
			return httpError("HTTP request", target, err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		if resp.StatusCode != http.StatusOK {
			return api.NewError(api.ErrCodeDevice, fmt.Sprintf("delete failed for %s: %s", p, strings.TrimSpace(string(body)))).
				WithContext("status", resp.StatusCode)
		}
		m.log.Debug("deleted", "path", p)
	}
	return nil
}

// Download streams a device file into w.
func (m *Manager) Download(ctx context.Context, p string, w io.Writer) error {
	target := m.httpBase() + "/download?" + url.Values{"path": {p}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return httpError("download", target, err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return httpError("download", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return api.NewError(api.ErrCodeNotFound, "failed to download "+p).WithContext("status", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return httpError("download", target, err)
	}
	return nil
}
