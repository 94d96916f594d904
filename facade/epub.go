// File: facade/epub.go
// Author: momentics <momentics@gmail.com>
//
// Title lookup in EPUB package metadata.

package facade

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const containerPath = "META-INF/container.xml"

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Titles []string `xml:"metadata>title"`
}

// EPUBTitle returns the first dc:title of the package document named by
// META-INF/container.xml.
func EPUBTitle(r io.ReaderAt, size int64) (string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("open epub: %w", err)
	}
	var c epubContainer
	if err := decodeZipXML(zr, containerPath, &c); err != nil {
		return "", err
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return "", errors.New("epub: no rootfile")
	}
	var pkg epubPackage
	if err := decodeZipXML(zr, c.Rootfiles[0].FullPath, &pkg); err != nil {
		return "", err
	}
	for _, t := range pkg.Titles {
		if t = strings.TrimSpace(t); t != "" {
			return t, nil
		}
	}
	return "", errors.New("epub: no title")
}

func decodeZipXML(zr *zip.Reader, name string, v any) error {
	f, err := zr.Open(name)
	if err != nil {
		return fmt.Errorf("epub %s: %w", name, err)
	}
	defer f.Close()
	if err := xml.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("epub %s: %w", name, err)
	}
	return nil
}

// remoteTitle downloads lpath into a temp file and reads its title.
func (m *Manager) remoteTitle(ctx context.Context, lpath string) (string, error) {
	tmp, err := os.CreateTemp("", "crosspoint-*.epub")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if err := m.Download(ctx, lpath, tmp); err != nil {
		return "", err
	}
	st, err := tmp.Stat()
	if err != nil {
		return "", err
	}
	return EPUBTitle(tmp, st.Size())
}
