package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// File uploads the file at path as filename into destDir on the device.
func File(ctx context.Context, cfg Config, host string, port int, destDir, filename, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if filename == "" {
		filename = filepath.Base(path)
	}
	return NewSession(cfg).Run(ctx, Request{
		Host:     host,
		Port:     port,
		Filename: filename,
		Size:     st.Size(),
		DestDir:  destDir,
		Source:   f,
	})
}
