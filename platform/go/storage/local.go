package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalWriter writes blobs below a directory, for local development.
type LocalWriter struct {
	BasePath string
	Prefix   string
}

func NewLocalWriter(basePath, prefix string) *LocalWriter {
	if basePath == "" {
		panic("local writer requires basePath")
	}
	return &LocalWriter{BasePath: basePath, Prefix: prefix}
}

func (w *LocalWriter) Put(ctx context.Context, key string, data []byte, contentType string) (ObjectLocation, error) {
	loc, err := ResolveObjectLocation(w.BasePath, w.Prefix, key)
	if err != nil {
		return ObjectLocation{}, err
	}
	full := filepath.Join(w.BasePath, filepath.FromSlash(loc.FullPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ObjectLocation{}, fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return ObjectLocation{}, fmt.Errorf("write %s: %w", full, err)
	}
	return loc, nil
}

func (w *LocalWriter) Check(ctx context.Context) error {
	if err := os.MkdirAll(w.BasePath, 0o755); err != nil {
		return fmt.Errorf("create base path: %w", err)
	}
	return nil
}

var _ Writer = (*LocalWriter)(nil)
