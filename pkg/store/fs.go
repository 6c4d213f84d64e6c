package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// FS stores one JSON file per execution under a base directory. Writes go
// through a temp file and a rename, so readers never see a torn envelope
// and a crash mid-write leaves the previous version intact.
type FS struct {
	dir string
}

// NewFS creates the base directory if needed and returns the store.
func NewFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, errors.New("fs store: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
	}
	return &FS{dir: dir}, nil
}

// path maps an execution id to its file. Ids are uuid-based, but a path
// separator smuggled into one must never escape the base directory.
func (f *FS) path(executionID string) (string, error) {
	if executionID == "" || strings.ContainsAny(executionID, `/\`) {
		return "", fmt.Errorf("fs store: invalid execution id %q", executionID)
	}
	return filepath.Join(f.dir, executionID+".json"), nil
}

// SaveSnapshot writes the envelope atomically.
func (f *FS) SaveSnapshot(_ context.Context, envelope *models.ExecutionEnvelope) error {
	path, err := f.path(envelope.ExecutionID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding envelope %s: %w", envelope.ExecutionID, err)
	}

	tmp, err := os.CreateTemp(f.dir, ".envelope-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing envelope %s: %w", envelope.ExecutionID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing envelope %s: %w", envelope.ExecutionID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing envelope %s: %w", envelope.ExecutionID, err)
	}
	return nil
}

// LoadSnapshot reads one envelope.
func (f *FS) LoadSnapshot(_ context.Context, executionID string) (*models.ExecutionEnvelope, error) {
	path, err := f.path(executionID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
		}
		return nil, fmt.Errorf("reading envelope %s: %w", executionID, err)
	}
	var envelope models.ExecutionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding envelope %s: %w", executionID, err)
	}
	return &envelope, nil
}

// List reads every envelope file in the directory, skipping temp files.
func (f *FS) List(ctx context.Context) ([]*models.ExecutionEnvelope, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("reading store directory: %w", err)
	}

	var out []*models.ExecutionEnvelope
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		envelope, err := f.LoadSnapshot(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Deleted between ReadDir and the read.
				continue
			}
			return nil, err
		}
		out = append(out, envelope)
	}
	return out, nil
}

// Delete removes the envelope file. Missing files are a no-op.
func (f *FS) Delete(_ context.Context, executionID string) error {
	path, err := f.path(executionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting envelope %s: %w", executionID, err)
	}
	return nil
}

// Ping verifies the base directory is still there.
func (f *FS) Ping(context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return fmt.Errorf("store directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", f.dir)
	}
	return nil
}

// Close is a no-op.
func (f *FS) Close() error { return nil }
