// Package persist defines the narrow persistence contract the engine calls
// at startup and on a fixed cadence, plus a JSON-file default
// implementation: a plain Snapshot([]byte) error / Load() ([]byte, error)
// contract rather than a shared marshaler singleton.
package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSnapshot is returned by Load when no snapshot has been written yet.
var ErrNoSnapshot = errors.New("persist: no snapshot")

// Persister snapshots and loads opaque byte state. The engine owns
// serialization; a Persister only owns durability.
type Persister interface {
	Snapshot(state []byte) error
	Load() ([]byte, error)
}

// FilePersister snapshots to a single file on local disk, writing to a
// temp file and renaming over the target so a reader never observes a
// partial write.
type FilePersister struct {
	path string
}

// NewFilePersister creates a FilePersister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Snapshot atomically replaces the file at p.path with state.
func (p *FilePersister) Snapshot(state []byte) error {
	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("persist: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(state); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("persist: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist: close temp: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist: rename: %w", err)
	}
	return nil
}

// Load reads the last snapshot, returning ErrNoSnapshot if none exists.
func (p *FilePersister) Load() ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("persist: read: %w", err)
	}
	return data, nil
}
