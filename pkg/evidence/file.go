package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zen-systems/mergeflow/pkg/gate"
)

// FileStore persists results as JSON documents under
// baseDir/<sha>/<gate>.json, one file per (gate, SHA) pair. Writes go
// through a temp file and rename so a crashed write never leaves a
// half-written result. Lookups are served from an in-memory index; the
// files are the durable audit copy.
type FileStore struct {
	*MemoryStore
	baseDir string
}

// NewFileStore creates a file-backed store rooted at baseDir, pinned to sha.
func NewFileStore(baseDir, sha string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("evidence: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &FileStore{MemoryStore: NewMemoryStore(sha), baseDir: baseDir}, nil
}

// BaseDir returns the store's root directory.
func (s *FileStore) BaseDir() string { return s.baseDir }

// Put records res in memory and on disk. A disk failure surfaces as
// ErrStoreUnavailable and leaves the in-memory index untouched.
func (s *FileStore) Put(res *gate.Result) error {
	if err := res.Validate(); err != nil {
		return err
	}
	if res.CommitSHA != s.Pinned() {
		return fmt.Errorf("%w: got %s, head is %s", ErrStaleSHA, res.CommitSHA, s.Pinned())
	}

	if err := s.writeResult(res); err != nil {
		return err
	}
	return s.MemoryStore.Put(res)
}

func (s *FileStore) writeResult(res *gate.Result) error {
	dir := filepath.Join(s.baseDir, res.CommitSHA)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}

	final := filepath.Join(dir, res.GateName+".json")
	tmp, err := os.CreateTemp(dir, res.GateName+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
