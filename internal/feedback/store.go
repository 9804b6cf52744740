package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store archives scored reports.
type Store interface {
	SaveReport(r Report) error
}

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// Record is a single archived report written to the file store.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Report
}

// FileStore appends reports as JSON lines to a local file. It is an export
// log for coaches reviewing past sessions, not session storage: nothing is
// ever read back into the registry.
// Thread-safe for concurrent use.
type FileStore struct {
	mu    sync.Mutex
	path  string
	clock func() time.Time
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on the first write if it does not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, clock: time.Now}
}

// SaveReport appends r to the file.
func (fs *FileStore) SaveReport(r Report) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(Record{Timestamp: fs.clock().UTC(), Report: r})
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// Check is a readiness probe: the directory holding the file must exist.
func (fs *FileStore) Check(context.Context) error {
	dir := filepath.Dir(fs.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("feedback: check: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("feedback: check: %s is not a directory", dir)
	}
	return nil
}

// NopStore discards every report.
type NopStore struct{}

// SaveReport implements [Store].
func (NopStore) SaveReport(Report) error { return nil }
