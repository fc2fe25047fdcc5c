package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage appends entries as JSON lines to a single log file.
type FileStorage struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileStorage opens (creating if needed) the audit log at path.
func NewFileStorage(path string) (*FileStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileStorage{path: path, file: file}, nil
}

// Store appends one entry as a JSON line.
func (f *FileStorage) Store(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Query scans the log file. Intended for operator tooling, not hot
// paths.
func (f *FileStorage) Query(ctx context.Context, q Query) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log for reading: %w", err)
	}
	defer func() { _ = file.Close() }()

	var out []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip torn lines rather than failing the query
		}
		if matches(entry, q) {
			out = append(out, entry)
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}
	return out, nil
}

// Close closes the underlying file.
func (f *FileStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

// MemoryStorage keeps entries in memory. Used in tests and when no
// audit path is configured.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store appends the entry.
func (m *MemoryStorage) Store(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Query filters stored entries in insertion order.
func (m *MemoryStorage) Query(ctx context.Context, q Query) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, entry := range m.entries {
		if matches(entry, q) {
			out = append(out, entry)
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
	}
	return out, nil
}

// Len returns the number of stored entries.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func matches(entry Entry, q Query) bool {
	if q.SourceOrg != "" && entry.SourceOrg != q.SourceOrg {
		return false
	}
	if q.TargetOrg != "" && entry.TargetOrg != q.TargetOrg {
		return false
	}
	if q.Action != "" && entry.Action != q.Action {
		return false
	}
	if !q.Since.IsZero() && entry.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && entry.Timestamp.After(q.Until) {
		return false
	}
	return true
}
