// Package persist provides a small durable string-to-string map backed by a
// single JSON file.
//
// The whole map is loaded into memory on Open and the whole file is rewritten
// on every mutation. The store is safe for concurrent use within one process;
// it offers no protocol for several processes writing the same file.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store errors.
var (
	// ErrStorage wraps every durable read or write failure.
	ErrStorage = errors.New("persistent store failure")

	// ErrStoreCorrupted indicates the backing file exists but is not a JSON object of strings.
	// It is always returned wrapped together with ErrStorage.
	ErrStoreCorrupted = errors.New("persistent store file corrupted")

	// ErrEmptyKey is returned by Set and Delete for an empty key.
	ErrEmptyKey = errors.New("store key cannot be empty")
)

// Store is a durable mapping from string keys to string values.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]string
}

// Open loads the mapping stored at path. A missing file yields an empty store;
// the file and its parent directory are created on the first mutation.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: store path cannot be empty", ErrStorage)
	}

	s := &Store{
		path:    path,
		entries: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStorage, path, err)
	}

	var entries map[string]string
	if unmarshalErr := json.Unmarshal(data, &entries); unmarshalErr != nil {
		return nil, fmt.Errorf("%w: %w: %s: %w", ErrStorage, ErrStoreCorrupted, path, unmarshalErr)
	}
	if entries != nil {
		s.entries = entries
	}

	return s, nil
}

// Get returns the value stored under key and whether it was present.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[key]
	return v, ok
}

// Set stores value under key and rewrites the backing file.
// The in-memory map only changes once the file write has succeeded.
func (s *Store) Set(key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneLocked()
	next[key] = value
	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

// Delete removes key and rewrites the backing file. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}

	next := s.cloneLocked()
	delete(next, key)
	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the current mapping.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cloneLocked()
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) cloneLocked() map[string]string {
	c := make(map[string]string, len(s.entries)+1)
	for k, v := range s.entries {
		c[k] = v
	}
	return c
}

// writeLocked replaces the backing file with entries via a temp file and rename.
func (s *Store) writeLocked(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshaling entries: %w", ErrStorage, err)
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(s.path), 0o750); mkdirErr != nil {
		return fmt.Errorf("%w: creating store directory: %w", ErrStorage, mkdirErr)
	}

	tmpPath := s.path + ".tmp"
	if writeErr := os.WriteFile(tmpPath, data, 0o600); writeErr != nil {
		return fmt.Errorf("%w: writing temp file: %w", ErrStorage, writeErr)
	}

	if renameErr := os.Rename(tmpPath, s.path); renameErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: renaming temp file: %w", ErrStorage, renameErr)
	}

	return nil
}
