// Package zarr implements the minimal subset of the zarr v2 storage
// specification used by the acquisition writers and readers: key-value
// stores holding .zgroup/.zarray/.zattrs JSON documents and raw chunk
// blobs.  Compression and filters are not supported; chunks are raw
// little-endian pixel data.
package zarr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Store.Get for absent keys.
var ErrNotFound = errors.New("not found")

// Store is a flat key-value store with /-separated keys.  Both writers
// and readers speak to storage exclusively through this interface.
type Store interface {
	// Get returns the value at key, or an error wrapping ErrNotFound
	Get(key string) ([]byte, error)

	// Put writes the value at key, creating parents as needed
	Put(key string, val []byte) error

	// List returns the keys under prefix, sorted
	List(prefix string) ([]string, error)

	// Erase removes all keys from the store
	Erase() error

	// Path identifies the store location; "memory://" for in-memory stores
	Path() string
}

// MemoryStore is an in-memory Store, safe for concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

// Path implements Store.
func (s *MemoryStore) Path() string { return "memory://" }

// Get implements Store.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	out := make([]byte, len(d))
	copy(out, d)
	return out, nil
}

// Put implements Store.
func (s *MemoryStore) Put(key string, val []byte) error {
	d := make([]byte, len(val))
	copy(d, val)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = d
	return nil
}

// List implements Store.
func (s *MemoryStore) List(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Erase implements Store.
func (s *MemoryStore) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string][]byte{}
	return nil
}

// DirStore is a Store backed by a directory tree; keys map to relative
// file paths.  The directory itself is created on first Put.
type DirStore struct {
	base string
}

var _ Store = (*DirStore)(nil)

// NewDirStore returns a store rooted at base.  The directory need not
// exist yet.
func NewDirStore(base string) (*DirStore, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	return &DirStore{base: abs}, nil
}

// Path implements Store.
func (s *DirStore) Path() string { return s.base }

// Get implements Store.
func (s *DirStore) Get(key string) ([]byte, error) {
	d, err := os.ReadFile(filepath.Join(s.base, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return d, err
}

// Put implements Store.
func (s *DirStore) Put(key string, val []byte) error {
	path := filepath.Join(s.base, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return err
	}
	return os.WriteFile(path, val, 0o666)
}

// List implements Store.
func (s *DirStore) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.base {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.base, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Erase implements Store.
func (s *DirStore) Erase() error {
	if err := os.RemoveAll(s.base); err != nil {
		return err
	}
	return os.MkdirAll(s.base, 0o777)
}
