package arraystore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// fsStore keeps one file per key below root. Keys are validated by
// normalizePath, so a key can never name a file outside root.
type fsStore struct {
	root string
}

// NewFS returns a Store writing below the existing directory root.
func NewFS(root string) (Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("arraystore: %s is not a directory", root)
	}
	return &fsStore{root: root}, nil
}

func (f *fsStore) file(path string) (string, error) {
	key, ok := normalizePath(path, false)
	if !ok {
		return "", ErrInvalidPath
	}
	return filepath.Join(f.root, filepath.FromSlash(key)), nil
}

func (f *fsStore) Put(_ context.Context, path string, r io.Reader) error {
	name, err := f.file(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}

	// O_EXCL makes the existence check and the create one step.
	out, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return ErrPathExists
	}
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		_ = os.Remove(name)
		return err
	}
	return out.Close()
}

func (f *fsStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	name, err := f.file(path)
	if err != nil {
		return nil, err
	}
	rc, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return rc, err
}

func (f *fsStore) Exists(_ context.Context, path string) (bool, error) {
	name, err := f.file(path)
	if err != nil {
		return false, err
	}
	switch _, err := os.Stat(name); {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// List walks the deepest directory named by prefix and keeps the keys that
// start with it, matching the memory store's string-prefix semantics.
func (f *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	want, ok := normalizePath(prefix, true)
	if !ok {
		return nil, ErrInvalidPath
	}
	dir := f.root
	if i := strings.LastIndex(want, "/"); i >= 0 {
		dir = filepath.Join(f.root, filepath.FromSlash(want[:i]))
	}

	var keys []string
	err := filepath.WalkDir(dir, func(name string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(f.root, name)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, want) {
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

func (f *fsStore) Delete(_ context.Context, path string) error {
	name, err := f.file(path)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// memoryStore implements Store using an in-memory map.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an in-memory Store. It is safe for concurrent use.
func NewMemory() Store {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, path string, r io.Reader) error {
	key, ok := normalizePath(path, false)
	if !ok {
		return ErrInvalidPath
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists {
		return ErrPathExists
	}
	m.data[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	key, ok := normalizePath(path, false)
	if !ok {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	data, exists := m.data[key]
	m.mu.RUnlock()
	if !exists {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

func (m *memoryStore) Exists(_ context.Context, path string) (bool, error) {
	key, ok := normalizePath(path, false)
	if !ok {
		return false, ErrInvalidPath
	}

	m.mu.RLock()
	_, exists := m.data[key]
	m.mu.RUnlock()
	return exists, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	normalized, ok := normalizePath(prefix, true)
	if !ok {
		return nil, ErrInvalidPath
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var paths []string
	for key := range m.data {
		if strings.HasPrefix(key, normalized) {
			paths = append(paths, key)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *memoryStore) Delete(_ context.Context, path string) error {
	key, ok := normalizePath(path, false)
	if !ok {
		return ErrInvalidPath
	}

	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// normalizePath turns a slash-separated store path into a key. A leading
// slash is ignored and paths climbing above the root are rejected. Prefixes
// may be empty and keep their trailing slash.
func normalizePath(p string, prefix bool) (string, bool) {
	if p == "" {
		return "", prefix
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	key := strings.TrimPrefix(cleaned, "/")
	switch {
	case key == "" || key == ".":
		return "", prefix
	case prefix && strings.HasSuffix(p, "/"):
		return key + "/", true
	default:
		return key, true
	}
}
