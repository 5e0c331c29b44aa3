package fsio

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryFileSystem is an in-memory FileSystem used by package tests across
// sessionstore and engine, so the crash-safe commit ceremony's call
// sequence can be asserted without touching a real disk. It implements the
// same semantics as LocalFileSystem: CreateExclusive is atomic, renames
// replace the destination, and "fsync" is a no-op (there is nothing to
// flush in memory, so it always "succeeds").
type MemoryFileSystem struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewMemoryFileSystem returns an empty MemoryFileSystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: make(map[string][]byte)}
}

func (m *MemoryFileSystem) MkdirAll(_ context.Context, _ string) error {
	return nil
}

func (m *MemoryFileSystem) WriteFileSync(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[path] = cp
	return nil
}

func (m *MemoryFileSystem) AppendLineSync(_ context.Context, p string, line []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.files[p]
	existing = append(existing, line...)
	existing = append(existing, '\n')
	m.files[p] = existing
	return nil
}

func (m *MemoryFileSystem) ReadFile(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[path]
	if !ok {
		return nil, ErrNotExist
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (m *MemoryFileSystem) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok, nil
}

func (m *MemoryFileSystem) CreateExclusive(_ context.Context, p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; ok {
		return ErrAlreadyExists
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[p] = cp
	return nil
}

func (m *MemoryFileSystem) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *MemoryFileSystem) ListDir(_ context.Context, dir string) ([]fs.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(dir, "/") + "/"
	seen := make(map[string]bool)
	var entries []fs.DirEntry
	for p := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name := rest
		isDir := false
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name = rest[:idx]
			isDir = true
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		entries = append(entries, memDirEntry{name: name, isDir: isDir})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (m *MemoryFileSystem) Stat(_ context.Context, p string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[p]
	if !ok {
		return nil, ErrNotExist
	}
	return memFileInfo{name: path.Base(p), size: int64(len(b))}, nil
}

func (m *MemoryFileSystem) Rename(_ context.Context, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[oldPath]
	if !ok {
		return ErrNotExist
	}
	m.files[newPath] = b
	delete(m.files, oldPath)
	return nil
}

type memDirEntry struct {
	name  string
	isDir bool
}

func (e memDirEntry) Name() string               { return e.name }
func (e memDirEntry) IsDir() bool                 { return e.isDir }
func (e memDirEntry) Type() fs.FileMode           { return 0 }
func (e memDirEntry) Info() (fs.FileInfo, error)  { return memFileInfo{name: e.name}, nil }

type memFileInfo struct {
	name string
	size int64
}

func (i memFileInfo) Name() string       { return i.name }
func (i memFileInfo) Size() int64        { return i.size }
func (i memFileInfo) Mode() fs.FileMode  { return 0o644 }
func (i memFileInfo) ModTime() time.Time { return time.Time{} }
func (i memFileInfo) IsDir() bool        { return false }
func (i memFileInfo) Sys() interface{}   { return nil }
