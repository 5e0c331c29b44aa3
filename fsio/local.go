package fsio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// LocalFileSystem implements FileSystem against the host OS. It is the only
// place in the repository that calls into the os package for durable
// writes: every crash-safe ceremony described in spec §4.3 and §4.4 is
// implemented here, once, and reused by every CAS and log writer.
type LocalFileSystem struct{}

// NewLocalFileSystem returns a FileSystem backed by the host OS.
func NewLocalFileSystem() *LocalFileSystem {
	return &LocalFileSystem{}
}

func (LocalFileSystem) MkdirAll(_ context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsio: mkdirp %s: %w", dir, err)
	}
	return nil
}

// WriteFileSync implements the temp-write -> fsync -> close -> rename ->
// fsync(dir) ceremony from §4.3 step 2-5 and §4.4's CAS put.
func (fsys LocalFileSystem) WriteFileSync(_ context.Context, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsio: mkdirp %s: %w", dir, err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("fsio: open temp file %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("fsio: write temp file %s: %w", tmp, err)
	}
	if err := syncFile(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fsio: close temp file %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fsio: rename %s to %s: %w", tmp, path, err)
	}

	return syncDir(dir)
}

// AppendLineSync appends one line to path, fsyncing the file and its
// containing directory. It is used for the manifest's append-only control
// stream, where rewriting the whole file on every record would be wasteful
// but the same durability guarantee is still required.
func (fsys LocalFileSystem) AppendLineSync(_ context.Context, path string, line []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsio: mkdirp %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("fsio: open %s: %w", path, err)
	}
	if _, err := f.Write(append(append([]byte{}, line...), '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("fsio: append %s: %w", path, err)
	}
	if err := syncFile(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("fsio: close %s: %w", path, err)
	}
	return syncDir(dir)
}

func (LocalFileSystem) ReadFile(_ context.Context, path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("fsio: read %s: %w", path, err)
	}
	return b, nil
}

func (LocalFileSystem) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fsio: stat %s: %w", path, err)
	}
	return true, nil
}

// CreateExclusive is the session lock's acquire primitive: O_EXCL makes the
// create-and-check atomic at the OS level, so two processes racing to
// acquire the same lock can never both succeed.
func (LocalFileSystem) CreateExclusive(_ context.Context, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsio: mkdirp %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("fsio: create exclusive %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("fsio: write lock file %s: %w", path, err)
	}
	return syncFile(f)
}

func (LocalFileSystem) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("fsio: remove %s: %w", path, err)
	}
	return nil
}

func (LocalFileSystem) ListDir(_ context.Context, dir string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fsio: list %s: %w", dir, err)
	}
	return entries, nil
}

func (LocalFileSystem) Stat(_ context.Context, path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("fsio: stat %s: %w", path, err)
	}
	return info, nil
}

func (LocalFileSystem) Rename(_ context.Context, oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("fsio: rename %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

// syncFile fsyncs f, translating the platform's "sync not supported" signal
// into ErrFsyncUnsupported. Per §4.3, this is never relaxed: durability
// cannot be optional.
func syncFile(f *os.File) error {
	if err := f.Sync(); err != nil {
		if isSyncUnsupported(err) {
			return ErrFsyncUnsupported
		}
		return fmt.Errorf("fsio: fsync %s: %w", f.Name(), err)
	}
	return nil
}

// syncDir fsyncs the containing directory, required after every rename or
// create so the directory entry itself is durable, not just the file
// contents.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("fsio: open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		if isSyncUnsupported(err) {
			return ErrFsyncUnsupported
		}
		return fmt.Errorf("fsio: fsync dir %s: %w", dir, err)
	}
	return nil
}

// isSyncUnsupported reports whether an fsync error is treated as the host
// not supporting fsync: on Windows, where directory handles cannot be
// fsynced, every non-nil error counts; on other platforms none does.
// Callers turn a true result into ErrFsyncUnsupported, which the session
// store reports as an I/O error rather than relaxing durability.
func isSyncUnsupported(err error) bool {
	return runtime.GOOS == "windows" && err != nil
}
