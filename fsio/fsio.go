// Package fsio defines the capability ports every durable component depends
// on, and a local adapter implementing them against the host filesystem.
// The projection folds and domain logic never import this package directly;
// only sessionstore, engine's composition root, and projection's
// session-summary directory scan (EnumerateSessionSummaries) do. Keeping I/O behind these
// small interfaces is what lets the crash-safe commit ceremony, the
// session lock, and the CAS stores be tested without touching a real disk.
package fsio

import (
	"context"
	"io/fs"
	"time"
)

// FileSystem is the sole I/O port every durable component depends on. It
// models just enough of a filesystem to support mkdirp, atomic
// temp-write-rename-fsync commits, exclusive-create locking, and directory
// listing — nothing else reaches the host OS.
type FileSystem interface {
	// MkdirAll creates dir and any missing parents.
	MkdirAll(ctx context.Context, dir string) error

	// WriteFileSync writes data to a brand-new temp file, fsyncs and closes
	// it, renames it into place at path, then fsyncs the containing
	// directory. Returns ErrFsyncUnsupported if the host cannot fsync,
	// which is always a hard, non-relaxable error (§4.3).
	WriteFileSync(ctx context.Context, path string, data []byte) error

	// ReadFile reads the full contents of path.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// AppendLineSync appends one line (without a trailing newline; the
	// adapter adds it) to an append-only file, fsyncing the file and its
	// containing directory before returning. Used for manifest writes.
	AppendLineSync(ctx context.Context, path string, line []byte) error

	// Exists reports whether path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// CreateExclusive creates path only if it does not already exist,
	// atomically, writing data as its contents. Returns ErrAlreadyExists if
	// the path exists. This is the session lock's acquire primitive.
	CreateExclusive(ctx context.Context, path string, data []byte) error

	// Remove deletes path. Removing a path that does not exist is not an
	// error (used to release locks unconditionally on all exit paths).
	Remove(ctx context.Context, path string) error

	// ListDir lists the immediate entries of dir, or an empty slice if dir
	// does not exist.
	ListDir(ctx context.Context, dir string) ([]fs.DirEntry, error)

	// Stat returns the FileInfo for path.
	Stat(ctx context.Context, path string) (fs.FileInfo, error)

	// Rename atomically replaces newPath with oldPath's contents.
	Rename(ctx context.Context, oldPath, newPath string) error
}

// ErrAlreadyExists is returned by CreateExclusive when path already exists.
var ErrAlreadyExists = fsError("fsio: path already exists")

// ErrFsyncUnsupported is returned when the host filesystem does not support
// fsync. Per §4.3 this is always a hard error; no component may relax it.
var ErrFsyncUnsupported = fsError("fsio: fsync is not supported on this filesystem")

// ErrNotExist is returned by ReadFile/Stat when path does not exist.
var ErrNotExist = fsError("fsio: path does not exist")

type fsError string

func (e fsError) Error() string { return string(e) }

// Sha256 hashes bytes. Split out from FileSystem so pure projection code
// that needs a digest (rare, but the session-store loader does) can be
// given a capability without a full filesystem.
type Sha256 interface {
	Sum(b []byte) [32]byte
}

// Hmac signs and verifies byte payloads, backed by the keyring.
type Hmac interface {
	Sign(payload []byte) ([]byte, error)
	Verify(payload, sig []byte) (bool, error)
}

// Bech32m encodes/decodes the token codec's outer representation.
type Bech32m interface {
	Encode(hrp string, data []byte) (string, error)
	Decode(s string) (hrp string, data []byte, err error)
}

// IdFactory mints the branded identifiers defined in package ids.
type IdFactory interface {
	NewSessionId() (string, error)
	NewRunId() (string, error)
	NewNodeId() (string, error)
	NewAttemptId() (string, error)
	NewEventId() (string, error)
}

// Clock supplies the current time, so durable writes (lock startedAtMs,
// manifest timestamps) are testable without wall-clock flakiness.
type Clock interface {
	Now() time.Time
}
