package sessionstore

import (
	"context"
	"errors"

	"github.com/dshills/workrail/canon"
	"github.com/dshills/workrail/fsio"
)

// CAS is a content-addressed store: put canonicalizes and hashes a value to
// derive its ref, get verifies that the loaded bytes still hash to that ref. Both the snapshot store and the pinned-workflow store are
// instances of this one shape (§4.4).
type CAS struct {
	fsys fsio.FileSystem
	root string
}

// NewCAS opens a content-addressed store rooted at root (e.g.
// "<dataDir>/snapshots" or "<dataDir>/workflows").
func NewCAS(fsys fsio.FileSystem, root string) *CAS {
	return &CAS{fsys: fsys, root: root}
}

func refPath(root, ref string) string {
	// ref is "sha256:<hex>"; the colon is not filesystem-safe on every
	// platform, so it is replaced with an underscore on disk.
	safe := ref
	for i, c := range ref {
		if c == ':' {
			safe = ref[:i] + "_" + ref[i+1:]
			break
		}
	}
	return root + "/" + safe + ".json"
}

// Put canonicalizes v, derives its content address, and writes it
// idempotently: if the ref already exists, Put is a no-op (same content
// produces the same ref by construction).
func (c *CAS) Put(ctx context.Context, v interface{}) (ref string, err error) {
	ref, canonicalBytes, err := canon.ContentAddress(v)
	if err != nil {
		return "", &StoreError{Code: CodeInvariantViolation, Message: "canonicalize value", Err: err}
	}
	path := refPath(c.root, ref)
	exists, err := c.fsys.Exists(ctx, path)
	if err != nil {
		return "", &StoreError{Code: CodeIOError, Message: "stat cas entry", Err: err}
	}
	if exists {
		return ref, nil
	}
	if err := c.fsys.MkdirAll(ctx, c.root); err != nil {
		return "", &StoreError{Code: CodeIOError, Message: "mkdirp cas root", Err: err}
	}
	if err := c.fsys.WriteFileSync(ctx, path, canonicalBytes); err != nil {
		if errors.Is(err, fsio.ErrFsyncUnsupported) {
			return "", &StoreError{Code: CodeIOError, Message: "fsync not supported, durability cannot be relaxed", Err: err}
		}
		return "", &StoreError{Code: CodeIOError, Message: "write cas entry", Err: err}
	}
	return ref, nil
}

// Get returns the canonical bytes stored under ref, or (nil, nil) if the
// ref does not exist — a missing ref is not an error. It fails
// SNAPSHOT_STORE_CORRUPTION_DETECTED if the loaded bytes no longer hash to
// ref.
func (c *CAS) Get(ctx context.Context, ref string) ([]byte, error) {
	path := refPath(c.root, ref)
	data, err := c.fsys.ReadFile(ctx, path)
	if errors.Is(err, fsio.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Code: CodeIOError, Message: "read cas entry", Err: err}
	}
	if canon.Sha256Hex(data) != sha256Suffix(ref) {
		return nil, &StoreError{Code: CodeSnapshotCorruption, Message: "cas entry does not hash to its own ref"}
	}
	return data, nil
}

func sha256Suffix(ref string) string {
	const prefix = "sha256:"
	if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
		return ref[len(prefix):]
	}
	return ref
}
