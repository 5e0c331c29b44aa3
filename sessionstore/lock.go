package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dshills/workrail/fsio"
	"github.com/dshills/workrail/ids"
)

// lockDocument is the contents of a session's lock file.
type lockDocument struct {
	V           int           `json:"v"`
	SessionId   ids.SessionId `json:"sessionId"`
	Pid         int           `json:"pid"`
	StartedAtMs int64         `json:"startedAtMs"`
}

const lockDocVersion = 1

// defaultRetryAfterMs is the hint returned with SESSION_LOCK_BUSY; the lock
// never auto-breaks, so a caller must retry or give up.
const defaultRetryAfterMs = 250

func lockPath(sessionDir string) string { return sessionDir + "/lock" }

// HealthyLock is a non-forgeable witness that a session's lock is held and
// its durable truth was healthy as of acquisition. Only package
// sessionstore can construct one; EventLog.Append requires it, which makes
// "writes only occur on healthy sessions under an exclusive lock" a
// compile-time property rather than a convention (§4.5).
type HealthyLock struct {
	sessionDir string
	fsys       fsio.FileSystem
	released   bool
}

// acquireLock exclusive-creates the lock file, failing fast with
// SESSION_LOCK_BUSY if it already exists. It never auto-breaks a stale
// lock.
func acquireLock(ctx context.Context, fsys fsio.FileSystem, sessionDir string, sessionId ids.SessionId, clock fsio.Clock) error {
	doc := lockDocument{
		V:           lockDocVersion,
		SessionId:   sessionId,
		Pid:         os.Getpid(),
		StartedAtMs: clock.Now().UnixMilli(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return &StoreError{Code: CodeIOError, Message: "marshal lock document", Err: err}
	}
	if err := fsys.MkdirAll(ctx, sessionDir); err != nil {
		return &StoreError{Code: CodeIOError, Message: "mkdirp session dir", Err: err}
	}
	err = fsys.CreateExclusive(ctx, lockPath(sessionDir), data)
	if errors.Is(err, fsio.ErrAlreadyExists) {
		return &StoreError{Code: CodeSessionLockBusy, Message: "session lock held", RetryMs: defaultRetryAfterMs}
	}
	if err != nil {
		return &StoreError{Code: CodeIOError, Message: "create lock file", Err: err}
	}
	return nil
}

func releaseLock(ctx context.Context, fsys fsio.FileSystem, sessionDir string) error {
	if err := fsys.Remove(ctx, lockPath(sessionDir)); err != nil {
		return &StoreError{Code: CodeIOError, Message: "release lock", Err: err}
	}
	return nil
}

// AcquireHealthy implements the execution session gate (§4.5): it acquires
// the session lock, loads the session's health via the supplied event log,
// and yields a HealthyLock witness only if health is healthy. On any
// failure the lock is released before returning, so a caller need never
// remember to release on the error path.
func AcquireHealthy(ctx context.Context, fsys fsio.FileSystem, sessionDir string, sessionId ids.SessionId, clock fsio.Clock, log *EventLog) (*HealthyLock, Health, error) {
	// "" below means health was never determined; callers must check err
	// first and only trust the Health value when err is nil.
	if err := acquireLock(ctx, fsys, sessionDir, sessionId, clock); err != nil {
		return nil, "", err
	}

	result, err := log.Load(ctx)
	if err != nil {
		_ = releaseLock(ctx, fsys, sessionDir)
		return nil, "", err
	}
	if result.Truncated {
		_ = releaseLock(ctx, fsys, sessionDir)
		return nil, HealthCorruptTail, nil
	}

	return &HealthyLock{sessionDir: sessionDir, fsys: fsys}, HealthHealthy, nil
}

// Release unlocks the session. Safe to call exactly once; calling it again
// is a programming error, reported rather than silently ignored.
func (h *HealthyLock) Release(ctx context.Context) error {
	if h.released {
		return fmt.Errorf("sessionstore: HealthyLock already released")
	}
	h.released = true
	return releaseLock(ctx, h.fsys, h.sessionDir)
}
