package sessionstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// ResumeIndex is a rebuildable secondary index over session summaries,
// queried by resume_session for fast filtering before falling back to the
// full directory scan. It is a cache, never a source of truth: every row
// can be reconstructed from the event log, and a missing or stale-schema
// database must never fail a resume, only slow it down to the full scan.
type ResumeIndex struct {
	db   *sql.DB
	path string
}

// ResumeRow is one indexed session summary.
type ResumeRow struct {
	SessionId         string
	WorkspacePath     string
	GitBranch         string
	GitHeadSha        string
	LastTipEventIndex int
	LastTipAtMs       int64
}

// OpenResumeIndex opens (creating if absent) the SQLite-backed resume
// index at path. Use ":memory:" for tests.
func OpenResumeIndex(path string) (*ResumeIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open resume index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sessionstore: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sessionstore: set busy timeout: %w", err)
	}

	idx := &ResumeIndex{db: db, path: path}
	if err := idx.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

const resumeIndexSchemaVersion = 1

func (i *ResumeIndex) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_meta (
			version INTEGER NOT NULL
		)
	`
	if _, err := i.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sessionstore: create schema_meta: %w", err)
	}

	sessions := `
		CREATE TABLE IF NOT EXISTS session_summaries (
			session_id TEXT PRIMARY KEY,
			workspace_path TEXT NOT NULL,
			git_branch TEXT NOT NULL DEFAULT '',
			git_head_sha TEXT NOT NULL DEFAULT '',
			last_tip_event_index INTEGER NOT NULL,
			last_tip_at_ms INTEGER NOT NULL
		)
	`
	if _, err := i.db.ExecContext(ctx, sessions); err != nil {
		return fmt.Errorf("sessionstore: create session_summaries: %w", err)
	}
	if _, err := i.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_session_summaries_tip ON session_summaries(last_tip_at_ms DESC)"); err != nil {
		return fmt.Errorf("sessionstore: create idx_session_summaries_tip: %w", err)
	}

	var count int
	if err := i.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_meta").Scan(&count); err != nil {
		return fmt.Errorf("sessionstore: count schema_meta: %w", err)
	}
	if count == 0 {
		if _, err := i.db.ExecContext(ctx, "INSERT INTO schema_meta(version) VALUES (?)", resumeIndexSchemaVersion); err != nil {
			return fmt.Errorf("sessionstore: seed schema_meta: %w", err)
		}
	}
	return nil
}

// schemaVersion reports the version stamped in this database, or 0 if the
// table is empty or the schema predates versioning. Callers use this to
// detect a stale-schema index and fall back to the directory scan rather
// than trusting mismatched rows.
func (i *ResumeIndex) schemaVersion(ctx context.Context) int {
	var v int
	if err := i.db.QueryRowContext(ctx, "SELECT version FROM schema_meta LIMIT 1").Scan(&v); err != nil {
		return 0
	}
	return v
}

// Upsert records or refreshes one session's summary row. Called
// opportunistically after every successful start_workflow/continue_workflow.
func (i *ResumeIndex) Upsert(ctx context.Context, row ResumeRow) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO session_summaries(session_id, workspace_path, git_branch, git_head_sha, last_tip_event_index, last_tip_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			workspace_path = excluded.workspace_path,
			git_branch = excluded.git_branch,
			git_head_sha = excluded.git_head_sha,
			last_tip_event_index = excluded.last_tip_event_index,
			last_tip_at_ms = excluded.last_tip_at_ms
	`, row.SessionId, row.WorkspacePath, row.GitBranch, row.GitHeadSha, row.LastTipEventIndex, row.LastTipAtMs)
	if err != nil {
		return fmt.Errorf("sessionstore: upsert resume row: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit session ids ordered by most recent tip
// activity. If the index's schema version does not match what this build
// expects, it returns (nil, false) so the caller falls back to the full
// directory scan instead of trusting a possibly-incompatible cache.
func (i *ResumeIndex) RecentSessions(ctx context.Context, limit int) (ids []string, ok bool) {
	if i.schemaVersion(ctx) != resumeIndexSchemaVersion {
		return nil, false
	}
	rows, err := i.db.QueryContext(ctx, "SELECT session_id FROM session_summaries ORDER BY last_tip_at_ms DESC LIMIT ?", limit)
	if err != nil {
		return nil, false
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, false
	}
	return ids, true
}

// Close releases the underlying database handle.
func (i *ResumeIndex) Close() error {
	return i.db.Close()
}
