// Package repository persists conversations, turns, pending actions and the
// project workspace in SQLite.
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// ErrPendingActionExists is returned when a conversation already has an
// outstanding pending action.
var ErrPendingActionExists = errors.New("conversation already has a pending action")

// SQLiteStore implements the conversation state store on SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens a database with the given driver ("sqlite3" for
// mattn/go-sqlite3, "sqlite" for modernc.org/sqlite) and migrates it.
func NewSQLiteStore(driver, dsn string) (*SQLiteStore, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to an in-memory database is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			project_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(project_id)
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			status TEXT NOT NULL,
			iteration INTEGER NOT NULL DEFAULT 0,
			reasoning TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			iterations TEXT,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			error TEXT,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			turn_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			tool_call_ref TEXT,
			operations TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS pending_actions (
			pending_action_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			tool_call_id TEXT NOT NULL,
			invocations TEXT NOT NULL,
			narration TEXT NOT NULL DEFAULT '',
			resumable_state TEXT NOT NULL,
			cost_estimate TEXT,
			status TEXT NOT NULL,
			outcome TEXT,
			decided_by TEXT,
			reason TEXT,
			created_at INTEGER NOT NULL,
			decided_at INTEGER,
			FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id),
			FOREIGN KEY (turn_id) REFERENCES turns(turn_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_actions_open ON pending_actions(conversation_id) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_pending_actions_status_created ON pending_actions(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (turn_id) REFERENCES turns(turn_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_turn ON events(turn_id, ts)`,
		`CREATE TABLE IF NOT EXISTS assets (
			asset_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			uri TEXT,
			status TEXT NOT NULL,
			prompt TEXT,
			job_id TEXT,
			created_at INTEGER NOT NULL,
			deleted_at INTEGER,
			FOREIGN KEY (project_id) REFERENCES projects(project_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_project ON assets(project_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS clips (
			clip_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			track INTEGER NOT NULL DEFAULT 0,
			start_ms INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(project_id),
			FOREIGN KEY (asset_id) REFERENCES assets(asset_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clips_project ON clips(project_id, track, start_ms)`,
		`CREATE TABLE IF NOT EXISTS generation_jobs (
			job_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			params TEXT,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(project_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Columns added after the first release.
	if err := s.ensureColumn("conversations", "title", "ALTER TABLE conversations ADD COLUMN title TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	var columns []struct {
		CID     int            `db:"cid"`
		Name    string         `db:"name"`
		Type    string         `db:"type"`
		NotNull int            `db:"notnull"`
		Default sql.NullString `db:"dflt_value"`
		PK      int            `db:"pk"`
	}
	if err := s.db.Select(&columns, fmt.Sprintf("PRAGMA table_info(%s)", tableName)); err != nil {
		return err
	}
	for _, c := range columns {
		if c.Name == columnName {
			return nil
		}
	}
	_, err := s.db.Exec(ddl)
	return err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
