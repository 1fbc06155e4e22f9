// Package sqlite implements the store driver on SQLite for single-process
// development deployments. Vector search runs in the application layer.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/reveriehq/reverie/internal/profile"
	"github.com/reveriehq/reverie/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the database with WAL journaling and a single connection,
// which is the stable configuration for this driver.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema if absent. Embeddings are stored as BLOBs.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			metadata TEXT NOT NULL DEFAULT '{}',
			age_verified_ts INTEGER NOT NULL DEFAULT 0,
			created_ts INTEGER NOT NULL,
			last_active_ts INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS personality (
			id TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			archetype TEXT NOT NULL DEFAULT '',
			relationship_type TEXT NOT NULL DEFAULT 'companion',
			traits TEXT NOT NULL DEFAULT '{}',
			behaviors TEXT NOT NULL DEFAULT '{}',
			backstory TEXT NOT NULL DEFAULT '',
			custom_instructions TEXT NOT NULL DEFAULT '',
			speaking_style TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_ts INTEGER NOT NULL,
			updated_ts INTEGER NOT NULL,
			UNIQUE (owner_user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			personality_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			title_source TEXT NOT NULL DEFAULT 'default',
			created_ts INTEGER NOT NULL,
			updated_ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation (user_id, updated_ts DESC)`,
		`CREATE TABLE IF NOT EXISTS message (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_conversation ON message (conversation_id, created_ts)`,
		`CREATE TABLE IF NOT EXISTS memory (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			personality_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding BLOB,
			type TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL,
			importance_breakdown TEXT NOT NULL DEFAULT '{}',
			entities TEXT NOT NULL DEFAULT '[]',
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed_ts INTEGER NOT NULL DEFAULT 0,
			decay_factor REAL NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1,
			superseded_by TEXT NOT NULL DEFAULT '',
			consolidated_from TEXT NOT NULL DEFAULT '[]',
			created_ts INTEGER NOT NULL,
			updated_ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory (user_id, personality_id, is_active)`,
		`CREATE TABLE IF NOT EXISTS emotion_entry (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			emotion TEXT NOT NULL,
			confidence REAL NOT NULL,
			intensity TEXT NOT NULL,
			indicators TEXT NOT NULL DEFAULT '[]',
			message_snippet TEXT NOT NULL DEFAULT '',
			created_ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emotion_user ON emotion_entry (user_id, created_ts DESC)`,
		`CREATE TABLE IF NOT EXISTS goal (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			progress REAL NOT NULL DEFAULT 0,
			target_date_ts INTEGER NOT NULL DEFAULT 0,
			completed_ts INTEGER NOT NULL DEFAULT 0,
			last_mentioned_ts INTEGER NOT NULL DEFAULT 0,
			mention_count INTEGER NOT NULL DEFAULT 0,
			check_in_frequency TEXT NOT NULL DEFAULT '',
			last_check_in_ts INTEGER NOT NULL DEFAULT 0,
			milestones TEXT NOT NULL DEFAULT '[]',
			progress_notes TEXT NOT NULL DEFAULT '[]',
			motivation TEXT NOT NULL DEFAULT '',
			obstacles TEXT NOT NULL DEFAULT '[]',
			created_ts INTEGER NOT NULL,
			updated_ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goal_user ON goal (user_id, status)`,
		`CREATE TABLE IF NOT EXISTS goal_progress (
			id TEXT PRIMARY KEY,
			goal_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			delta REAL NOT NULL DEFAULT 0,
			sentiment TEXT NOT NULL DEFAULT '',
			emotion TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '',
			created_ts INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS relationship (
			user_id TEXT NOT NULL,
			personality_id TEXT NOT NULL,
			total_messages INTEGER NOT NULL DEFAULT 0,
			depth_score REAL NOT NULL DEFAULT 0,
			trust_level REAL NOT NULL DEFAULT 0,
			first_interaction_ts INTEGER NOT NULL DEFAULT 0,
			last_interaction_ts INTEGER NOT NULL DEFAULT 0,
			milestones TEXT NOT NULL DEFAULT '[]',
			positive_reactions INTEGER NOT NULL DEFAULT 0,
			negative_reactions INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, personality_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			user_id TEXT PRIMARY KEY,
			language TEXT NOT NULL DEFAULT '',
			formality TEXT NOT NULL DEFAULT '',
			tone TEXT NOT NULL DEFAULT '',
			emoji_usage TEXT NOT NULL DEFAULT '',
			response_length TEXT NOT NULL DEFAULT '',
			explanation_style TEXT NOT NULL DEFAULT '',
			updated_ts INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_key (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			secret_hash TEXT NOT NULL,
			created_ts INTEGER NOT NULL,
			last_used_ts INTEGER NOT NULL DEFAULT 0,
			revoked_ts INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_key_user ON api_key (user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate schema")
		}
	}
	return nil
}
