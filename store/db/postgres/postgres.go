// Package postgres implements the store driver on PostgreSQL with pgvector
// for memory embeddings.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/reveriehq/reverie/internal/profile"
	"github.com/reveriehq/reverie/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL connection with pooled settings suited to a
// per-request session model.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	pgDB.SetMaxOpenConns(25)
	pgDB.SetMaxIdleConns(5)
	pgDB.SetConnMaxLifetime(30 * time.Minute)

	driver := DB{db: pgDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema if absent. The embedding column dimension is
// fixed by the configured embedding model and must match stored vectors.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS "user" (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			metadata TEXT NOT NULL DEFAULT '{}',
			age_verified_ts BIGINT NOT NULL DEFAULT 0,
			created_ts BIGINT NOT NULL,
			last_active_ts BIGINT NOT NULL
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
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			UNIQUE (owner_user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			personality_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			title_source TEXT NOT NULL DEFAULT 'default',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation (user_id, updated_ts DESC)`,
		`CREATE TABLE IF NOT EXISTS message (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_conversation ON message (conversation_id, created_ts)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			personality_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding vector(%d),
			type TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			importance DOUBLE PRECISION NOT NULL,
			importance_breakdown TEXT NOT NULL DEFAULT '{}',
			entities TEXT NOT NULL DEFAULT '[]',
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed_ts BIGINT NOT NULL DEFAULT 0,
			decay_factor DOUBLE PRECISION NOT NULL DEFAULT 1,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			superseded_by TEXT NOT NULL DEFAULT '',
			consolidated_from TEXT NOT NULL DEFAULT '[]',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`, d.profile.EmbeddingDimension),
		`CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory (user_id, personality_id, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_embedding ON memory USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS emotion_entry (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			emotion TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			intensity TEXT NOT NULL,
			indicators TEXT NOT NULL DEFAULT '[]',
			message_snippet TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emotion_user ON emotion_entry (user_id, created_ts DESC)`,
		`CREATE TABLE IF NOT EXISTS goal (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			target_date_ts BIGINT NOT NULL DEFAULT 0,
			completed_ts BIGINT NOT NULL DEFAULT 0,
			last_mentioned_ts BIGINT NOT NULL DEFAULT 0,
			mention_count INTEGER NOT NULL DEFAULT 0,
			check_in_frequency TEXT NOT NULL DEFAULT '',
			last_check_in_ts BIGINT NOT NULL DEFAULT 0,
			milestones TEXT NOT NULL DEFAULT '[]',
			progress_notes TEXT NOT NULL DEFAULT '[]',
			motivation TEXT NOT NULL DEFAULT '',
			obstacles TEXT NOT NULL DEFAULT '[]',
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goal_user ON goal (user_id, status)`,
		`CREATE TABLE IF NOT EXISTS goal_progress (
			id TEXT PRIMARY KEY,
			goal_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			delta DOUBLE PRECISION NOT NULL DEFAULT 0,
			sentiment TEXT NOT NULL DEFAULT '',
			emotion TEXT NOT NULL DEFAULT '',
			conversation_id TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS relationship (
			user_id TEXT NOT NULL,
			personality_id TEXT NOT NULL,
			total_messages BIGINT NOT NULL DEFAULT 0,
			depth_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			trust_level DOUBLE PRECISION NOT NULL DEFAULT 0,
			first_interaction_ts BIGINT NOT NULL DEFAULT 0,
			last_interaction_ts BIGINT NOT NULL DEFAULT 0,
			milestones TEXT NOT NULL DEFAULT '[]',
			positive_reactions BIGINT NOT NULL DEFAULT 0,
			negative_reactions BIGINT NOT NULL DEFAULT 0,
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
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_key (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			secret_hash TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			last_used_ts BIGINT NOT NULL DEFAULT 0,
			revoked_ts BIGINT NOT NULL DEFAULT 0
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

// placeholder returns the $N parameter marker.
func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	list := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			list += ", "
		}
		list += placeholder(i)
	}
	return list
}
