package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/reveriehq/reverie/store"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so memory writes can run
// standalone or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	return createMemory(ctx, d.db, create)
}

// CreateMemorySuperseding inserts the new memory and deactivates the memories
// it replaces in a single transaction, so readers never observe the old and
// new versions both active.
func (d *DB) CreateMemorySuperseding(ctx context.Context, create *store.Memory, supersededIDs []string) (*store.Memory, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	memory, err := createMemory(ctx, tx, create)
	if err != nil {
		return nil, err
	}
	if err := supersedeMemories(ctx, tx, memory.ID, supersededIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit transaction")
	}
	return memory, nil
}

func createMemory(ctx context.Context, tx dbtx, create *store.Memory) (*store.Memory, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	create.UpdatedTs = now
	if create.DecayFactor == 0 {
		create.DecayFactor = 1.0
	}
	create.IsActive = true

	stmt := `INSERT INTO memory (
			id, user_id, personality_id, conversation_id, content, embedding,
			type, category, importance, importance_breakdown, entities,
			access_count, last_accessed_ts, decay_factor, is_active,
			superseded_by, consolidated_from, created_ts, updated_ts
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	embedding, err := float32ArrayToBLOB(create.Embedding)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.PersonalityID,
		create.ConversationID,
		create.Content,
		embedding,
		create.Type,
		create.Category,
		create.Importance,
		toJSON(create.ImportanceBreakdown),
		toJSON(create.Entities),
		create.AccessCount,
		create.LastAccessedTs,
		create.DecayFactor,
		create.IsActive,
		create.SupersededBy,
		toJSON(create.ConsolidatedFrom),
		create.CreatedTs,
		create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}

	return create, nil
}

func supersedeMemories(ctx context.Context, tx dbtx, supersededByID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := []string{}
	args := []any{supersededByID, time.Now().Unix()}
	for _, id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}

	stmt := `UPDATE memory
		SET is_active = FALSE, superseded_by = ?, updated_ts = ?
		WHERE id IN (` + strings.Join(placeholders, ", ") + `)`
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to supersede memories")
	}
	return nil
}

func (d *DB) SupersedeMemories(ctx context.Context, supersededByID string, ids []string) error {
	return supersedeMemories(ctx, d.db, supersededByID, ids)
}

const memoryFields = `id, user_id, personality_id, conversation_id, content, embedding,
	type, category, importance, importance_breakdown, entities,
	access_count, last_accessed_ts, decay_factor, is_active,
	superseded_by, consolidated_from, created_ts, updated_ts`

func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.PersonalityID != nil {
		where, args = append(where, "personality_id = ?"), append(args, *find.PersonalityID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = ?"), append(args, *find.ConversationID)
	}
	if find.Type != nil {
		where, args = append(where, "type = ?"), append(args, *find.Type)
	}
	if find.Category != nil {
		where, args = append(where, "category = ?"), append(args, *find.Category)
	}
	if find.IsActive != nil {
		where, args = append(where, "is_active = ?"), append(args, *find.IsActive)
	}

	query := `SELECT ` + memoryFields + `
		FROM memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
		if find.Offset != nil {
			query += fmt.Sprintf(" OFFSET %d", *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
	}
	defer rows.Close()

	list := []*store.Memory{}
	for rows.Next() {
		memory, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, memory)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateMemory(ctx context.Context, update *store.UpdateMemory) (*store.Memory, error) {
	set, args := []string{"updated_ts = ?"}, []any{time.Now().Unix()}

	if update.Content != nil {
		set, args = append(set, "content = ?"), append(args, *update.Content)
	}
	if update.Embedding != nil {
		embedding, err := float32ArrayToBLOB(update.Embedding)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "embedding = ?"), append(args, embedding)
	}
	if update.Category != nil {
		set, args = append(set, "category = ?"), append(args, *update.Category)
	}
	if update.Importance != nil {
		set, args = append(set, "importance = ?"), append(args, *update.Importance)
	}
	if update.Entities != nil {
		set, args = append(set, "entities = ?"), append(args, toJSON(update.Entities))
	}
	if update.DecayFactor != nil {
		set, args = append(set, "decay_factor = ?"), append(args, *update.DecayFactor)
	}
	if update.IsActive != nil {
		set, args = append(set, "is_active = ?"), append(args, *update.IsActive)
	}
	if update.SupersededBy != nil {
		set, args = append(set, "superseded_by = ?"), append(args, *update.SupersededBy)
	}
	args = append(args, update.ID)

	query := `UPDATE memory SET ` + strings.Join(set, ", ") + ` WHERE id = ?
		RETURNING ` + memoryFields
	memory, err := scanMemory(d.db.QueryRowContext(ctx, query, args...).Scan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update memory")
	}

	return memory, nil
}

func (d *DB) MarkMemoriesAccessed(ctx context.Context, ids []string, accessedTs int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := []string{}
	args := []any{accessedTs}
	for _, id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}

	stmt := `UPDATE memory
		SET access_count = access_count + 1, last_accessed_ts = ?
		WHERE id IN (` + strings.Join(placeholders, ", ") + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to mark memories accessed")
	}
	return nil
}

// MemoryVectorSearch loads candidate rows and ranks them in application code.
// SQLite stores embeddings as BLOBs and has no native vector distance, so the
// candidate set is over-fetched and scored with cosine similarity here.
func (d *DB) MemoryVectorSearch(ctx context.Context, opts *store.MemoryVectorSearchOptions) ([]*store.MemoryWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	where, args := []string{"is_active = TRUE", "embedding IS NOT NULL"}, []any{}
	where, args = append(where, "user_id = ?"), append(args, opts.UserID)
	where, args = append(where, "personality_id = ?"), append(args, opts.PersonalityID)
	if len(opts.Types) > 0 {
		placeholders := []string{}
		for _, t := range opts.Types {
			placeholders = append(placeholders, "?")
			args = append(args, t)
		}
		where = append(where, "type IN ("+strings.Join(placeholders, ", ")+")")
	}

	candidateLimit := opts.Limit * 5
	if candidateLimit > 500 {
		candidateLimit = 500
	}

	query := `SELECT ` + memoryFields + `
		FROM memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
		LIMIT ` + fmt.Sprintf("%d", candidateLimit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query memory candidates")
	}
	defer rows.Close()

	scored := []*store.MemoryWithScore{}
	for rows.Next() {
		memory, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		if len(memory.Embedding) != len(opts.Vector) {
			slog.Warn("skipping memory with mismatched embedding dimension",
				slog.String("id", memory.ID),
				slog.Int("got", len(memory.Embedding)),
				slog.Int("want", len(opts.Vector)))
			continue
		}
		score := float32(cosineSimilarity(memory.Embedding, opts.Vector))
		if float64(score) < opts.MinSimilarity {
			continue
		}
		scored = append(scored, &store.MemoryWithScore{Memory: memory, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}

	return scored, nil
}

func (d *DB) DeleteMemories(ctx context.Context, delete *store.DeleteMemory) (int64, error) {
	where, args := []string{}, []any{}

	if delete.ConversationID != nil {
		where, args = append(where, "conversation_id = ?"), append(args, *delete.ConversationID)
	}
	if delete.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *delete.UserID)
	}
	if delete.PersonalityID != nil {
		where, args = append(where, "personality_id = ?"), append(args, *delete.PersonalityID)
	}
	if delete.BelowImportance != nil {
		where, args = append(where, "importance < ?"), append(args, *delete.BelowImportance)
	}
	if len(where) == 0 {
		return 0, errors.New("refusing to delete all memories without a filter")
	}

	stmt := `DELETE FROM memory WHERE ` + strings.Join(where, " AND ")
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete memories")
	}
	count, _ := result.RowsAffected()
	return count, nil
}

func scanMemory(scan func(dest ...any) error) (*store.Memory, error) {
	var memory store.Memory
	var embedding []byte
	var importanceBreakdown, entities, consolidatedFrom string
	if err := scan(
		&memory.ID,
		&memory.UserID,
		&memory.PersonalityID,
		&memory.ConversationID,
		&memory.Content,
		&embedding,
		&memory.Type,
		&memory.Category,
		&memory.Importance,
		&importanceBreakdown,
		&entities,
		&memory.AccessCount,
		&memory.LastAccessedTs,
		&memory.DecayFactor,
		&memory.IsActive,
		&memory.SupersededBy,
		&consolidatedFrom,
		&memory.CreatedTs,
		&memory.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan memory")
	}

	vector, err := blobToFloat32Array(embedding)
	if err != nil {
		slog.Warn("failed to decode memory embedding", slog.String("id", memory.ID), slog.Any("err", err))
	} else {
		memory.Embedding = vector
	}
	fromJSON(importanceBreakdown, &memory.ImportanceBreakdown)
	fromJSON(entities, &memory.Entities)
	fromJSON(consolidatedFrom, &memory.ConsolidatedFrom)

	return &memory, nil
}
