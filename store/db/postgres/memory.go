package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/reveriehq/reverie/store"
)

const memoryFields = `id, user_id, personality_id, conversation_id, content, embedding,
		type, category, importance, importance_breakdown, entities,
		access_count, last_accessed_ts, decay_factor, is_active,
		superseded_by, consolidated_from, created_ts, updated_ts`

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	return createMemory(ctx, d.db, create)
}

// CreateMemorySuperseding inserts the memory and deactivates the superseded
// rows in one transaction. Either everything commits or nothing does.
func (d *DB) CreateMemorySuperseding(ctx context.Context, create *store.Memory, supersededIDs []string) (*store.Memory, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
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
		return nil, errors.Wrap(err, "failed to commit memory supersedence")
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

	stmt := `
		INSERT INTO memory (` + memoryFields + `)
		VALUES (` + placeholders(19) + `)
	`
	if _, err := tx.ExecContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.PersonalityID,
		create.ConversationID,
		create.Content,
		pgvector.NewVector(create.Embedding),
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

func (d *DB) SupersedeMemories(ctx context.Context, supersededByID string, ids []string) error {
	return supersedeMemories(ctx, d.db, supersededByID, ids)
}

func supersedeMemories(ctx context.Context, tx dbtx, supersededByID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{supersededByID, time.Now().Unix()}
	marks := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		marks = append(marks, placeholder(len(args)))
	}
	stmt := `
		UPDATE memory
		SET is_active = FALSE, superseded_by = ` + placeholder(1) + `, updated_ts = ` + placeholder(2) + `
		WHERE id IN (` + strings.Join(marks, ", ") + `)
	`
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to supersede memories")
	}
	return nil
}

func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.PersonalityID != nil {
		where, args = append(where, "personality_id = "+placeholder(len(args)+1)), append(args, *find.PersonalityID)
	}
	if find.Type != nil {
		where, args = append(where, "type = "+placeholder(len(args)+1)), append(args, *find.Type)
	}
	if find.IsActive != nil {
		where, args = append(where, "is_active = "+placeholder(len(args)+1)), append(args, *find.IsActive)
	}

	query := `
		SELECT ` + memoryFields + `
		FROM memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
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
	set, args := []string{}, []any{}

	if update.Importance != nil {
		set, args = append(set, "importance = "+placeholder(len(args)+1)), append(args, *update.Importance)
	}
	if update.DecayFactor != nil {
		set, args = append(set, "decay_factor = "+placeholder(len(args)+1)), append(args, *update.DecayFactor)
	}
	if update.Category != nil {
		set, args = append(set, "category = "+placeholder(len(args)+1)), append(args, *update.Category)
	}
	if update.Entities != nil {
		set, args = append(set, "entities = "+placeholder(len(args)+1)), append(args, toJSON(*update.Entities))
	}
	if update.IsActive != nil {
		set, args = append(set, "is_active = "+placeholder(len(args)+1)), append(args, *update.IsActive)
	}
	if update.SupersededBy != nil {
		set, args = append(set, "superseded_by = "+placeholder(len(args)+1)), append(args, *update.SupersededBy)
	}
	if update.ConsolidatedFrom != nil {
		set, args = append(set, "consolidated_from = "+placeholder(len(args)+1)), append(args, toJSON(*update.ConsolidatedFrom))
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())

	stmt := `
		UPDATE memory
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)+1) + `
		RETURNING ` + memoryFields
	args = append(args, update.ID)

	memory, err := scanMemory(d.db.QueryRowContext(ctx, stmt, args...).Scan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update memory")
	}
	return memory, nil
}

// MarkMemoriesAccessed bumps retrieval counters in one statement.
func (d *DB) MarkMemoriesAccessed(ctx context.Context, ids []string, accessedTs int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{accessedTs}
	marks := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		marks = append(marks, placeholder(len(args)))
	}
	stmt := `
		UPDATE memory
		SET access_count = access_count + 1, last_accessed_ts = ` + placeholder(1) + `
		WHERE id IN (` + strings.Join(marks, ", ") + `)
	`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to mark memories accessed")
	}
	return nil
}

// MemoryVectorSearch performs cosine similarity search using pgvector.
// The <=> operator computes cosine distance; score is 1 - distance.
func (d *DB) MemoryVectorSearch(ctx context.Context, opts *store.MemoryVectorSearchOptions) ([]*store.MemoryWithScore, error) {
	where, args := []string{}, []any{}
	where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, opts.UserID)
	where, args = append(where, "personality_id = "+placeholder(len(args)+1)), append(args, opts.PersonalityID)
	where = append(where, "is_active = TRUE")

	if len(opts.Types) > 0 {
		marks := make([]string, 0, len(opts.Types))
		for _, t := range opts.Types {
			args = append(args, t)
			marks = append(marks, placeholder(len(args)))
		}
		where = append(where, "type IN ("+strings.Join(marks, ", ")+")")
	}

	vector := pgvector.NewVector(opts.Vector)

	args = append(args, vector)
	scoreExpr := "1 - (embedding <=> " + placeholder(len(args)) + ")"
	where = append(where, scoreExpr+" >= "+placeholder(len(args)+1))
	args = append(args, opts.MinSimilarity)

	query := `
		SELECT ` + memoryFields + `, ` + scoreExpr + ` AS score
		FROM memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY embedding <=> ` + placeholder(len(args)+1) + `
		LIMIT ` + placeholder(len(args)+2)
	args = append(args, vector, opts.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to memory vector search")
	}
	defer rows.Close()

	results := []*store.MemoryWithScore{}
	for rows.Next() {
		var result store.MemoryWithScore
		memory, err := scanMemoryWithScore(rows.Scan, &result.Score)
		if err != nil {
			return nil, err
		}
		result.Memory = memory
		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (d *DB) DeleteMemories(ctx context.Context, delete *store.DeleteMemory) (int64, error) {
	where, args := []string{"1 = 1"}, []any{}

	if delete.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *delete.ConversationID)
	}
	if delete.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *delete.UserID)
	}
	if delete.PersonalityID != nil {
		where, args = append(where, "personality_id = "+placeholder(len(args)+1)), append(args, *delete.PersonalityID)
	}
	if delete.BelowImportance != nil {
		where, args = append(where, "importance < "+placeholder(len(args)+1)), append(args, *delete.BelowImportance)
	}
	if len(args) == 0 {
		return 0, errors.New("refusing to delete all memories without a filter")
	}

	result, err := d.db.ExecContext(ctx, `DELETE FROM memory WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete memories")
	}
	count, _ := result.RowsAffected()
	return count, nil
}

func scanMemory(scan func(dest ...any) error) (*store.Memory, error) {
	return scanMemoryWithScore(scan, nil)
}

func scanMemoryWithScore(scan func(dest ...any) error, score *float32) (*store.Memory, error) {
	var memory store.Memory
	var vector pgvector.Vector
	var breakdown, entities, consolidatedFrom string

	dest := []any{
		&memory.ID,
		&memory.UserID,
		&memory.PersonalityID,
		&memory.ConversationID,
		&memory.Content,
		&vector,
		&memory.Type,
		&memory.Category,
		&memory.Importance,
		&breakdown,
		&entities,
		&memory.AccessCount,
		&memory.LastAccessedTs,
		&memory.DecayFactor,
		&memory.IsActive,
		&memory.SupersededBy,
		&consolidatedFrom,
		&memory.CreatedTs,
		&memory.UpdatedTs,
	}
	if score != nil {
		dest = append(dest, score)
	}
	if err := scan(dest...); err != nil {
		return nil, errors.Wrap(err, "failed to scan memory")
	}

	memory.Embedding = vector.Slice()
	fromJSON(breakdown, &memory.ImportanceBreakdown)
	fromJSON(entities, &memory.Entities)
	fromJSON(consolidatedFrom, &memory.ConsolidatedFrom)

	return &memory, nil
}
