package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/reveriehq/reverie/store"
)

// EnsureConversation idempotently creates the conversation row; concurrent
// ensure calls yield exactly one row.
func (d *DB) EnsureConversation(ctx context.Context, ensure *store.Conversation) (*store.Conversation, error) {
	now := time.Now().Unix()
	if ensure.CreatedTs == 0 {
		ensure.CreatedTs = now
	}
	if ensure.UpdatedTs == 0 {
		ensure.UpdatedTs = now
	}
	if ensure.TitleSource == "" {
		ensure.TitleSource = store.TitleSourceDefault
	}

	stmt := `
		INSERT INTO conversation (id, user_id, personality_id, title, title_source, created_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (id) DO UPDATE SET updated_ts = EXCLUDED.updated_ts
		RETURNING id, user_id, personality_id, title, title_source, created_ts, updated_ts
	`

	var conversation store.Conversation
	if err := d.db.QueryRowContext(ctx, stmt,
		ensure.ID,
		ensure.UserID,
		ensure.PersonalityID,
		ensure.Title,
		ensure.TitleSource,
		ensure.CreatedTs,
		ensure.UpdatedTs,
	).Scan(
		&conversation.ID,
		&conversation.UserID,
		&conversation.PersonalityID,
		&conversation.Title,
		&conversation.TitleSource,
		&conversation.CreatedTs,
		&conversation.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to ensure conversation")
	}

	return &conversation, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
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

	query := `
		SELECT id, user_id, personality_id, title, title_source, created_ts, updated_ts
		FROM conversation
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC
	`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	list := []*store.Conversation{}
	for rows.Next() {
		var conversation store.Conversation
		if err := rows.Scan(
			&conversation.ID,
			&conversation.UserID,
			&conversation.PersonalityID,
			&conversation.Title,
			&conversation.TitleSource,
			&conversation.CreatedTs,
			&conversation.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		list = append(list, &conversation)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.TitleSource != nil {
		set, args = append(set, "title_source = "+placeholder(len(args)+1)), append(args, *update.TitleSource)
	}
	if update.UpdatedTs != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *update.UpdatedTs)
	} else {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())
	}

	stmt := `
		UPDATE conversation
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)+1) + `
		RETURNING id, user_id, personality_id, title, title_source, created_ts, updated_ts
	`
	args = append(args, update.ID)

	var conversation store.Conversation
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&conversation.ID,
		&conversation.UserID,
		&conversation.PersonalityID,
		&conversation.Title,
		&conversation.TitleSource,
		&conversation.CreatedTs,
		&conversation.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to update conversation")
	}

	return &conversation, nil
}

func (d *DB) DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM conversation WHERE id = `+placeholder(1), delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete conversation")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("conversation %s not found", delete.ID)
	}

	// Transcript rows go with the conversation.
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE conversation_id = `+placeholder(1), delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete conversation messages")
	}
	return nil
}
