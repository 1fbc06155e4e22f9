package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/reveriehq/reverie/store"
)

func (d *DB) CreateEmotion(ctx context.Context, create *store.EmotionEntry) (*store.EmotionEntry, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	stmt := `
		INSERT INTO emotion_entry (id, user_id, conversation_id, emotion, confidence, intensity, indicators, message_snippet, created_ts)
		VALUES (` + placeholders(9) + `)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.ConversationID,
		create.Emotion,
		create.Confidence,
		create.Intensity,
		toJSON(create.Indicators),
		create.MessageSnippet,
		create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create emotion entry")
	}

	return create, nil
}

func (d *DB) ListEmotions(ctx context.Context, find *store.FindEmotion) ([]*store.EmotionEntry, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.Emotion != nil {
		where, args = append(where, "emotion = "+placeholder(len(args)+1)), append(args, *find.Emotion)
	}
	if find.Since != nil {
		where, args = append(where, "created_ts >= "+placeholder(len(args)+1)), append(args, *find.Since)
	}

	query := `
		SELECT id, user_id, conversation_id, emotion, confidence, intensity, indicators, message_snippet, created_ts
		FROM emotion_entry
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list emotion entries")
	}
	defer rows.Close()

	list := []*store.EmotionEntry{}
	for rows.Next() {
		var entry store.EmotionEntry
		var indicators string
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.ConversationID,
			&entry.Emotion,
			&entry.Confidence,
			&entry.Intensity,
			&indicators,
			&entry.MessageSnippet,
			&entry.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan emotion entry")
		}
		fromJSON(indicators, &entry.Indicators)
		list = append(list, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) DeleteEmotions(ctx context.Context, delete *store.DeleteEmotion) (int64, error) {
	if delete.UserID == nil {
		return 0, errors.New("user id required")
	}
	result, err := d.db.ExecContext(ctx, `DELETE FROM emotion_entry WHERE user_id = `+placeholder(1), *delete.UserID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete emotion entries")
	}
	count, _ := result.RowsAffected()
	return count, nil
}
