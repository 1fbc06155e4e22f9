package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/reveriehq/reverie/store"
)

// UpsertUserPreferences merges only the set fields into the user's row.
func (d *DB) UpsertUserPreferences(ctx context.Context, upsert *store.UpsertUserPreferences) (*store.UserPreferences, error) {
	set := []string{"updated_ts = EXCLUDED.updated_ts"}
	value := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	if upsert.Language != nil {
		set = append(set, "language = EXCLUDED.language")
	}
	if upsert.Formality != nil {
		set = append(set, "formality = EXCLUDED.formality")
	}
	if upsert.Tone != nil {
		set = append(set, "tone = EXCLUDED.tone")
	}
	if upsert.EmojiUsage != nil {
		set = append(set, "emoji_usage = EXCLUDED.emoji_usage")
	}
	if upsert.ResponseLength != nil {
		set = append(set, "response_length = EXCLUDED.response_length")
	}
	if upsert.ExplanationStyle != nil {
		set = append(set, "explanation_style = EXCLUDED.explanation_style")
	}

	stmt := `
		INSERT INTO user_preferences (user_id, language, formality, tone, emoji_usage, response_length, explanation_style, updated_ts)
		VALUES (` + placeholders(8) + `)
		ON CONFLICT (user_id)
		DO UPDATE SET ` + strings.Join(set, ", ") + `
		RETURNING user_id, language, formality, tone, emoji_usage, response_length, explanation_style, updated_ts
	`

	var preferences store.UserPreferences
	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.UserID,
		value(upsert.Language),
		value(upsert.Formality),
		value(upsert.Tone),
		value(upsert.EmojiUsage),
		value(upsert.ResponseLength),
		value(upsert.ExplanationStyle),
		time.Now().Unix(),
	).Scan(
		&preferences.UserID,
		&preferences.Language,
		&preferences.Formality,
		&preferences.Tone,
		&preferences.EmojiUsage,
		&preferences.ResponseLength,
		&preferences.ExplanationStyle,
		&preferences.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert user preferences")
	}

	return &preferences, nil
}

func (d *DB) GetUserPreferences(ctx context.Context, find *store.FindUserPreferences) (*store.UserPreferences, error) {
	query := `
		SELECT user_id, language, formality, tone, emoji_usage, response_length, explanation_style, updated_ts
		FROM user_preferences
		WHERE user_id = ` + placeholder(1)

	var preferences store.UserPreferences
	err := d.db.QueryRowContext(ctx, query, find.UserID).Scan(
		&preferences.UserID,
		&preferences.Language,
		&preferences.Formality,
		&preferences.Tone,
		&preferences.EmojiUsage,
		&preferences.ResponseLength,
		&preferences.ExplanationStyle,
		&preferences.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get user preferences")
	}

	return &preferences, nil
}

func (d *DB) DeleteUserPreferences(ctx context.Context, userID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM user_preferences WHERE user_id = `+placeholder(1), userID); err != nil {
		return errors.Wrap(err, "failed to delete user preferences")
	}
	return nil
}
