package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/reveriehq/reverie/store"
)

func (d *DB) CreateAPIKey(ctx context.Context, create *store.APIKey) (*store.APIKey, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	stmt := `
		INSERT INTO api_key (id, user_id, name, secret_hash, created_ts, last_used_ts, revoked_ts)
		VALUES (` + placeholders(7) + `)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.Name,
		create.SecretHash,
		create.CreatedTs,
		create.LastUsedTs,
		create.RevokedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create api key")
	}

	return create, nil
}

func (d *DB) ListAPIKeys(ctx context.Context, find *store.FindAPIKey) ([]*store.APIKey, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if !find.IncludeRevoked {
		where = append(where, "revoked_ts = 0")
	}

	query := `
		SELECT id, user_id, name, secret_hash, created_ts, last_used_ts, revoked_ts
		FROM api_key
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list api keys")
	}
	defer rows.Close()

	list := []*store.APIKey{}
	for rows.Next() {
		var key store.APIKey
		if err := rows.Scan(
			&key.ID,
			&key.UserID,
			&key.Name,
			&key.SecretHash,
			&key.CreatedTs,
			&key.LastUsedTs,
			&key.RevokedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan api key")
		}
		list = append(list, &key)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateAPIKey(ctx context.Context, update *store.UpdateAPIKey) (*store.APIKey, error) {
	set, args := []string{}, []any{}

	if update.LastUsedTs != nil {
		set, args = append(set, "last_used_ts = "+placeholder(len(args)+1)), append(args, *update.LastUsedTs)
	}
	if update.RevokedTs != nil {
		set, args = append(set, "revoked_ts = "+placeholder(len(args)+1)), append(args, *update.RevokedTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	stmt := `
		UPDATE api_key
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)+1) + `
		RETURNING id, user_id, name, secret_hash, created_ts, last_used_ts, revoked_ts
	`
	args = append(args, update.ID)

	var key store.APIKey
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&key.ID,
		&key.UserID,
		&key.Name,
		&key.SecretHash,
		&key.CreatedTs,
		&key.LastUsedTs,
		&key.RevokedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to update api key")
	}

	return &key, nil
}
