package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/reveriehq/reverie/store"
)

func (d *DB) CreateUser(ctx context.Context, create *store.User) (*store.User, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.LastActiveTs == 0 {
		create.LastActiveTs = now
	}
	if create.Metadata == nil {
		create.Metadata = map[string]string{}
	}

	stmt := `
		INSERT INTO "user" (id, external_id, metadata, age_verified_ts, created_ts, last_active_ts)
		VALUES (` + placeholders(6) + `)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.ExternalID,
		toJSON(create.Metadata),
		create.AgeVerifiedTs,
		create.CreatedTs,
		create.LastActiveTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create user")
	}

	return create, nil
}

// EnsureUser creates the user on first sight. The upsert keeps concurrent
// calls down to one row and refreshes last_active_ts either way.
func (d *DB) EnsureUser(ctx context.Context, externalID string) (*store.User, error) {
	now := time.Now().Unix()
	stmt := `
		INSERT INTO "user" (id, external_id, metadata, age_verified_ts, created_ts, last_active_ts)
		VALUES (` + placeholders(6) + `)
		ON CONFLICT (external_id)
		DO UPDATE SET last_active_ts = EXCLUDED.last_active_ts
		RETURNING id, external_id, metadata, age_verified_ts, created_ts, last_active_ts
	`

	var user store.User
	var metadata string
	err := d.db.QueryRowContext(ctx, stmt,
		uuid.NewString(),
		externalID,
		"{}",
		0,
		now,
		now,
	).Scan(
		&user.ID,
		&user.ExternalID,
		&metadata,
		&user.AgeVerifiedTs,
		&user.CreatedTs,
		&user.LastActiveTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to ensure user")
	}
	user.Metadata = map[string]string{}
	fromJSON(metadata, &user.Metadata)

	return &user, nil
}

func (d *DB) ListUsers(ctx context.Context, find *store.FindUser) ([]*store.User, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ExternalID != nil {
		where, args = append(where, "external_id = "+placeholder(len(args)+1)), append(args, *find.ExternalID)
	}

	query := `
		SELECT id, external_id, metadata, age_verified_ts, created_ts, last_active_ts
		FROM "user"
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	list := []*store.User{}
	for rows.Next() {
		var user store.User
		var metadata string
		if err := rows.Scan(
			&user.ID,
			&user.ExternalID,
			&metadata,
			&user.AgeVerifiedTs,
			&user.CreatedTs,
			&user.LastActiveTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		user.Metadata = map[string]string{}
		fromJSON(metadata, &user.Metadata)
		list = append(list, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateUser(ctx context.Context, update *store.UpdateUser) (*store.User, error) {
	set, args := []string{}, []any{}

	if update.Metadata != nil {
		set, args = append(set, "metadata = "+placeholder(len(args)+1)), append(args, toJSON(*update.Metadata))
	}
	if update.AgeVerifiedTs != nil {
		set, args = append(set, "age_verified_ts = "+placeholder(len(args)+1)), append(args, *update.AgeVerifiedTs)
	}
	if update.LastActiveTs != nil {
		set, args = append(set, "last_active_ts = "+placeholder(len(args)+1)), append(args, *update.LastActiveTs)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	stmt := `
		UPDATE "user"
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)+1) + `
		RETURNING id, external_id, metadata, age_verified_ts, created_ts, last_active_ts
	`
	args = append(args, update.ID)

	var user store.User
	var metadata string
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&user.ID,
		&user.ExternalID,
		&metadata,
		&user.AgeVerifiedTs,
		&user.CreatedTs,
		&user.LastActiveTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to update user")
	}
	user.Metadata = map[string]string{}
	fromJSON(metadata, &user.Metadata)

	return &user, nil
}

// ListRecentlyActiveUsers returns user ids active since the cutoff, most
// recent first.
func (d *DB) ListRecentlyActiveUsers(ctx context.Context, since int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id FROM "user"
		WHERE last_active_ts >= ` + placeholder(1) + ` AND external_id != ` + placeholder(2) + `
		ORDER BY last_active_ts DESC
		LIMIT ` + placeholder(3)

	rows, err := d.db.QueryContext(ctx, query, since, store.SystemUserExternalID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recently active users")
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan user id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
