package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/reveriehq/reverie/store"
)

func (d *DB) CreatePersonality(ctx context.Context, create *store.Personality) (*store.Personality, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	create.CreatedTs = now
	create.UpdatedTs = now
	if create.Version == 0 {
		create.Version = 1
	}

	stmt := `INSERT INTO personality (
			id, owner_user_id, name, archetype, relationship_type,
			traits, behaviors, backstory, custom_instructions, speaking_style,
			version, created_ts, updated_ts
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.OwnerUserID,
		create.Name,
		create.Archetype,
		create.RelationshipType,
		toJSON(create.Traits),
		toJSON(create.Behaviors),
		create.Backstory,
		create.CustomInstructions,
		create.SpeakingStyle,
		create.Version,
		create.CreatedTs,
		create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create personality")
	}

	return create, nil
}

func (d *DB) ListPersonalities(ctx context.Context, find *store.FindPersonality) ([]*store.Personality, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.OwnerUserID != nil {
		where, args = append(where, "owner_user_id = ?"), append(args, *find.OwnerUserID)
	}
	if find.Name != nil {
		where, args = append(where, "name = ?"), append(args, *find.Name)
	}

	query := `SELECT
			id, owner_user_id, name, archetype, relationship_type,
			traits, behaviors, backstory, custom_instructions, speaking_style,
			version, created_ts, updated_ts
		FROM personality
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list personalities")
	}
	defer rows.Close()

	list := []*store.Personality{}
	for rows.Next() {
		personality, err := scanPersonality(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, personality)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdatePersonality(ctx context.Context, update *store.UpdatePersonality) (*store.Personality, error) {
	set, args := []string{}, []any{}

	if update.Archetype != nil {
		set, args = append(set, "archetype = ?"), append(args, *update.Archetype)
	}
	if update.RelationshipType != nil {
		set, args = append(set, "relationship_type = ?"), append(args, *update.RelationshipType)
	}
	if update.Traits != nil {
		set, args = append(set, "traits = ?"), append(args, toJSON(*update.Traits))
	}
	if update.Behaviors != nil {
		set, args = append(set, "behaviors = ?"), append(args, toJSON(*update.Behaviors))
	}
	if update.Backstory != nil {
		set, args = append(set, "backstory = ?"), append(args, *update.Backstory)
	}
	if update.CustomInstructions != nil {
		set, args = append(set, "custom_instructions = ?"), append(args, *update.CustomInstructions)
	}
	if update.SpeakingStyle != nil {
		set, args = append(set, "speaking_style = ?"), append(args, *update.SpeakingStyle)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	set = append(set, "version = version + 1")
	set, args = append(set, "updated_ts = ?"), append(args, time.Now().Unix())

	stmt := `UPDATE personality
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ?
		RETURNING
			id, owner_user_id, name, archetype, relationship_type,
			traits, behaviors, backstory, custom_instructions, speaking_style,
			version, created_ts, updated_ts`
	args = append(args, update.ID)

	personality, err := scanPersonality(d.db.QueryRowContext(ctx, stmt, args...).Scan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update personality")
	}
	return personality, nil
}

func (d *DB) DeletePersonality(ctx context.Context, delete *store.DeletePersonality) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM personality WHERE id = ?`, delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete personality")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("personality %s not found", delete.ID)
	}
	return nil
}

func scanPersonality(scan func(dest ...any) error) (*store.Personality, error) {
	var personality store.Personality
	var traits, behaviors string
	if err := scan(
		&personality.ID,
		&personality.OwnerUserID,
		&personality.Name,
		&personality.Archetype,
		&personality.RelationshipType,
		&traits,
		&behaviors,
		&personality.Backstory,
		&personality.CustomInstructions,
		&personality.SpeakingStyle,
		&personality.Version,
		&personality.CreatedTs,
		&personality.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan personality")
	}
	fromJSON(traits, &personality.Traits)
	fromJSON(behaviors, &personality.Behaviors)
	return &personality, nil
}
