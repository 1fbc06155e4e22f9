package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/reveriehq/reverie/store"
)

// UpsertRelationship merges counters and fields into the unique
// (user_id, personality_id) row, creating it on first interaction.
func (d *DB) UpsertRelationship(ctx context.Context, upsert *store.UpsertRelationship) (*store.Relationship, error) {
	if upsert.InteractionTs == 0 {
		upsert.InteractionTs = time.Now().Unix()
	}

	set := []string{
		"total_messages = relationship.total_messages + excluded.total_messages",
		"positive_reactions = relationship.positive_reactions + excluded.positive_reactions",
		"negative_reactions = relationship.negative_reactions + excluded.negative_reactions",
		"last_interaction_ts = excluded.last_interaction_ts",
	}
	if upsert.DepthScore != nil {
		set = append(set, "depth_score = excluded.depth_score")
	}
	if upsert.TrustLevel != nil {
		set = append(set, "trust_level = excluded.trust_level")
	}
	if upsert.Milestones != nil {
		set = append(set, "milestones = excluded.milestones")
	}

	depth := 0.0
	if upsert.DepthScore != nil {
		depth = *upsert.DepthScore
	}
	trust := 0.0
	if upsert.TrustLevel != nil {
		trust = *upsert.TrustLevel
	}
	milestones := "[]"
	if upsert.Milestones != nil {
		milestones = toJSON(*upsert.Milestones)
	}

	stmt := `INSERT INTO relationship (
			user_id, personality_id, total_messages, depth_score, trust_level,
			first_interaction_ts, last_interaction_ts, milestones,
			positive_reactions, negative_reactions
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, personality_id)
		DO UPDATE SET ` + strings.Join(set, ", ") + `
		RETURNING
			user_id, personality_id, total_messages, depth_score, trust_level,
			first_interaction_ts, last_interaction_ts, milestones,
			positive_reactions, negative_reactions`

	relationship, err := scanRelationship(d.db.QueryRowContext(ctx, stmt,
		upsert.UserID,
		upsert.PersonalityID,
		upsert.TotalMessagesDelta,
		depth,
		trust,
		upsert.InteractionTs,
		upsert.InteractionTs,
		milestones,
		upsert.PositiveReactionsDelta,
		upsert.NegativeReactionsDelta,
	).Scan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert relationship")
	}
	return relationship, nil
}

func (d *DB) ListRelationships(ctx context.Context, find *store.FindRelationship) ([]*store.Relationship, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.PersonalityID != nil {
		where, args = append(where, "personality_id = ?"), append(args, *find.PersonalityID)
	}

	query := `SELECT
			user_id, personality_id, total_messages, depth_score, trust_level,
			first_interaction_ts, last_interaction_ts, milestones,
			positive_reactions, negative_reactions
		FROM relationship
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY last_interaction_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list relationships")
	}
	defer rows.Close()

	list := []*store.Relationship{}
	for rows.Next() {
		relationship, err := scanRelationship(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, relationship)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func scanRelationship(scan func(dest ...any) error) (*store.Relationship, error) {
	var relationship store.Relationship
	var milestones string
	if err := scan(
		&relationship.UserID,
		&relationship.PersonalityID,
		&relationship.TotalMessages,
		&relationship.DepthScore,
		&relationship.TrustLevel,
		&relationship.FirstInteractionTs,
		&relationship.LastInteractionTs,
		&milestones,
		&relationship.PositiveReactions,
		&relationship.NegativeReactions,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan relationship")
	}
	fromJSON(milestones, &relationship.Milestones)
	return &relationship, nil
}
