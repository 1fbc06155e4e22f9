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

const goalFields = `id, user_id, title, description, category, status, progress,
		target_date_ts, completed_ts, last_mentioned_ts, mention_count,
		check_in_frequency, last_check_in_ts, milestones, progress_notes,
		motivation, obstacles, created_ts, updated_ts`

func (d *DB) CreateGoal(ctx context.Context, create *store.Goal) (*store.Goal, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	create.CreatedTs = now
	create.UpdatedTs = now
	if create.Status == "" {
		create.Status = store.GoalStatusActive
	}

	stmt := `
		INSERT INTO goal (` + goalFields + `)
		VALUES (` + placeholders(19) + `)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.UserID,
		create.Title,
		create.Description,
		create.Category,
		create.Status,
		create.Progress,
		create.TargetDateTs,
		create.CompletedTs,
		create.LastMentionedTs,
		create.MentionCount,
		create.CheckInFrequency,
		create.LastCheckInTs,
		toJSON(create.Milestones),
		toJSON(create.ProgressNotes),
		create.Motivation,
		toJSON(create.Obstacles),
		create.CreatedTs,
		create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create goal")
	}

	return create, nil
}

func (d *DB) ListGoals(ctx context.Context, find *store.FindGoal) ([]*store.Goal, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}

	query := `
		SELECT ` + goalFields + `
		FROM goal
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC
	`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list goals")
	}
	defer rows.Close()

	list := []*store.Goal{}
	for rows.Next() {
		goal, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, goal)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) UpdateGoal(ctx context.Context, update *store.UpdateGoal) (*store.Goal, error) {
	set, args := []string{}, []any{}

	if update.Title != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *update.Title)
	}
	if update.Description != nil {
		set, args = append(set, "description = "+placeholder(len(args)+1)), append(args, *update.Description)
	}
	if update.Category != nil {
		set, args = append(set, "category = "+placeholder(len(args)+1)), append(args, *update.Category)
	}
	if update.Status != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *update.Status)
	}
	if update.Progress != nil {
		set, args = append(set, "progress = "+placeholder(len(args)+1)), append(args, *update.Progress)
	}
	if update.TargetDateTs != nil {
		set, args = append(set, "target_date_ts = "+placeholder(len(args)+1)), append(args, *update.TargetDateTs)
	}
	if update.CompletedTs != nil {
		set, args = append(set, "completed_ts = "+placeholder(len(args)+1)), append(args, *update.CompletedTs)
	}
	if update.LastMentionedTs != nil {
		set, args = append(set, "last_mentioned_ts = "+placeholder(len(args)+1)), append(args, *update.LastMentionedTs)
	}
	if update.MentionCount != nil {
		set, args = append(set, "mention_count = "+placeholder(len(args)+1)), append(args, *update.MentionCount)
	}
	if update.CheckInFrequency != nil {
		set, args = append(set, "check_in_frequency = "+placeholder(len(args)+1)), append(args, *update.CheckInFrequency)
	}
	if update.LastCheckInTs != nil {
		set, args = append(set, "last_check_in_ts = "+placeholder(len(args)+1)), append(args, *update.LastCheckInTs)
	}
	if update.Milestones != nil {
		set, args = append(set, "milestones = "+placeholder(len(args)+1)), append(args, toJSON(*update.Milestones))
	}
	if update.ProgressNotes != nil {
		set, args = append(set, "progress_notes = "+placeholder(len(args)+1)), append(args, toJSON(*update.ProgressNotes))
	}
	if update.Motivation != nil {
		set, args = append(set, "motivation = "+placeholder(len(args)+1)), append(args, *update.Motivation)
	}
	if update.Obstacles != nil {
		set, args = append(set, "obstacles = "+placeholder(len(args)+1)), append(args, toJSON(*update.Obstacles))
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())

	stmt := `
		UPDATE goal
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)+1) + `
		RETURNING ` + goalFields
	args = append(args, update.ID)

	goal, err := scanGoal(d.db.QueryRowContext(ctx, stmt, args...).Scan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update goal")
	}
	return goal, nil
}

func (d *DB) DeleteGoal(ctx context.Context, delete *store.DeleteGoal) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM goal WHERE id = `+placeholder(1), delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete goal")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("goal %s not found", delete.ID)
	}
	if _, err := d.db.ExecContext(ctx, `DELETE FROM goal_progress WHERE goal_id = `+placeholder(1), delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete goal progress")
	}
	return nil
}

func (d *DB) CreateGoalProgress(ctx context.Context, create *store.GoalProgress) (*store.GoalProgress, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	stmt := `
		INSERT INTO goal_progress (id, goal_id, user_id, type, content, delta, sentiment, emotion, conversation_id, created_ts)
		VALUES (` + placeholders(10) + `)
	`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID,
		create.GoalID,
		create.UserID,
		create.Type,
		create.Content,
		create.Delta,
		create.Sentiment,
		create.Emotion,
		create.ConversationID,
		create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create goal progress")
	}

	return create, nil
}

func (d *DB) ListGoalProgress(ctx context.Context, find *store.FindGoalProgress) ([]*store.GoalProgress, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.GoalID != nil {
		where, args = append(where, "goal_id = "+placeholder(len(args)+1)), append(args, *find.GoalID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `
		SELECT id, goal_id, user_id, type, content, delta, sentiment, emotion, conversation_id, created_ts
		FROM goal_progress
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`
	if find.Limit != nil {
		query += fmt.Sprintf(" LIMIT %d", *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list goal progress")
	}
	defer rows.Close()

	list := []*store.GoalProgress{}
	for rows.Next() {
		var progress store.GoalProgress
		if err := rows.Scan(
			&progress.ID,
			&progress.GoalID,
			&progress.UserID,
			&progress.Type,
			&progress.Content,
			&progress.Delta,
			&progress.Sentiment,
			&progress.Emotion,
			&progress.ConversationID,
			&progress.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan goal progress")
		}
		list = append(list, &progress)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func scanGoal(scan func(dest ...any) error) (*store.Goal, error) {
	var goal store.Goal
	var milestones, progressNotes, obstacles string
	if err := scan(
		&goal.ID,
		&goal.UserID,
		&goal.Title,
		&goal.Description,
		&goal.Category,
		&goal.Status,
		&goal.Progress,
		&goal.TargetDateTs,
		&goal.CompletedTs,
		&goal.LastMentionedTs,
		&goal.MentionCount,
		&goal.CheckInFrequency,
		&goal.LastCheckInTs,
		&milestones,
		&progressNotes,
		&goal.Motivation,
		&obstacles,
		&goal.CreatedTs,
		&goal.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan goal")
	}
	fromJSON(milestones, &goal.Milestones)
	fromJSON(progressNotes, &goal.ProgressNotes)
	fromJSON(obstacles, &goal.Obstacles)
	return &goal, nil
}
