package store

import (
	"context"
	"encoding/json"
	"fmt"

	"linear/api/internal/model"
	"linear/api/internal/util"
)

const maxActivityPage = 100

func (s *PostgresStore) InsertActivity(ctx context.Context, a model.Activity) (model.Activity, error) {
	if a.ID == "" {
		a.ID = util.NewID("act")
	}
	data := a.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return model.Activity{}, fmt.Errorf("encode activity data: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO activities (id, type, issue_id, user_id, team_id, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, a.ID, string(a.Type), nullRef(a.Issue), nullRef(a.User), nullRef(a.Team), payload).Scan(&a.CreatedAt)
	if err != nil {
		return model.Activity{}, fmt.Errorf("insert activity: %w", err)
	}
	a.Data = data
	return a, nil
}

// ListActivity returns the newest entries first. Limit is capped at 100.
func (s *PostgresStore) ListActivity(ctx context.Context, filter ActivityFilter) ([]model.Activity, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxActivityPage {
		limit = maxActivityPage
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, COALESCE(issue_id, ''), COALESCE(user_id, ''), COALESCE(team_id, ''), data, created_at
		FROM activities
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR team_id = $2)
		  AND ($3 = '' OR issue_id = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, filter.User, filter.Team, filter.Issue, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	out := []model.Activity{}
	for rows.Next() {
		var (
			a                 model.Activity
			kind              string
			issue, user, team string
			payload           []byte
		)
		if err := rows.Scan(&a.ID, &kind, &issue, &user, &team, &payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Type = model.ActivityType(kind)
		a.Issue = model.Ref(issue)
		a.User = model.Ref(user)
		a.Team = model.Ref(team)
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &a.Data)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
