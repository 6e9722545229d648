package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"linear/api/internal/model"
	"linear/api/internal/util"
)

const projectColumns = `id, name, description, icon, color, team_id, COALESCE(lead_id, ''), status,
	start_date, target_date, progress, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (model.Project, error) {
	var (
		p           model.Project
		team, lead  string
		start, goal sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Icon, &p.Color, &team, &lead, &p.Status,
		&start, &goal, &p.Progress, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return model.Project{}, err
	}
	p.Team = model.Ref(team)
	p.Lead = model.Ref(lead)
	p.StartDate = timePtr(start)
	p.TargetDate = timePtr(goal)
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, teamID string) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE ($1 = '' OR team_id = $1)
		ORDER BY created_at DESC, id ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (model.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Project{}, err
		}
		return model.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	if p.ID == "" {
		p.ID = util.NewID("prj")
	}
	if p.Status == "" {
		p.Status = "planned"
	}
	created, err := scanProject(s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, description, icon, color, team_id, lead_id, status, start_date, target_date, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+projectColumns,
		p.ID, p.Name, p.Description, p.Icon, p.Color, p.Team.String(), nullRef(p.Lead), p.Status,
		nullTime(p.StartDate), nullTime(p.TargetDate), p.Progress))
	if err != nil {
		if isForeignKeyViolation(err) {
			return model.Project{}, fmt.Errorf("%w: project references an unknown record", ErrConflict)
		}
		return model.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (model.Project, error) {
	var lead any
	if patch.Lead != nil {
		lead = nullRef(model.NormalizeRef(*patch.Lead))
	}
	updated, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			name = COALESCE($2::text, name),
			description = COALESCE($3::text, description),
			icon = COALESCE($4::text, icon),
			color = COALESCE($5::text, color),
			lead_id = CASE WHEN $6::boolean THEN $7::text ELSE lead_id END,
			status = COALESCE($8::text, status),
			start_date = COALESCE($9::timestamptz, start_date),
			target_date = COALESCE($10::timestamptz, target_date),
			progress = COALESCE($11::int, progress),
			updated_at = NOW()
		WHERE id=$1
		RETURNING `+projectColumns,
		id, patch.Name, patch.Description, patch.Icon, patch.Color, patch.Lead != nil, lead,
		patch.Status, patch.StartDate, patch.TargetDate, patch.Progress))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Project{}, err
		}
		if isForeignKeyViolation(err) {
			return model.Project{}, fmt.Errorf("%w: unknown project lead", ErrConflict)
		}
		return model.Project{}, fmt.Errorf("update project: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "project", `DELETE FROM projects WHERE id=$1`, id)
}

const cycleColumns = `id, name, team_id, start_date, end_date, description, completed_at, progress, archived, created_at, updated_at`

func scanCycle(row interface{ Scan(...any) error }) (model.Cycle, error) {
	var (
		c         model.Cycle
		team      string
		completed sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Name, &team, &c.StartDate, &c.EndDate, &c.Description,
		&completed, &c.Progress, &c.Archived, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return model.Cycle{}, err
	}
	c.Team = model.Ref(team)
	c.CompletedAt = timePtr(completed)
	return c, nil
}

func (s *PostgresStore) ListCycles(ctx context.Context, teamID string, includeArchived bool) ([]model.Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cycleColumns+` FROM cycles
		WHERE ($1 = '' OR team_id = $1) AND ($2::boolean OR NOT archived)
		ORDER BY start_date DESC, id ASC
	`, teamID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	out := []model.Cycle{}
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCycle(ctx context.Context, id string) (model.Cycle, error) {
	c, err := scanCycle(s.db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Cycle{}, err
		}
		return model.Cycle{}, fmt.Errorf("get cycle: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateCycle(ctx context.Context, c model.Cycle) (model.Cycle, error) {
	if c.ID == "" {
		c.ID = util.NewID("cyc")
	}
	created, err := scanCycle(s.db.QueryRowContext(ctx, `
		INSERT INTO cycles (id, name, team_id, start_date, end_date, description, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+cycleColumns,
		c.ID, c.Name, c.Team.String(), c.StartDate, c.EndDate, c.Description, c.Progress))
	if err != nil {
		if isForeignKeyViolation(err) {
			return model.Cycle{}, fmt.Errorf("%w: unknown team", ErrConflict)
		}
		return model.Cycle{}, fmt.Errorf("insert cycle: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateCycle(ctx context.Context, id string, patch CyclePatch) (model.Cycle, error) {
	updated, err := scanCycle(s.db.QueryRowContext(ctx, `
		UPDATE cycles SET
			name = COALESCE($2::text, name),
			description = COALESCE($3::text, description),
			start_date = COALESCE($4::timestamptz, start_date),
			end_date = COALESCE($5::timestamptz, end_date),
			completed_at = COALESCE($6::timestamptz, completed_at),
			progress = COALESCE($7::int, progress),
			archived = COALESCE($8::boolean, archived),
			updated_at = NOW()
		WHERE id=$1
		RETURNING `+cycleColumns,
		id, patch.Name, patch.Description, patch.StartDate, patch.EndDate, patch.CompletedAt, patch.Progress, patch.Archived))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Cycle{}, err
		}
		return model.Cycle{}, fmt.Errorf("update cycle: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteCycle(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "cycle", `DELETE FROM cycles WHERE id=$1`, id)
}

const labelColumns = `id, name, color, COALESCE(team_id, ''), description, created_at`

func scanLabel(row interface{ Scan(...any) error }) (model.Label, error) {
	var l model.Label
	var team string
	if err := row.Scan(&l.ID, &l.Name, &l.Color, &team, &l.Description, &l.CreatedAt); err != nil {
		return model.Label{}, err
	}
	l.Team = model.Ref(team)
	return l, nil
}

// ListLabels returns the labels of a team plus the workspace-wide ones.
func (s *PostgresStore) ListLabels(ctx context.Context, teamID string) ([]model.Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+labelColumns+` FROM labels
		WHERE $1 = '' OR team_id = $1 OR team_id IS NULL
		ORDER BY LOWER(name) ASC, id ASC
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	out := []model.Label{}
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateLabel(ctx context.Context, l model.Label) (model.Label, error) {
	if l.ID == "" {
		l.ID = util.NewID("lbl")
	}
	if l.Color == "" {
		l.Color = model.DefaultLabelColor
	}
	created, err := scanLabel(s.db.QueryRowContext(ctx, `
		INSERT INTO labels (id, name, color, team_id, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+labelColumns,
		l.ID, l.Name, l.Color, nullRef(l.Team), l.Description))
	if err != nil {
		if isForeignKeyViolation(err) {
			return model.Label{}, fmt.Errorf("%w: unknown team", ErrConflict)
		}
		return model.Label{}, fmt.Errorf("insert label: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateLabel(ctx context.Context, id string, patch LabelPatch) (model.Label, error) {
	updated, err := scanLabel(s.db.QueryRowContext(ctx, `
		UPDATE labels SET
			name = COALESCE($2::text, name),
			color = COALESCE($3::text, color),
			description = COALESCE($4::text, description)
		WHERE id=$1
		RETURNING `+labelColumns,
		id, patch.Name, patch.Color, patch.Description))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Label{}, err
		}
		return model.Label{}, fmt.Errorf("update label: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteLabel(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "label", `DELETE FROM labels WHERE id=$1`, id)
}

func (s *PostgresStore) deleteByID(ctx context.Context, kind, query, id string) error {
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s rows: %w", kind, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
