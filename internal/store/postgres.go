package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"linear/api/internal/model"
	"linear/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (s *PostgresStore) withTx(ctx context.Context, name string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", name, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

const userColumns = `id, name, email, avatar, role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Avatar, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

// ListUsers returns the directory in creation order, which is the order
// mention resolution and the identity fallback depend on.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, err
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = util.NewID("usr")
	}
	if u.Role == "" {
		u.Role = model.RoleMember
	}
	created, err := scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, avatar, role)
		VALUES ($1, $2, LOWER($3), $4, $5)
		RETURNING `+userColumns,
		u.ID, u.Name, strings.TrimSpace(u.Email), u.Avatar, string(u.Role)))
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("%w: email %s already registered", ErrConflict, u.Email)
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id string, patch UserPatch) (model.User, error) {
	var role any
	if patch.Role != nil {
		role = string(*patch.Role)
	}
	updated, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users SET
			name = COALESCE($2::text, name),
			email = COALESCE(LOWER($3::text), email),
			avatar = COALESCE($4::text, avatar),
			role = COALESCE($5::text, role),
			updated_at = NOW()
		WHERE id=$1
		RETURNING `+userColumns,
		id, patch.Name, patch.Email, patch.Avatar, role))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, err
		}
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("%w: email already registered", ErrConflict)
		}
		return model.User{}, fmt.Errorf("update user: %w", err)
	}
	return updated, nil
}

const teamColumns = `
	t.id, t.name, t.identifier, t.description, t.icon, t.archived, t.created_at, t.updated_at,
	(SELECT COALESCE(json_agg(m.user_id ORDER BY m.position, m.user_id), '[]'::json) FROM team_members m WHERE m.team_id = t.id)
`

func scanTeam(row interface{ Scan(...any) error }) (model.Team, error) {
	var t model.Team
	var members []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Identifier, &t.Description, &t.Icon, &t.Archived, &t.CreatedAt, &t.UpdatedAt, &members); err != nil {
		return model.Team{}, err
	}
	t.Members = decodeRefs(members)
	return t, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context, includeArchived bool) ([]model.Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+teamColumns+`
		FROM teams t
		WHERE $1::boolean OR NOT t.archived
		ORDER BY t.created_at ASC, t.id ASC
	`, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	teams := []model.Team{}
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *PostgresStore) GetTeam(ctx context.Context, id string) (model.Team, error) {
	t, err := scanTeam(s.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams t WHERE t.id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Team{}, err
		}
		return model.Team{}, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) CreateTeam(ctx context.Context, t model.Team) (model.Team, error) {
	if t.ID == "" {
		t.ID = util.NewID("team")
	}
	err := s.withTx(ctx, "create team", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO teams (id, name, identifier, description, icon)
			VALUES ($1, $2, $3, $4, $5)
		`, t.ID, t.Name, t.Identifier, t.Description, t.Icon); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: team identifier %s already in use", ErrConflict, t.Identifier)
			}
			return fmt.Errorf("insert team: %w", err)
		}
		return replaceMembers(ctx, tx, t.ID, t.Members.Strings())
	})
	if err != nil {
		return model.Team{}, err
	}
	return s.GetTeam(ctx, t.ID)
}

func (s *PostgresStore) UpdateTeam(ctx context.Context, id string, patch TeamPatch) (model.Team, error) {
	err := s.withTx(ctx, "update team", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE teams SET
				name = COALESCE($2::text, name),
				description = COALESCE($3::text, description),
				icon = COALESCE($4::text, icon),
				updated_at = NOW()
			WHERE id=$1
		`, id, patch.Name, patch.Description, patch.Icon)
		if err != nil {
			return fmt.Errorf("update team: %w", err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("update team rows: %w", err)
		} else if affected == 0 {
			return sql.ErrNoRows
		}
		if patch.Members == nil {
			return nil
		}
		return replaceMembers(ctx, tx, id, *patch.Members)
	})
	if err != nil {
		return model.Team{}, err
	}
	return s.GetTeam(ctx, id)
}

// ArchiveTeam hides a team. Teams are never hard deleted.
func (s *PostgresStore) ArchiveTeam(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE teams SET archived = TRUE, updated_at = NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("archive team: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive team rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func replaceMembers(ctx context.Context, tx *sql.Tx, teamID string, members []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE team_id=$1`, teamID); err != nil {
		return fmt.Errorf("clear team members: %w", err)
	}
	for i, member := range toRefs(members) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_members (team_id, user_id, position) VALUES ($1, $2, $3)
		`, teamID, member.String(), i); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: unknown user %s", ErrConflict, member)
			}
			return fmt.Errorf("insert team member: %w", err)
		}
	}
	return nil
}
