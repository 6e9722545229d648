package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	"linear/api/internal/identity"
	"linear/api/internal/model"
	"linear/api/internal/rbac"
	"linear/api/internal/store"
)

// Session is the acting identity of a request.
type Session struct {
	UserID   string
	UserName string
	Role     model.Role
}

// ResolveSession picks the acting user. There is no authentication: the
// requested id wins when it names a user, then the configured placeholder,
// then the first user.
func (s *Service) ResolveSession(ctx context.Context, requested string) (Session, error) {
	user, err := s.identity.Resolve(ctx, requested)
	if err != nil {
		if errors.Is(err, identity.ErrNoIdentity) {
			return Session{}, domainError(http.StatusServiceUnavailable, "NO_IDENTITY", "No users exist yet", nil)
		}
		return Session{}, err
	}
	return Session{UserID: user.ID, UserName: user.Name, Role: rbac.Normalize(string(user.Role))}, nil
}

func (s *Service) Can(role model.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

// =============================================================================
// Users
// =============================================================================

type CreateUserInput struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
	Role   string `json:"role"`
}

func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, id string) (model.User, error) {
	return s.store.GetUser(ctx, id)
}

// CreateUser registers a directory entry. The very first user may be created
// by anyone so a fresh install can bootstrap itself.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (model.User, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return model.User{}, validationError("name is required")
	}
	email := strings.TrimSpace(input.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return model.User{}, validationError("email is invalid")
	}
	user, err := s.store.CreateUser(ctx, model.User{
		Name:   name,
		Email:  email,
		Avatar: strings.TrimSpace(input.Avatar),
		Role:   rbac.Normalize(input.Role),
	})
	if err != nil {
		return model.User{}, mapStoreConflict(err)
	}
	return user, nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (model.User, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return model.User{}, validationError("name cannot be empty")
	}
	if patch.Email != nil {
		if _, err := mail.ParseAddress(strings.TrimSpace(*patch.Email)); err != nil {
			return model.User{}, validationError("email is invalid")
		}
	}
	if patch.Role != nil {
		role := rbac.Normalize(string(*patch.Role))
		patch.Role = &role
	}
	user, err := s.store.UpdateUser(ctx, id, patch)
	if err != nil {
		return model.User{}, mapStoreConflict(err)
	}
	return user, nil
}

// =============================================================================
// Teams
// =============================================================================

var teamIdentifier = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}$`)

type CreateTeamInput struct {
	Name        string     `json:"name"`
	Identifier  string     `json:"identifier"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Members     model.Refs `json:"members"`
}

func (s *Service) ListTeams(ctx context.Context, includeArchived bool) ([]model.Team, error) {
	return s.store.ListTeams(ctx, includeArchived)
}

func (s *Service) GetTeam(ctx context.Context, id string) (model.Team, error) {
	return s.store.GetTeam(ctx, id)
}

func (s *Service) CreateTeam(ctx context.Context, session Session, input CreateTeamInput) (model.Team, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return model.Team{}, validationError("name is required")
	}
	ident := strings.ToUpper(strings.TrimSpace(input.Identifier))
	if !teamIdentifier.MatchString(ident) {
		return model.Team{}, validationError("identifier must be 1-10 letters or digits starting with a letter")
	}
	members := input.Members
	if len(members) == 0 && session.UserID != "" {
		members = model.Refs{model.Ref(session.UserID)}
	}
	team, err := s.store.CreateTeam(ctx, model.Team{
		Name:        name,
		Identifier:  ident,
		Description: strings.TrimSpace(input.Description),
		Icon:        input.Icon,
		Members:     members,
	})
	if err != nil {
		return model.Team{}, mapStoreConflict(err)
	}
	return team, nil
}

func (s *Service) UpdateTeam(ctx context.Context, id string, patch store.TeamPatch) (model.Team, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return model.Team{}, validationError("name cannot be empty")
	}
	team, err := s.store.UpdateTeam(ctx, id, patch)
	if err != nil {
		return model.Team{}, mapStoreConflict(err)
	}
	return team, nil
}

func (s *Service) ArchiveTeam(ctx context.Context, id string) error {
	return s.store.ArchiveTeam(ctx, id)
}

func mapStoreConflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return domainError(http.StatusConflict, "CONFLICT", strings.TrimPrefix(err.Error(), store.ErrConflict.Error()+": "), nil)
	}
	return err
}

func requireAction(session Session, action rbac.Action) error {
	if rbac.Can(session.Role, action) {
		return nil
	}
	return forbidden(fmt.Sprintf("role %s may not %s", session.Role, action))
}
