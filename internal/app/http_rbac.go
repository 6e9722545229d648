package app

import (
	"errors"
	"net/http"

	"linear/api/internal/model"
	"linear/api/internal/rbac"
	"linear/api/internal/store"
)

// routeRBAC serves the directory routes: users and teams. Reads are open to
// every role; changes need admin, except users editing their own profile.
func (s *HTTPServer) routeRBAC(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	// GET /api/users
	if len(parts) == 1 && parts[0] == "users" {
		s.handleUsers(w, r)
		return true
	}

	// /api/users/{id}
	if len(parts) == 2 && parts[0] == "users" {
		s.handleUser(w, r, session, parts[1])
		return true
	}

	// /api/teams
	if len(parts) == 1 && parts[0] == "teams" {
		s.handleTeams(w, r, session)
		return true
	}

	// /api/teams/{id}
	if len(parts) == 2 && parts[0] == "teams" {
		s.handleTeam(w, r, session, parts[1])
		return true
	}

	return false
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	users, err := s.service.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleCreateUser registers a user. An empty directory accepts anyone so a
// fresh install can create its first admin.
func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.ResolveSession(r.Context(), r.Header.Get("X-User-ID"))
	bootstrap := false
	if err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Code != "NO_IDENTITY" {
			s.fail(w, r, err)
			return
		}
		bootstrap = true
	}
	if !bootstrap && !s.allow(w, r, session, rbac.ActionAdmin) {
		return
	}

	var body CreateUserInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if bootstrap {
		body.Role = string(model.RoleAdmin)
	}
	user, err := s.service.CreateUser(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *HTTPServer) handleUser(w http.ResponseWriter, r *http.Request, session Session, userID string) {
	switch r.Method {
	case http.MethodGet:
		user, err := s.service.GetUser(r.Context(), userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch, http.MethodPut:
		var patch store.UserPatch
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		self := userID == session.UserID
		if (!self || patch.Role != nil) && !s.allow(w, r, session, rbac.ActionAdmin) {
			return
		}
		user, err := s.service.UpdateUser(r.Context(), userID, patch)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleTeams(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		teams, err := s.service.ListTeams(r.Context(), r.URL.Query().Get("includeArchived") == "true")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, teams)
		return
	}

	if r.Method == http.MethodPost {
		if !s.allow(w, r, session, rbac.ActionAdmin) {
			return
		}
		var body CreateTeamInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		team, err := s.service.CreateTeam(r.Context(), session, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, team)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleTeam(w http.ResponseWriter, r *http.Request, session Session, teamID string) {
	switch r.Method {
	case http.MethodGet:
		team, err := s.service.GetTeam(r.Context(), teamID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, team)
	case http.MethodPatch, http.MethodPut:
		if !s.allow(w, r, session, rbac.ActionAdmin) {
			return
		}
		var patch store.TeamPatch
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		team, err := s.service.UpdateTeam(r.Context(), teamID, patch)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, team)
	case http.MethodDelete:
		if !s.allow(w, r, session, rbac.ActionAdmin) {
			return
		}
		if err := s.service.ArchiveTeam(r.Context(), teamID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "archived": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}
