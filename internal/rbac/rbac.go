// Package rbac maps workspace roles to the actions they may perform.
package rbac

import (
	"strings"

	"linear/api/internal/model"
)

type Action string

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment" // also covers reactions
	ActionWrite   Action = "write"   // tickets, projects, cycles, labels
	ActionAdmin   Action = "admin"   // teams and users
)

func Can(role model.Role, action Action) bool {
	switch role {
	case model.RoleAdmin:
		return true
	case model.RoleMember:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case model.RoleGuest:
		return action == ActionRead || action == ActionComment
	default:
		return false
	}
}

// Normalize maps unknown or legacy role names to the least privileged role.
func Normalize(role string) model.Role {
	switch r := model.Role(strings.ToLower(strings.TrimSpace(role))); r {
	case model.RoleAdmin, model.RoleMember, model.RoleGuest:
		return r
	case "user", "":
		return model.RoleMember
	default:
		return model.RoleGuest
	}
}
