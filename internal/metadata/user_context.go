package metadata

import (
	"context"

	"github.com/questpie/questpie-cms-sub013/internal/store"
)

// UserContext represents the authenticated user, set by auth middleware.
type UserContext struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole checks whether the user has a specific role.
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the user has the admin role.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole("admin")
}

// EvalContext carries the request-scoped state available to access rules and
// field operators. DB is the same transactional handle as the surrounding
// operation, so rule reads observe in-flight writes.
type EvalContext struct {
	Ctx    context.Context
	DB     store.Querier
	User   *UserContext
	Locale string
	Row    map[string]any // current record, for update/delete and field reads
	Input  map[string]any // incoming payload, for writes
}

// UserMap returns the user as a map for expression environments.
// Anonymous requests yield an empty id and no roles.
func (ev *EvalContext) UserMap() map[string]any {
	if ev == nil || ev.User == nil {
		return map[string]any{"id": "", "roles": []string{}}
	}
	roles := ev.User.Roles
	if roles == nil {
		roles = []string{}
	}
	return map[string]any{"id": ev.User.ID, "roles": roles}
}
