// Package permission evaluates what a principal may do to a client record.
// The evaluator is a pure function of (roles, creator relation, status);
// it performs no I/O and is total over all inputs.
package permission

import (
	"strings"

	"github.com/clientdesk/clientdesk/internal/records"
)

// Role is a closed set of principal roles. A principal may hold several.
type Role string

const (
	RoleAdvisor    Role = "ADVISOR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// ParseRole maps a raw claim value onto the closed Role set.
// Unknown values are dropped by the caller rather than guessed at.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdvisor:
		return RoleAdvisor, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleSuperAdmin:
		return RoleSuperAdmin, true
	}
	return "", false
}

// ActionSet is the set of actions permitted in a given context.
type ActionSet map[records.Action]struct{}

// Has reports whether the set contains a.
func (s ActionSet) Has(a records.Action) bool {
	_, ok := s[a]
	return ok
}

// List returns the actions in stable order (table order).
func (s ActionSet) List() []records.Action {
	order := []records.Action{
		records.ActionSubmit,
		records.ActionValidateAdmin,
		records.ActionValidateSuper,
		records.ActionReject,
		records.ActionEdit,
		records.ActionDelete,
	}
	out := make([]records.Action, 0, len(s))
	for _, a := range order {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

func hasRole(roles []Role, want Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// PermittedActions returns the union of all matching rules:
//   - the creator may submit from IN_PROGRESS or BEING_MODIFIED, delete from
//     IN_PROGRESS, and edit from REJECTED;
//   - ADMIN may validate or reject a record awaiting admin validation;
//   - SUPER_ADMIN may validate or reject a record awaiting super-admin
//     validation.
func PermittedActions(roles []Role, isCreator bool, status records.Status) ActionSet {
	out := ActionSet{}

	if isCreator {
		switch status {
		case records.StatusInProgress:
			out[records.ActionSubmit] = struct{}{}
			out[records.ActionDelete] = struct{}{}
		case records.StatusBeingModified:
			out[records.ActionSubmit] = struct{}{}
		case records.StatusRejected:
			out[records.ActionEdit] = struct{}{}
		}
	}

	if hasRole(roles, RoleAdmin) && status == records.StatusAwaitingAdmin {
		out[records.ActionValidateAdmin] = struct{}{}
		out[records.ActionReject] = struct{}{}
	}

	if hasRole(roles, RoleSuperAdmin) && status == records.StatusAwaitingSuperAdmin {
		out[records.ActionValidateSuper] = struct{}{}
		out[records.ActionReject] = struct{}{}
	}

	return out
}

// CanView reports whether the principal may read the record at all.
// Viewing is separate from mutation: the creator always may; ADMIN may while
// the record awaits admin validation or once validated; SUPER_ADMIN may while
// it awaits super-admin validation or once validated.
func CanView(roles []Role, isCreator bool, status records.Status) bool {
	if isCreator {
		return true
	}
	if hasRole(roles, RoleAdmin) &&
		(status == records.StatusAwaitingAdmin || status == records.StatusValidated) {
		return true
	}
	if hasRole(roles, RoleSuperAdmin) &&
		(status == records.StatusAwaitingSuperAdmin || status == records.StatusValidated) {
		return true
	}
	return false
}
