package policy

import (
	"fmt"
	"sort"
)

const (
	ActionCreateProject = "create_project"
	ActionEditProject   = "edit_project"
	ActionDeleteProject = "delete_project"
	ActionManageStages  = "manage_stages"
	ActionManageTasks   = "manage_tasks"
	ActionInviteMembers = "invite_members"
	ActionManageMembers = "manage_members"
)

const (
	RoleOwner        = "owner"
	RoleManager      = "manager"
	RoleCollaborator = "collaborator"
)

// Actions lists every action a policy can grant.
var Actions = []string{
	ActionCreateProject,
	ActionEditProject,
	ActionDeleteProject,
	ActionManageStages,
	ActionManageTasks,
	ActionInviteMembers,
	ActionManageMembers,
}

// ForbiddenError indicates the principal lacks an action.
type ForbiddenError struct {
	Action string
	Role   string
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("permission %s required", e.Action)
	}
	return fmt.Sprintf("permission %s required (role %s)", e.Action, e.Role)
}

// Principal is who asks: the logged-in user's system role and their role in
// the open project.
type Principal struct {
	UserID      int64
	SystemRole  string
	ProjectRole string
}

// Policy maps project roles to permitted actions.
type Policy struct {
	// AllowWithoutRole grants every action when the project role is unknown.
	AllowWithoutRole bool
	Roles            map[string][]string
}

// Default mirrors the single-machine permission rules: owners may do
// everything, managers and collaborators everything except editing the
// project, and unknown roles are allowed.
func Default() Policy {
	shared := []string{
		ActionCreateProject,
		ActionDeleteProject,
		ActionManageStages,
		ActionManageTasks,
		ActionInviteMembers,
		ActionManageMembers,
	}
	return Policy{
		AllowWithoutRole: true,
		Roles: map[string][]string{
			RoleOwner:        append([]string(nil), Actions...),
			RoleManager:      append([]string(nil), shared...),
			RoleCollaborator: append([]string(nil), shared...),
		},
	}
}

// FromRoles builds a policy from configured role lists, falling back to the
// default roles when none are given.
func FromRoles(allowWithoutRole bool, roles map[string][]string) Policy {
	p := Default()
	p.AllowWithoutRole = allowWithoutRole
	if len(roles) > 0 {
		p.Roles = make(map[string][]string, len(roles))
		for role, actions := range roles {
			p.Roles[role] = append([]string(nil), actions...)
		}
	}
	return p
}

// Allows reports whether the principal may perform action.
func (p Policy) Allows(who *Principal, action string) bool {
	if who == nil {
		return false
	}
	if who.SystemRole == "admin" {
		return true
	}
	if who.ProjectRole == "" {
		return p.AllowWithoutRole
	}
	for _, a := range p.Roles[who.ProjectRole] {
		if a == action {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError when the principal may not perform action.
func (p Policy) Require(who *Principal, action string) error {
	if p.Allows(who, action) {
		return nil
	}
	var role string
	if who != nil {
		role = who.ProjectRole
	}
	return ForbiddenError{Action: action, Role: role}
}

// Granted lists the actions the principal holds, sorted.
func (p Policy) Granted(who *Principal) []string {
	var res []string
	for _, a := range Actions {
		if p.Allows(who, a) {
			res = append(res, a)
		}
	}
	sort.Strings(res)
	return res
}
