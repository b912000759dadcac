package rbac

import (
	"slices"
	"sort"
)

// Registry is the static role table: permissions, hierarchy levels and domain restrictions.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	permissions map[Role][]string
	levels      map[Role]int
	domains     map[string][]Role
}

// NewRegistry constructs the registry with the portal's role table.
func NewRegistry() *Registry {
	return &Registry{
		permissions: map[Role][]string{
			RoleSystemAdministrator: {
				PermManageAccessControl,
				PermWhitelistUsers,
				PermAssignRoles,
				PermViewAllAuditLogs,
				PermManageSystemConfig,
				PermCreateUsers,
				PermDeleteUsers,
				PermModifyUserRoles,
			},
			RoleUniversityRegistrar: {
				PermCreateRequests,
				PermReadAllRequests,
				PermUpdateAllRequests,
				PermDeleteRequests,
				PermAssignStaffPermissions,
				PermManageInternsAssistants,
				PermSignDocuments,
				PermReleaseDocuments,
				PermViewAllAuditLogs,
				PermManageUserAccess,
				PermDelegatePermissions,
			},
			RoleEvaluator: {
				PermCreateRequests,
				PermReadAssignedRequests,
				PermUpdateRequestStatus,
				PermMarkRequestIssued,
				PermMarkRequestPrinted,
				PermEditRequestData,
				PermViewOwnAuditLogs,
				PermProcessDocuments,
			},
			RoleStudentAssistant: {
				PermReadAssignedRequests,
				PermUpdateRequestInfo,
				PermVerifyRequestData,
				PermCoordinateWithRegistrar,
				PermViewAssignedAuditLogs,
			},
			RoleIntern: {
				PermReadAssignedRequests,
				PermVerifyRequestData,
				PermViewLimitedAuditLogs,
			},
		},
		levels: map[Role]int{
			RoleSystemAdministrator: 4,
			RoleUniversityRegistrar: 3,
			RoleEvaluator:           2,
			RoleStudentAssistant:    1,
			RoleIntern:              0,
		},
		domains: map[string][]Role{
			DomainStaff:   {RoleSystemAdministrator, RoleUniversityRegistrar, RoleEvaluator},
			DomainStudent: {RoleStudentAssistant, RoleIntern},
		},
	}
}

// Permissions returns a copy of the role's permission set. Unknown roles have none.
func (r *Registry) Permissions(role Role) []string {
	perms := r.permissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// HasPermission reports whether role carries perm in the live table.
func (r *Registry) HasPermission(role Role, perm string) bool {
	if perm == "" {
		return false
	}
	return slices.Contains(r.permissions[role], perm)
}

// Level returns the hierarchy level of role; higher is more privileged.
func (r *Registry) Level(role Role) int {
	level, ok := r.levels[role]
	if !ok {
		return LevelUnknown
	}
	return level
}

// HasEqualOrHigherRole reports whether a sits at or above b in the hierarchy.
func (r *Registry) HasEqualOrHigherRole(a, b Role) bool {
	return r.Level(a) >= r.Level(b)
}

// AllowedDomains lists the email domains permitted to hold role, sorted.
func (r *Registry) AllowedDomains(role Role) []string {
	var out []string
	for domain, roles := range r.domains {
		if slices.Contains(roles, role) {
			out = append(out, domain)
		}
	}
	sort.Strings(out)
	return out
}

// Domains returns the recognised institutional domains, sorted.
func (r *Registry) Domains() []string {
	out := make([]string, 0, len(r.domains))
	for domain := range r.domains {
		out = append(out, domain)
	}
	sort.Strings(out)
	return out
}

// IsValidDomain reports whether the email belongs to a recognised institutional domain.
func (r *Registry) IsValidDomain(email string) bool {
	_, ok := r.domains[DomainOf(email)]
	return ok
}

// IsRoleLegalForEmail reports whether role may be held by an account with this email.
func (r *Registry) IsRoleLegalForEmail(email string, role Role) bool {
	if email == "" || !role.Known() {
		return false
	}
	return slices.Contains(r.domains[DomainOf(email)], role)
}

// DomainRestrictions returns a copy of the domain → roles table.
func (r *Registry) DomainRestrictions() map[string][]Role {
	out := make(map[string][]Role, len(r.domains))
	for domain, roles := range r.domains {
		out[domain] = append([]Role(nil), roles...)
	}
	return out
}

// Hierarchy returns a copy of the role → level table.
func (r *Registry) Hierarchy() map[Role]int {
	out := make(map[Role]int, len(r.levels))
	for role, level := range r.levels {
		out[role] = level
	}
	return out
}

// Info describes role for administrative screens.
func (r *Registry) Info(role Role) Info {
	perms := r.Permissions(role)
	return Info{
		Role:            role,
		Level:           r.Level(role),
		Permissions:     perms,
		AllowedDomains:  r.AllowedDomains(role),
		PermissionCount: len(perms),
	}
}
