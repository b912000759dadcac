package rbac

import (
	"slices"
	"strings"
)

// Role identifies a staff or student role in the portal.
type Role string

// Known roles. RoleUnknown is returned by ParseRole for anything else.
const (
	RoleUnknown             Role = ""
	RoleSystemAdministrator Role = "SystemAdministrator"
	RoleUniversityRegistrar Role = "UniversityRegistrar"
	RoleEvaluator           Role = "Evaluator"
	RoleStudentAssistant    Role = "StudentAssistant"
	RoleIntern              Role = "Intern"
)

// LevelUnknown is the hierarchy level of unrecognised roles.
const LevelUnknown = -1

// Institutional email domains, including the leading "@".
const (
	DomainStaff   = "@xu.edu.ph"
	DomainStudent = "@my.xu.edu.ph"
)

// Permissions granted to roles.
const (
	PermManageAccessControl = "manage_access_control"
	PermWhitelistUsers      = "whitelist_users"
	PermAssignRoles         = "assign_roles"
	PermViewAllAuditLogs    = "view_all_audit_logs"
	PermManageSystemConfig  = "manage_system_config"
	PermCreateUsers         = "create_users"
	PermDeleteUsers         = "delete_users"
	PermModifyUserRoles     = "modify_user_roles"

	PermCreateRequests          = "create_requests"
	PermReadAllRequests         = "read_all_requests"
	PermUpdateAllRequests       = "update_all_requests"
	PermDeleteRequests          = "delete_requests"
	PermAssignStaffPermissions  = "assign_staff_permissions"
	PermManageInternsAssistants = "manage_interns_assistants"
	PermSignDocuments           = "sign_documents"
	PermReleaseDocuments        = "release_documents"
	PermManageUserAccess        = "manage_user_access"
	PermDelegatePermissions     = "delegate_permissions"

	PermReadAssignedRequests = "read_assigned_requests"
	PermUpdateRequestStatus  = "update_request_status"
	PermMarkRequestIssued    = "mark_request_issued"
	PermMarkRequestPrinted   = "mark_request_printed"
	PermEditRequestData      = "edit_request_data"
	PermViewOwnAuditLogs     = "view_own_audit_logs"
	PermProcessDocuments     = "process_documents"

	PermUpdateRequestInfo       = "update_request_info"
	PermVerifyRequestData       = "verify_request_data"
	PermCoordinateWithRegistrar = "coordinate_with_registrar"
	PermViewAssignedAuditLogs   = "view_assigned_audit_logs"
	PermViewLimitedAuditLogs    = "view_limited_audit_logs"
)

// Roles lists the known roles from most to least privileged.
func Roles() []Role {
	return []Role{
		RoleSystemAdministrator,
		RoleUniversityRegistrar,
		RoleEvaluator,
		RoleStudentAssistant,
		RoleIntern,
	}
}

// ParseRole maps an external string onto a Role. Unrecognised input yields RoleUnknown.
func ParseRole(raw string) Role {
	raw = strings.TrimSpace(raw)
	for _, r := range Roles() {
		if string(r) == raw {
			return r
		}
	}
	return RoleUnknown
}

// Known reports whether r is one of the defined roles.
func (r Role) Known() bool {
	return slices.Contains(Roles(), r)
}

func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}

// Info summarises a role's place in the registry.
type Info struct {
	Role            Role     `json:"role"`
	Level           int      `json:"level"`
	Permissions     []string `json:"permissions"`
	AllowedDomains  []string `json:"allowedDomains"`
	PermissionCount int      `json:"permissionCount"`
}

// DomainOf returns the "@domain" part of an email in lower case, or "" when absent.
func DomainOf(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return ""
	}
	return email[idx:]
}
