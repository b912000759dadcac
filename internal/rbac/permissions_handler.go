package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xu-registrar/doctrack/internal/platform/httpx"
)

// PermissionsHandler exposes the role table to administrators.
type PermissionsHandler struct {
	registry *Registry
	rbac     Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(registry *Registry, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{registry: registry, rbac: rbac}
}

// MountRoutes registers role listing routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(PermManageAccessControl, PermAssignStaffPermissions))
		r.Get("/", h.listRoles)
	})
}

type rolesResponse struct {
	Roles              []Info            `json:"roles"`
	DomainRestrictions map[string][]Role `json:"domainRestrictions"`
}

func (h *PermissionsHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := Roles()
	infos := make([]Info, 0, len(roles))
	for _, role := range roles {
		infos = append(infos, h.registry.Info(role))
	}
	httpx.JSON(w, http.StatusOK, rolesResponse{Roles: infos, DomainRestrictions: h.registry.DomainRestrictions()})
}
