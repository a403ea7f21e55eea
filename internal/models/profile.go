package models

import "slices"

type Role string

const (
	RoleCorredor Role = "CORREDOR"
	RoleAnalista Role = "ANALISTA"
	RoleAuditor  Role = "AUDITOR"
	RoleTI       Role = "TI"
	RoleAdmin    Role = "ADMIN"
)

// HomePath returns landing route of the role dashboard
func (r Role) HomePath() string {
	switch r {
	case RoleCorredor:
		return "/registros"
	case RoleTI:
		return "/system-settings"
	case RoleAuditor:
		return "/audit-panel"
	case RoleAnalista:
		return "/tax-management"
	default:
		return "/"
	}
}

// Profile of the authenticated user as returned by /api/perfil/
type Profile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	Role        Role   `json:"rol"`
	IsSuperuser bool   `json:"is_superuser"`
}

// Superusers without explicit role act as TI
func (p Profile) EffectiveRole() Role {
	if p.Role == "" && p.IsSuperuser {
		return RoleTI
	}
	return p.Role
}

// Allowed reports whether profile may use a feature open to roles
// Superusers are allowed everything, empty roles allow any authenticated user
func (p Profile) Allowed(roles ...Role) bool {
	if p.IsSuperuser || len(roles) == 0 {
		return true
	}
	return slices.Contains(roles, p.EffectiveRole())
}

// Payload of a new user account, TI accounts are not self registered
type Registration struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,strongpassword"`
	Role     Role   `json:"rol" validate:"required,oneof=CORREDOR ANALISTA AUDITOR"`
}

type RegistrationResult struct {
	Detail   string `json:"detail,omitempty"`
	ID       int64  `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
}
