// internal/domain/models/roles.go
package models

// Roles, lowest privilege first.
const (
	RoleVolunteer     = "volunteer"
	RoleSecretary     = "secretary"
	RoleDomainHead    = "domain_head"
	RoleAssociateHead = "associate_head"
	RoleSuperAdmin    = "superadmin"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleVolunteer, RoleSecretary, RoleDomainHead, RoleAssociateHead, RoleSuperAdmin:
		return true
	}
	return false
}
