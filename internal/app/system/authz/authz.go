// internal/app/system/authz/authz.go
package authz

import (
	"net/http"
	"strings"

	"github.com/dalemusser/volunteerhub/internal/app/system/auth"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Principal is the authenticated caller as the engine sees it.
type Principal struct {
	ID   primitive.ObjectID
	Name string
	Role string
}

// Privileged reports whether the principal may verify tasks, approve
// attendance, and adjust XP.
func (p Principal) Privileged() bool {
	return IsPrivilegedRole(p.Role)
}

// SuperAdmin reports whether the principal may edit the tier catalog.
func (p Principal) SuperAdmin() bool {
	return p.Role == models.RoleSuperAdmin
}

// PrivilegedRoles are the staff roles.
var PrivilegedRoles = []string{
	models.RoleSecretary,
	models.RoleDomainHead,
	models.RoleAssociateHead,
	models.RoleSuperAdmin,
}

// IsPrivilegedRole reports whether role is a staff role.
func IsPrivilegedRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range PrivilegedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// UserCtx returns the user's role (lowercased), name, Mongo ObjectID, and a found flag.
// If no user is present in context or the user ID is malformed, it returns
// "visitor", "", NilObjectID, false. ok=true means a valid, authenticated
// user with a valid ObjectID.
func UserCtx(r *http.Request) (role string, name string, userID primitive.ObjectID, ok bool) {
	user, ok := auth.CurrentUser(r)
	if !ok {
		return "visitor", "", primitive.NilObjectID, false
	}
	userID, err := primitive.ObjectIDFromHex(user.ID)
	if err != nil {
		// Malformed user ID in session: fail closed.
		return "visitor", "", primitive.NilObjectID, false
	}
	return strings.ToLower(user.Role), user.Name, userID, true
}

// CurrentPrincipal returns the request's principal.
func CurrentPrincipal(r *http.Request) (Principal, bool) {
	role, name, id, ok := UserCtx(r)
	if !ok {
		return Principal{}, false
	}
	return Principal{ID: id, Name: name, Role: role}, true
}

// IsPrivileged reports whether the current request's user holds a staff role.
func IsPrivileged(r *http.Request) bool {
	role, _, _, ok := UserCtx(r)
	return ok && IsPrivilegedRole(role)
}

// IsSuperAdmin reports whether the current request's user is a superadmin.
func IsSuperAdmin(r *http.Request) bool {
	role, _, _, ok := UserCtx(r)
	return ok && role == models.RoleSuperAdmin
}
