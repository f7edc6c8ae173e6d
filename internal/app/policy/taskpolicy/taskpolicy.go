// internal/app/policy/taskpolicy/taskpolicy.go
package taskpolicy

import (
	"github.com/dalemusser/volunteerhub/internal/app/system/authz"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
)

// CanCreate reports whether p may publish new tasks.
func CanCreate(p authz.Principal) bool { return p.Privileged() }

// CanClaim reports whether p may claim tasks. Staff may pick up work too.
func CanClaim(p authz.Principal) bool { return !p.ID.IsZero() }

// CanSubmit reports whether p may hand in work for t.
func CanSubmit(p authz.Principal, t models.Task) bool { return t.IsAssigned(p.ID) }

// CanVerify reports whether p may verify submitted work and release XP.
func CanVerify(p authz.Principal) bool { return p.Privileged() }

// CanDelete reports whether p may delete a non-terminal task.
func CanDelete(p authz.Principal) bool { return p.Privileged() }
