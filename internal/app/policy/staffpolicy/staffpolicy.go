// internal/app/policy/staffpolicy/staffpolicy.go
package staffpolicy

import (
	"github.com/dalemusser/volunteerhub/internal/app/system/authz"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CanScan reports whether p may scan identity codes at an event.
func CanScan(p authz.Principal) bool { return p.Privileged() }

// CanApproveAttendance reports whether p may approve scans or mark
// attendance directly.
func CanApproveAttendance(p authz.Principal) bool { return p.Privileged() }

// CanViewAttendance reports whether p may read an event's roster.
func CanViewAttendance(p authz.Principal) bool { return p.Privileged() }

// CanAdjustXP reports whether p may post manual adjustments and reversals.
func CanAdjustXP(p authz.Principal) bool { return p.Privileged() }

// CanViewLedger reports whether p may read userID's transaction history.
func CanViewLedger(p authz.Principal, userID primitive.ObjectID) bool {
	return p.ID == userID || p.Privileged()
}

// CanEditTiers reports whether p may replace the tier catalog.
func CanEditTiers(p authz.Principal) bool { return p.SuperAdmin() }

// CanViewAudit reports whether p may read the audit trail.
func CanViewAudit(p authz.Principal) bool { return p.SuperAdmin() }
