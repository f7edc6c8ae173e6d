// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is a volunteer or staff account.
//
// NOTE:
//   - XP is a denormalized cache of the xp_transactions ledger. Only the
//     ledger store writes it, in the same logical operation as the append.
//   - Level is never stored; it is derived from XP on read.
type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName   string             `bson:"full_name" json:"full_name"`
	FullNameCI string             `bson:"full_name_ci" json:"-"` // lowercase, diacritics-stripped
	Email      string             `bson:"email" json:"email"`
	Role       string             `bson:"role" json:"role"` // volunteer | secretary | domain_head | associate_head | superadmin
	Status     string             `bson:"status,omitempty" json:"status,omitempty"`
	Approved   bool               `bson:"approved" json:"approved"`

	Branch     string `bson:"branch,omitempty" json:"branch,omitempty"`
	Year       string `bson:"year,omitempty" json:"year,omitempty"`
	BloodGroup string `bson:"blood_group,omitempty" json:"blood_group,omitempty"`

	XP          int64      `bson:"xp" json:"xp"`
	XPUpdatedAt time.Time  `bson:"xp_updated_at,omitempty" json:"-"` // time of the last counter write
	Streak      int        `bson:"streak" json:"streak"`
	LastLoginAt *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// UserSummary is the profile shown to staff after an identity scan.
type UserSummary struct {
	ID       primitive.ObjectID `json:"id"`
	FullName string             `json:"full_name"`
	Role     string             `json:"role"`
	Branch   string             `json:"branch,omitempty"`
	Year     string             `json:"year,omitempty"`
	Approved bool               `json:"approved"`
}

// Summary projects the fields staff need for visual confirmation.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		FullName: u.FullName,
		Role:     u.Role,
		Branch:   u.Branch,
		Year:     u.Year,
		Approved: u.Approved,
	}
}
