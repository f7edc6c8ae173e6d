// internal/domain/models/xptransaction.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// XPSource tags why a transaction was granted.
type XPSource string

const (
	XPSourceTaskVerified     XPSource = "task_verified"
	XPSourceEventAttended    XPSource = "event_attended"
	XPSourceSpinWheel        XPSource = "spin_wheel"
	XPSourceStreakBonus      XPSource = "streak_bonus"
	XPSourceManualAdjustment XPSource = "manual_adjustment"
)

// Valid reports whether s is one of the known sources.
func (s XPSource) Valid() bool {
	switch s {
	case XPSourceTaskVerified, XPSourceEventAttended, XPSourceSpinWheel,
		XPSourceStreakBonus, XPSourceManualAdjustment:
		return true
	}
	return false
}

// XPReference points at the task or event that caused a grant.
type XPReference struct {
	Kind string             `bson:"kind" json:"kind"` // task | event | xp_transaction
	ID   primitive.ObjectID `bson:"id" json:"id"`
}

// XPTransaction is one append-only ledger entry.
//
// DedupeKey, when set, is unique across the collection so a single logical
// grant (one task verification per assignee, one attendance per event) can
// never be written twice. ReversalOf is likewise unique: a transaction can
// be reversed once.
type XPTransaction struct {
	ID         primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID     primitive.ObjectID  `bson:"user_id" json:"user_id"`
	Delta      int64               `bson:"delta" json:"delta"`
	Source     XPSource            `bson:"source" json:"source"`
	Reference  *XPReference        `bson:"reference,omitempty" json:"reference,omitempty"`
	DedupeKey  string              `bson:"dedupe_key,omitempty" json:"-"`
	ReversalOf *primitive.ObjectID `bson:"reversal_of,omitempty" json:"reversal_of,omitempty"`
	ActorID    *primitive.ObjectID `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	Note       string              `bson:"note,omitempty" json:"note,omitempty"`
	CreatedAt  time.Time           `bson:"created_at" json:"created_at"`
}
