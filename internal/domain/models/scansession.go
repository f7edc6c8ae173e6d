// internal/domain/models/scansession.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ScanState is a state of the identity verification protocol.
type ScanState string

const (
	ScanIdle     ScanState = "idle"
	ScanScanned  ScanState = "scanned"
	ScanVerified ScanState = "verified"
	ScanApproved ScanState = "approved"
	ScanRejected ScanState = "rejected"
)

// Terminal reports whether the session can no longer move.
func (s ScanState) Terminal() bool { return s == ScanApproved || s == ScanRejected }

// ScanSession tracks one staff scan from decode to approval.
type ScanSession struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	StaffID      primitive.ObjectID  `bson:"staff_id" json:"staff_id"`
	EventID      primitive.ObjectID  `bson:"event_id" json:"event_id"`
	CandidateID  primitive.ObjectID  `bson:"candidate_id" json:"candidate_id"`
	TokenID      string              `bson:"token_id,omitempty" json:"-"`
	State        ScanState           `bson:"state" json:"state"`
	RejectReason string              `bson:"reject_reason,omitempty" json:"reject_reason,omitempty"`
	AttendanceID *primitive.ObjectID `bson:"attendance_id,omitempty" json:"attendance_id,omitempty"`
	CreatedAt    time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `bson:"updated_at" json:"updated_at"`
	ExpiresAt    time.Time           `bson:"expires_at" json:"expires_at"`
}
