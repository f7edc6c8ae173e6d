// internal/domain/models/attendance.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AttendanceMethod records how presence was verified.
type AttendanceMethod string

const (
	AttendanceGeofence AttendanceMethod = "geofence"
	AttendanceQR       AttendanceMethod = "qr"
)

// AttendanceRecord is unique per (EventID, UserID).
type AttendanceRecord struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	EventID        primitive.ObjectID  `bson:"event_id" json:"event_id"`
	UserID         primitive.ObjectID  `bson:"user_id" json:"user_id"`
	Method         AttendanceMethod    `bson:"method" json:"method"`
	DistanceMeters *float64            `bson:"distance_m,omitempty" json:"distance_m,omitempty"`
	ApprovedBy     *primitive.ObjectID `bson:"approved_by,omitempty" json:"approved_by,omitempty"`
	CreatedAt      time.Time           `bson:"created_at" json:"created_at"`
}
