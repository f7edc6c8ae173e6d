// internal/domain/models/event.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GeofenceConfig is the circular check-in region of an event.
type GeofenceConfig struct {
	Latitude     float64 `bson:"lat" json:"lat"`
	Longitude    float64 `bson:"lon" json:"lon"`
	RadiusMeters float64 `bson:"radius_m" json:"radius_m"`
}

// Event is owned by event management; the engine only reads it.
type Event struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title     string             `bson:"title" json:"title"`
	Date      time.Time          `bson:"date" json:"date"`
	Geofence  *GeofenceConfig    `bson:"geofence,omitempty" json:"geofence,omitempty"`
	XPReward  int64              `bson:"xp_reward,omitempty" json:"xp_reward,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}
