// internal/domain/models/task.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskClaimed   TaskStatus = "claimed"
	TaskSubmitted TaskStatus = "submitted"
	TaskVerified  TaskStatus = "verified"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool { return s == TaskVerified }

// Submission is what an assignee hands in.
type Submission struct {
	UserID      primitive.ObjectID `bson:"user_id" json:"user_id"`
	Notes       string             `bson:"notes" json:"notes"`
	Link        string             `bson:"link,omitempty" json:"link,omitempty"`
	SubmittedAt time.Time          `bson:"submitted_at" json:"submitted_at"`
}

// Task is a unit of volunteer work that grants XP once verified.
type Task struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Title       string               `bson:"title" json:"title"`
	Description string               `bson:"description,omitempty" json:"description,omitempty"`
	Category    string               `bson:"category,omitempty" json:"category,omitempty"`
	Deadline    *time.Time           `bson:"deadline,omitempty" json:"deadline,omitempty"`
	XPReward    int64                `bson:"xp_reward" json:"xp_reward"`
	Status      TaskStatus           `bson:"status" json:"status"`
	Assignees   []primitive.ObjectID `bson:"assignees" json:"assignees"`
	Submission  *Submission          `bson:"submission,omitempty" json:"submission,omitempty"`
	VerifiedBy  *primitive.ObjectID  `bson:"verified_by,omitempty" json:"verified_by,omitempty"`
	VerifiedAt  *time.Time           `bson:"verified_at,omitempty" json:"verified_at,omitempty"`
	CreatedBy   primitive.ObjectID   `bson:"created_by" json:"created_by"`
	CreatedAt   time.Time            `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at" json:"updated_at"`
}

// IsAssigned reports whether userID is on the assignee list.
func (t Task) IsAssigned(userID primitive.ObjectID) bool {
	for _, a := range t.Assignees {
		if a == userID {
			return true
		}
	}
	return false
}
