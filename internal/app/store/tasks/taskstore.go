// internal/app/store/tasks/taskstore.go
package taskstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when the task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrStaleState is returned when the task was not in the expected
	// state at write time (a concurrent transition won).
	ErrStaleState = errors.New("task state changed concurrently")
)

// Store persists tasks. Every transition is a compare-and-swap on status.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("tasks")}
}

// Create inserts t in the open state.
func (s *Store) Create(ctx context.Context, t models.Task) (models.Task, error) {
	t.ID = primitive.NewObjectID()
	t.Title = strings.TrimSpace(t.Title)
	t.Status = models.TaskOpen
	t.Assignees = []primitive.ObjectID{}
	t.Submission = nil
	t.VerifiedBy = nil
	t.VerifiedAt = nil
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, t); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

// GetByID loads one task.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Task, error) {
	var t models.Task
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListByStatus returns tasks in status, soonest deadline first.
func (s *Store) ListByStatus(ctx context.Context, status models.TaskStatus, limit int64) ([]models.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "deadline", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.c.Find(ctx, bson.M{"status": status}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.Task{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Claim moves an open task to claimed with userID as assignee.
func (s *Store) Claim(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (*models.Task, error) {
	return s.transition(ctx, bson.M{"_id": id, "status": models.TaskOpen}, bson.M{
		"$set":      bson.M{"status": models.TaskClaimed, "updated_at": at},
		"$addToSet": bson.M{"assignees": userID},
	})
}

// Submit moves a claimed task assigned to sub.UserID to submitted.
func (s *Store) Submit(ctx context.Context, id primitive.ObjectID, sub models.Submission) (*models.Task, error) {
	return s.transition(ctx, bson.M{"_id": id, "status": models.TaskClaimed, "assignees": sub.UserID}, bson.M{
		"$set": bson.M{"status": models.TaskSubmitted, "submission": sub, "updated_at": sub.SubmittedAt},
	})
}

// Verify moves a submitted task to verified.
func (s *Store) Verify(ctx context.Context, id, approverID primitive.ObjectID, at time.Time) (*models.Task, error) {
	return s.transition(ctx, bson.M{"_id": id, "status": models.TaskSubmitted}, bson.M{
		"$set": bson.M{"status": models.TaskVerified, "verified_by": approverID, "verified_at": at, "updated_at": at},
	})
}

// Delete removes a task that is not verified.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id, "status": bson.M{"$ne": models.TaskVerified}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return s.missOrStale(ctx, id)
	}
	return nil
}

func (s *Store) transition(ctx context.Context, filter, update bson.M) (*models.Task, error) {
	var t models.Task
	err := s.c.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, s.missOrStale(ctx, filter["_id"].(primitive.ObjectID))
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) missOrStale(ctx context.Context, id primitive.ObjectID) error {
	n, err := s.c.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStaleState
}
