// internal/app/store/attendance/attendancestore.go
package attendancestore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/volunteerhub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when no record exists for the pair.
var ErrNotFound = errors.New("attendance record not found")

// Store persists attendance. The unique {event_id,user_id} index is the
// only thing that decides who wins a concurrent check-in.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("attendance_records")}
}

// Insert creates rec unless one already exists for (EventID, UserID), in
// which case the existing record is returned with created=false.
func (s *Store) Insert(ctx context.Context, rec models.AttendanceRecord) (models.AttendanceRecord, bool, error) {
	rec.ID = primitive.NewObjectID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if _, err := s.c.InsertOne(ctx, rec); err != nil {
		if !wafflemongo.IsDup(err) {
			return models.AttendanceRecord{}, false, err
		}
		existing, gerr := s.Get(ctx, rec.EventID, rec.UserID)
		if gerr != nil {
			return models.AttendanceRecord{}, false, gerr
		}
		return *existing, false, nil
	}
	return rec, true, nil
}

// Get returns the record for (eventID, userID).
func (s *Store) Get(ctx context.Context, eventID, userID primitive.ObjectID) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	err := s.c.FindOne(ctx, bson.M{"event_id": eventID, "user_id": userID}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByEvent returns an event's attendance, oldest first. A limit of zero
// returns every record.
func (s *Store) ListByEvent(ctx context.Context, eventID primitive.ObjectID, limit int64) ([]models.AttendanceRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.c.Find(ctx, bson.M{"event_id": eventID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.AttendanceRecord{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CountByEvent returns how many users attended eventID.
func (s *Store) CountByEvent(ctx context.Context, eventID primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"event_id": eventID})
}
