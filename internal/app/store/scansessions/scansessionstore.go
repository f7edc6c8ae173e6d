// internal/app/store/scansessions/scansessionstore.go
package scansessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when the session does not exist (or was reaped).
	ErrNotFound = errors.New("scan session not found")
	// ErrStaleState is returned when the session left the expected state.
	ErrStaleState = errors.New("scan session state changed concurrently")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("scan_sessions")}
}

// Create inserts a new session.
func (s *Store) Create(ctx context.Context, ss models.ScanSession) (models.ScanSession, error) {
	ss.ID = primitive.NewObjectID()
	if ss.CreatedAt.IsZero() {
		ss.CreatedAt = time.Now().UTC()
	}
	ss.UpdatedAt = ss.CreatedAt
	if _, err := s.c.InsertOne(ctx, ss); err != nil {
		return models.ScanSession{}, err
	}
	return ss, nil
}

// GetByID loads one session.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.ScanSession, error) {
	var ss models.ScanSession
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&ss); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ss, nil
}

// Transition is the field set written when a session changes state.
type Transition struct {
	To           models.ScanState
	RejectReason string
	AttendanceID *primitive.ObjectID
	At           time.Time
}

// Transition moves session id from state `from` to t.To.
func (s *Store) Transition(ctx context.Context, id primitive.ObjectID, from models.ScanState, t Transition) (*models.ScanSession, error) {
	set := bson.M{"state": t.To, "updated_at": t.At}
	if t.RejectReason != "" {
		set["reject_reason"] = t.RejectReason
	}
	if t.AttendanceID != nil {
		set["attendance_id"] = *t.AttendanceID
	}

	var ss models.ScanSession
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": id, "state": from}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&ss)
	if err == mongo.ErrNoDocuments {
		if _, gerr := s.GetByID(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrStaleState
	}
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

// SetAttendance links an approved session to the attendance it recorded.
func (s *Store) SetAttendance(ctx context.Context, id, attendanceID primitive.ObjectID) (*models.ScanSession, error) {
	var ss models.ScanSession
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "state": models.ScanApproved},
		bson.M{"$set": bson.M{"attendance_id": attendanceID}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&ss)
	if err == mongo.ErrNoDocuments {
		if _, gerr := s.GetByID(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrStaleState
	}
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

// ExpireStale rejects every non-terminal session whose expiry is before now.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.c.UpdateMany(ctx, bson.M{
		"state":      bson.M{"$in": []models.ScanState{models.ScanIdle, models.ScanScanned, models.ScanVerified}},
		"expires_at": bson.M{"$lt": now},
	}, bson.M{"$set": bson.M{
		"state":         models.ScanRejected,
		"reject_reason": "expired",
		"updated_at":    now,
	}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
