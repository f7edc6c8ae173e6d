package userstore

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/volunteerhub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

var (
	// ErrNotFound is returned when no user matches.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when attempting to create a user with an email that already exists.
	ErrDuplicateEmail = errors.New("a user with this email already exists")
	// ErrStaleLogin is returned when another session start updated the user first.
	ErrStaleLogin = errors.New("last login changed concurrently")

	errBadRole   = errors.New(`role must be "volunteer"|"secretary"|"domain_head"|"associate_head"|"superadmin"`)
	errBadStatus = errors.New(`status must be "active"|"disabled"`)
)

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetByEmail looks up a user by case-insensitive email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, bson.M{"email": normalizeEmail(email)}).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user after normalizing & validating fields.
// XP and streak always start at zero; only the ledger moves XP.
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	u.ID = primitive.NewObjectID()
	u.FullName = strings.Join(strings.Fields(u.FullName), " ")
	u.FullNameCI = text.Fold(u.FullName)
	u.Email = normalizeEmail(u.Email)
	u.Role = strings.ToLower(strings.TrimSpace(u.Role))
	if u.Role == "" {
		u.Role = models.RoleVolunteer
	}
	if u.Status == "" {
		u.Status = "active"
	}
	if !models.ValidRole(u.Role) {
		return models.User{}, errBadRole
	}
	if u.Status != "active" && u.Status != "disabled" {
		return models.User{}, errBadStatus
	}
	u.XP = 0
	u.Streak = 0
	u.LastLoginAt = nil

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, err
	}
	return u, nil
}

// IncrementXP atomically adds delta to the cached XP counter and stamps
// xp_updated_at with at. Only the ledger store calls it, with the same ctx
// as the transaction insert.
func (s *Store) IncrementXP(ctx context.Context, id primitive.ObjectID, delta int64, at time.Time) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"xp": delta},
		"$set": bson.M{"xp_updated_at": at.UTC(), "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RepairXP overwrites the cached XP counter when it equals expected.
// Used by reconciliation; a concurrent append makes it a no-op.
func (s *Store) RepairXP(ctx context.Context, id primitive.ObjectID, expected, xp int64) (bool, error) {
	now := time.Now().UTC()
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id, "xp": expected}, bson.M{
		"$set": bson.M{"xp": xp, "xp_updated_at": now, "updated_at": now},
	})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// RecordLogin stores a new streak and last-login time, but only if the
// stored last_login_at still equals prevLogin (nil meaning never logged in).
// Returns ErrStaleLogin if another session start won the race.
func (s *Store) RecordLogin(ctx context.Context, id primitive.ObjectID, prevLogin *time.Time, streak int, at time.Time) error {
	filter := bson.M{"_id": id}
	if prevLogin == nil {
		filter["last_login_at"] = nil
	} else {
		filter["last_login_at"] = prevLogin.UTC()
	}
	res, err := s.c.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"streak":        streak,
		"last_login_at": at.UTC(),
		"updated_at":    time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrStaleLogin
	}
	return nil
}

// SetRole changes a user's role and re-activates the account.
func (s *Store) SetRole(ctx context.Context, id primitive.ObjectID, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if !models.ValidRole(role) {
		return errBadRole
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"role":       role,
		"status":     "active",
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// XPEntry is a user's cached XP and when it was last written, as read by
// reconciliation.
type XPEntry struct {
	ID        primitive.ObjectID `bson:"_id"`
	XP        int64              `bson:"xp"`
	UpdatedAt time.Time          `bson:"xp_updated_at"`
}

// EachXP streams every user's cached XP to fn.
func (s *Store) EachXP(ctx context.Context, fn func(XPEntry) error) error {
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1, "xp": 1, "xp_updated_at": 1}))
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var e XPEntry
		if err := cur.Decode(&e); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return cur.Err()
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
