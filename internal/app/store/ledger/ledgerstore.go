// internal/app/store/ledger/ledgerstore.go
package ledgerstore

import (
	"context"
	"errors"
	"time"

	userstore "github.com/dalemusser/volunteerhub/internal/app/store/users"
	"github.com/dalemusser/volunteerhub/internal/app/system/txn"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	// ErrUnknownUser is returned when the owning user does not exist.
	ErrUnknownUser = errors.New("ledger: unknown user")
	// ErrDuplicate is returned when the dedupe key or reversal target was already used.
	ErrDuplicate = errors.New("ledger: duplicate grant")
	// ErrNotFound is returned when a transaction does not exist.
	ErrNotFound = errors.New("ledger: transaction not found")
)

// Store is the append-only XP ledger. It is the only caller of
// users.IncrementXP.
type Store struct {
	client *mongo.Client
	c      *mongo.Collection
	users  *userstore.Store
	log    *zap.Logger
}

func New(db *mongo.Database, users *userstore.Store, logger *zap.Logger) *Store {
	return &Store{
		client: db.Client(),
		c:      db.Collection("xp_transactions"),
		users:  users,
		log:    logger,
	}
}

// Append inserts tx and increments the owner's XP counter as one unit.
//
// On deployments with transactions both writes commit together. On a
// standalone server the insert happens first and the counter second; if the
// second write fails the xp-reconcile job repairs the counter from the ledger.
// When ctx already carries a session both writes join the caller's
// transaction instead of starting one.
func (s *Store) Append(ctx context.Context, tx models.XPTransaction) (models.XPTransaction, error) {
	tx.ID = primitive.NewObjectID()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	var err error
	if txn.InSession(ctx) {
		err = s.apply(ctx, tx)
	} else {
		err = txn.Run(ctx, s.client, func(sc mongo.SessionContext) error {
			return s.apply(sc, tx)
		})
		if errors.Is(err, txn.ErrNotSupported) {
			err = s.applyUnsafe(ctx, tx)
		}
	}
	if err != nil {
		return models.XPTransaction{}, err
	}
	return tx, nil
}

func (s *Store) apply(ctx context.Context, tx models.XPTransaction) error {
	if _, err := s.c.InsertOne(ctx, tx); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicate
		}
		return err
	}
	err := s.users.IncrementXP(ctx, tx.UserID, tx.Delta, tx.CreatedAt)
	if errors.Is(err, userstore.ErrNotFound) {
		return ErrUnknownUser
	}
	return err
}

func (s *Store) applyUnsafe(ctx context.Context, tx models.XPTransaction) error {
	if _, err := s.users.GetByID(ctx, tx.UserID); err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return ErrUnknownUser
		}
		return err
	}
	if _, err := s.c.InsertOne(ctx, tx); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicate
		}
		return err
	}
	if err := s.users.IncrementXP(ctx, tx.UserID, tx.Delta, tx.CreatedAt); err != nil {
		s.log.Error("xp counter update failed after ledger insert; reconcile will repair",
			zap.String("user_id", tx.UserID.Hex()),
			zap.String("tx_id", tx.ID.Hex()),
			zap.Error(err))
		return err
	}
	return nil
}

// GetByID loads one transaction.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.XPTransaction, error) {
	var tx models.XPTransaction
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&tx); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// FindByDedupeKey returns the transaction written for key, if any.
func (s *Store) FindByDedupeKey(ctx context.Context, key string) (*models.XPTransaction, error) {
	var tx models.XPTransaction
	if err := s.c.FindOne(ctx, bson.M{"dedupe_key": key}).Decode(&tx); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// Sum returns the ledger total for userID.
func (s *Store) Sum(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	cur, err := s.c.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": userID}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$delta"}}}},
	})
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	var row struct {
		Total int64 `bson:"total"`
	}
	if cur.Next(ctx) {
		if err := cur.Decode(&row); err != nil {
			return 0, err
		}
	}
	return row.Total, cur.Err()
}

// ListByUser returns the newest transactions for userID first.
func (s *Store) ListByUser(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.XPTransaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.c.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	txs := []models.XPTransaction{}
	if err := cur.All(ctx, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// Totals returns the ledger sum for every user with at least one transaction.
func (s *Store) Totals(ctx context.Context) (map[primitive.ObjectID]int64, error) {
	cur, err := s.c.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$user_id", "total": bson.M{"$sum": "$delta"}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[primitive.ObjectID]int64)
	for cur.Next(ctx) {
		var row struct {
			ID    primitive.ObjectID `bson:"_id"`
			Total int64              `bson:"total"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.ID] = row.Total
	}
	return out, cur.Err()
}
