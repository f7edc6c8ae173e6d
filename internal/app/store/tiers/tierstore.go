// internal/app/store/tiers/tierstore.go
package tierstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/system/txn"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store holds the tier catalog. Validation happens in the leveling package;
// the store only persists whole catalogs.
type Store struct {
	client *mongo.Client
	c      *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{client: db.Client(), c: db.Collection("level_tiers")}
}

// List returns the catalog ordered by min_xp.
func (s *Store) List(ctx context.Context) ([]models.LevelTier, error) {
	cur, err := s.c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "min_xp", Value: 1}, {Key: "level", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.LevelTier{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Replace swaps the whole catalog for tiers.
func (s *Store) Replace(ctx context.Context, tiers []models.LevelTier) error {
	now := time.Now().UTC()
	docs := make([]interface{}, len(tiers))
	for i := range tiers {
		tiers[i].UpdatedAt = now
		docs[i] = tiers[i]
	}

	write := func(ctx context.Context) error {
		if _, err := s.c.DeleteMany(ctx, bson.M{}); err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		_, err := s.c.InsertMany(ctx, docs)
		return err
	}

	err := txn.Run(ctx, s.client, func(sc mongo.SessionContext) error { return write(sc) })
	if errors.Is(err, txn.ErrNotSupported) {
		return write(ctx)
	}
	return err
}

// SeedIfEmpty stores tiers only when no catalog exists yet.
func (s *Store) SeedIfEmpty(ctx context.Context, tiers []models.LevelTier) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{})
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if err := s.Replace(ctx, tiers); err != nil {
		return false, err
	}
	return true, nil
}
