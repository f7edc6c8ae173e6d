package eventstore_test

import (
	"errors"
	"testing"

	eventstore "github.com/dalemusser/volunteerhub/internal/app/store/events"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"github.com/dalemusser/volunteerhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_GetByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fixtures := testutil.NewFixtures(t, db)
	g := &models.GeofenceConfig{Latitude: 28.6139, Longitude: 77.2090, RadiusMeters: 100}
	fenced := fixtures.CreateEvent(ctx, "Blood drive", g)
	open := fixtures.CreateEvent(ctx, "Webinar", nil)

	store := eventstore.New(db)
	got, err := store.GetByID(ctx, fenced.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Title != "Blood drive" || got.Geofence == nil || *got.Geofence != *g {
		t.Errorf("GetByID = %+v, want geofence %+v", got, g)
	}

	got, err = store.GetByID(ctx, open.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Geofence != nil {
		t.Errorf("Geofence = %+v, want nil", got.Geofence)
	}
}

func TestStore_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := eventstore.New(db).GetByID(ctx, primitive.NewObjectID()); !errors.Is(err, eventstore.ErrNotFound) {
		t.Errorf("GetByID: expected ErrNotFound, got %v", err)
	}
}
