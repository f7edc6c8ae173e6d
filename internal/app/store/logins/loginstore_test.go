package loginstore_test

import (
	"net/http/httptest"
	"testing"
	"time"

	loginstore "github.com/dalemusser/volunteerhub/internal/app/store/logins"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"github.com/dalemusser/volunteerhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_Create_SetsCreatedAt(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := loginstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()
	if err := store.Create(ctx, models.LoginRecord{UserID: userID, IP: "192.168.1.1", Provider: "trust"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	recs, err := store.Recent(ctx, userID, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if recs[0].IP != "192.168.1.1" {
		t.Errorf("IP = %q", recs[0].IP)
	}
}

func TestStore_CreateFrom(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := loginstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	req := httptest.NewRequest("POST", "/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")

	userID := primitive.NewObjectID()
	if err := store.CreateFrom(ctx, req, userID, "trust", 4); err != nil {
		t.Fatalf("CreateFrom failed: %v", err)
	}

	recs, _ := store.Recent(ctx, userID, 1)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].IP != "203.0.113.50" || recs[0].Streak != 4 || recs[0].Provider != "trust" {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestStore_Recent_NewestFirst(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := loginstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_ = store.Create(ctx, models.LoginRecord{UserID: userID, CreatedAt: base.AddDate(0, 0, i), Streak: i + 1})
	}

	recs, err := store.Recent(ctx, userID, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recs) != 2 || recs[0].Streak != 3 || recs[1].Streak != 2 {
		t.Errorf("Recent = %+v", recs)
	}
}
