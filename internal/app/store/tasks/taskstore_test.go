package taskstore_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	taskstore "github.com/dalemusser/volunteerhub/internal/app/store/tasks"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"github.com/dalemusser/volunteerhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_Lifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store := taskstore.New(db)
	creator, user, approver := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()

	task, err := store.Create(ctx, models.Task{Title: " Poster design ", XPReward: 100, CreatedBy: creator, Status: models.TaskVerified})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if task.Status != models.TaskOpen || task.Title != "Poster design" {
		t.Fatalf("Create = %+v, want open and trimmed", task)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	claimed, err := store.Claim(ctx, task.ID, user, now)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed.Status != models.TaskClaimed || !claimed.IsAssigned(user) {
		t.Errorf("after Claim: %+v", claimed)
	}

	submitted, err := store.Submit(ctx, task.ID, models.Submission{UserID: user, Notes: "done", SubmittedAt: now})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if submitted.Status != models.TaskSubmitted || submitted.Submission == nil {
		t.Errorf("after Submit: %+v", submitted)
	}

	verified, err := store.Verify(ctx, task.ID, approver, now)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if verified.Status != models.TaskVerified || verified.VerifiedBy == nil || *verified.VerifiedBy != approver {
		t.Errorf("after Verify: %+v", verified)
	}

	if _, err := store.Verify(ctx, task.ID, approver, now); !errors.Is(err, taskstore.ErrStaleState) {
		t.Errorf("second Verify: expected ErrStaleState, got %v", err)
	}
	if err := store.Delete(ctx, task.ID); !errors.Is(err, taskstore.ErrStaleState) {
		t.Errorf("Delete verified: expected ErrStaleState, got %v", err)
	}
}

func TestStore_Submit_NotAssigned(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store := taskstore.New(db)
	task, _ := store.Create(ctx, models.Task{Title: "T", XPReward: 10})
	_, _ = store.Claim(ctx, task.ID, primitive.NewObjectID(), time.Now())

	_, err := store.Submit(ctx, task.ID, models.Submission{UserID: primitive.NewObjectID(), SubmittedAt: time.Now()})
	if !errors.Is(err, taskstore.ErrStaleState) {
		t.Errorf("expected ErrStaleState for non-assignee, got %v", err)
	}
}

func TestStore_Claim_ConcurrentOneWinner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store := taskstore.New(db)
	task, _ := store.Create(ctx, models.Task{Title: "T", XPReward: 10})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Claim(ctx, task.ID, primitive.NewObjectID(), time.Now()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
	got, _ := store.GetByID(ctx, task.ID)
	if len(got.Assignees) != 1 {
		t.Errorf("assignees = %d, want 1", len(got.Assignees))
	}
}

func TestStore_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store := taskstore.New(db)
	id := primitive.NewObjectID()
	if _, err := store.GetByID(ctx, id); !errors.Is(err, taskstore.ErrNotFound) {
		t.Errorf("GetByID: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Claim(ctx, id, primitive.NewObjectID(), time.Now()); !errors.Is(err, taskstore.ErrNotFound) {
		t.Errorf("Claim: expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, id); !errors.Is(err, taskstore.ErrNotFound) {
		t.Errorf("Delete: expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete_Open(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store := taskstore.New(db)
	task, _ := store.Create(ctx, models.Task{Title: "T"})
	if err := store.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.GetByID(ctx, task.ID); !errors.Is(err, taskstore.ErrNotFound) {
		t.Errorf("expected task gone, got %v", err)
	}
}
