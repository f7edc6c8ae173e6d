package taskflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/engine/enginetest"
	"github.com/dalemusser/volunteerhub/internal/app/engine/taskflow"
	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/authz"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fixture struct {
	svc  *taskflow.Service
	mem  *enginetest.Memory
	head authz.Principal
	vol  authz.Principal
	vol2 authz.Principal
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mem := enginetest.NewMemory()
	ledger := xpledger.New(mem.Ledger(), mem.Users(), zap.NewNop(), nil)
	f := &fixture{mem: mem, svc: taskflow.New(mem.Tasks(), ledger, mem.Atomic(), 100, zap.NewNop(), nil)}
	for _, p := range []struct {
		dst  *authz.Principal
		name string
		role string
	}{
		{&f.head, "Head", models.RoleDomainHead},
		{&f.vol, "Vik", models.RoleVolunteer},
		{&f.vol2, "Wen", models.RoleVolunteer},
	} {
		u := mem.AddUser(models.User{FullName: p.name, Role: p.role})
		*p.dst = authz.Principal{ID: u.ID, Name: u.FullName, Role: u.Role}
	}
	return f
}

func (f *fixture) task(t *testing.T, in taskflow.NewInput) models.Task {
	t.Helper()
	if in.Title == "" {
		in.Title = "Sort donations"
	}
	task, err := f.svc.Create(context.Background(), f.head, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if apperr.CodeOf(err) != code {
		t.Errorf("err = %v, want code %s", err, code)
	}
}

func TestLifecycle_VerifyGrantsOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	task := f.task(t, taskflow.NewInput{XPReward: 120})
	if task.Status != models.TaskOpen {
		t.Fatalf("status = %s, want open", task.Status)
	}

	if _, err := f.svc.Claim(ctx, f.vol, task.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	sub, err := f.svc.Submit(ctx, f.vol, task.ID, taskflow.SubmitInput{Notes: "<p>Sorted 12 boxes</p><script>x()</script>", Link: " https://example.org/p "})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Status != models.TaskSubmitted || sub.Submission == nil {
		t.Fatalf("after submit: %+v", sub)
	}
	if sub.Submission.Notes != "<p>Sorted 12 boxes</p>" || sub.Submission.Link != "https://example.org/p" {
		t.Errorf("submission = %+v", sub.Submission)
	}

	res, err := f.svc.Verify(ctx, f.head, task.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Task.Status != models.TaskVerified || res.XPAwarded != 120 || len(res.Grants) != 1 {
		t.Errorf("verify result = %+v", res)
	}

	_, err = f.svc.Verify(ctx, f.head, task.ID)
	wantCode(t, err, apperr.CodeAlreadyVerified)
	if got := f.mem.User(f.vol.ID).XP; got != 120 {
		t.Errorf("xp = %d, want 120", got)
	}
}

func TestClaim_SecondClaimFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	task := f.task(t, taskflow.NewInput{})

	if _, err := f.svc.Claim(ctx, f.vol, task.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	_, err := f.svc.Claim(ctx, f.vol2, task.ID)
	wantCode(t, err, apperr.CodeAlreadyClaimed)
}

func TestClaim_Concurrent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	task := f.task(t, taskflow.NewInput{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, claimed := 0, 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		actor := f.vol
		if i%2 == 1 {
			actor = f.vol2
		}
		go func() {
			defer wg.Done()
			_, err := f.svc.Claim(ctx, actor, task.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.CodeOf(err) == apperr.CodeAlreadyClaimed:
				claimed++
			default:
				t.Errorf("Claim: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || claimed != 11 {
		t.Errorf("wins = %d claimed = %d, want 1 and 11", wins, claimed)
	}
	got, _ := f.svc.Get(ctx, task.ID)
	if len(got.Assignees) != 1 {
		t.Errorf("assignees = %v, want exactly one", got.Assignees)
	}
}

func TestClaim_DeadlinePassed(t *testing.T) {
	f := setup(t)
	past := time.Now().Add(-time.Hour)
	task := f.task(t, taskflow.NewInput{Deadline: &past})

	_, err := f.svc.Claim(context.Background(), f.vol, task.ID)
	if !errors.Is(err, apperr.InvalidState) {
		t.Errorf("err = %v, want InvalidState", err)
	}
	wantCode(t, err, apperr.CodeDeadlinePassed)
}

func TestSubmit_Guards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	task := f.task(t, taskflow.NewInput{})

	_, err := f.svc.Submit(ctx, f.vol, task.ID, taskflow.SubmitInput{Notes: "done"})
	wantCode(t, err, apperr.CodeInvalidState)

	if _, err := f.svc.Claim(ctx, f.vol, task.ID); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Submit(ctx, f.vol2, task.ID, taskflow.SubmitInput{Notes: "done"})
	wantCode(t, err, apperr.CodeNotAssigned)
	if !errors.Is(err, apperr.PermissionDenied) {
		t.Errorf("NotAssigned kind = %v", err)
	}

	_, err = f.svc.Submit(ctx, f.vol, task.ID, taskflow.SubmitInput{Notes: "<script>alert(1)</script>"})
	if !errors.Is(err, apperr.Validation) {
		t.Errorf("empty notes: err = %v, want Validation", err)
	}
}

func TestSubmit_ConcurrentOneWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	task := f.task(t, taskflow.NewInput{})
	if _, err := f.svc.Claim(ctx, f.vol, task.ID); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Submit(ctx, f.vol, task.ID, taskflow.SubmitInput{Notes: "done"}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, apperr.InvalidState) {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestVerify_ConcurrentGrantsOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	task := f.task(t, taskflow.NewInput{XPReward: 80})
	if _, err := f.svc.Claim(ctx, f.vol, task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Submit(ctx, f.vol, task.ID, taskflow.SubmitInput{Notes: "done"}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Verify(ctx, f.head, task.ID)
			if err != nil && apperr.CodeOf(err) != apperr.CodeAlreadyVerified {
				t.Errorf("Verify: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.mem.User(f.vol.ID).XP; got != 80 {
		t.Errorf("xp = %d, want 80", got)
	}
	if n := len(f.mem.Transactions(f.vol.ID)); n != 1 {
		t.Errorf("transactions = %d, want 1", n)
	}
}

func (f *fixture) submitted(t *testing.T, reward int64) models.Task {
	t.Helper()
	ctx := context.Background()
	task := f.task(t, taskflow.NewInput{XPReward: reward})
	if _, err := f.svc.Claim(ctx, f.vol, task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Submit(ctx, f.vol, task.ID, taskflow.SubmitInput{Notes: "done"}); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestVerify_GrantFailureRollsBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	task := f.submitted(t, 90)

	f.mem.FailAppend = context.DeadlineExceeded
	if _, err := f.svc.Verify(ctx, f.head, task.ID); !errors.Is(err, apperr.ExternalUnavailable) {
		t.Fatalf("Verify: err = %v, want ExternalUnavailable", err)
	}
	if got, _ := f.svc.Get(ctx, task.ID); got.Status != models.TaskSubmitted || got.VerifiedBy != nil {
		t.Fatalf("status = %s, want submitted after rollback", got.Status)
	}
	if got := f.mem.User(f.vol.ID).XP; got != 0 {
		t.Errorf("xp = %d, want 0", got)
	}

	res, err := f.svc.Verify(ctx, f.head, task.ID)
	if err != nil {
		t.Fatalf("retry Verify: %v", err)
	}
	if res.XPAwarded != 90 || f.mem.User(f.vol.ID).XP != 90 {
		t.Errorf("awarded = %d, xp = %d; want 90, 90", res.XPAwarded, f.mem.User(f.vol.ID).XP)
	}
	if n, _ := f.svc.BackfillGrants(ctx); n != 0 {
		t.Errorf("backfill granted %d after a transactional verify", n)
	}
}

func TestVerify_StandaloneGrantFailureIsBackfilled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mem.NoTransactions = true
	task := f.submitted(t, 90)

	f.mem.FailAppend = context.DeadlineExceeded
	if _, err := f.svc.Verify(ctx, f.head, task.ID); !errors.Is(err, apperr.ExternalUnavailable) {
		t.Fatalf("Verify: err = %v, want ExternalUnavailable", err)
	}
	if got, _ := f.svc.Get(ctx, task.ID); got.Status != models.TaskVerified {
		t.Fatalf("status = %s, want verified", got.Status)
	}

	n, err := f.svc.BackfillGrants(ctx)
	if err != nil {
		t.Fatalf("BackfillGrants: %v", err)
	}
	if n != 1 || f.mem.User(f.vol.ID).XP != 90 {
		t.Errorf("backfilled = %d, xp = %d; want 1, 90", n, f.mem.User(f.vol.ID).XP)
	}
	if n, _ := f.svc.BackfillGrants(ctx); n != 0 {
		t.Errorf("second backfill granted %d", n)
	}
}

func TestPermissions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	task := f.task(t, taskflow.NewInput{})

	if _, err := f.svc.Create(ctx, f.vol, taskflow.NewInput{Title: "x"}); !errors.Is(err, apperr.PermissionDenied) {
		t.Errorf("volunteer Create: err = %v", err)
	}
	if _, err := f.svc.Verify(ctx, f.vol, task.ID); !errors.Is(err, apperr.PermissionDenied) {
		t.Errorf("volunteer Verify: err = %v", err)
	}
	if err := f.svc.Delete(ctx, f.vol, task.ID); !errors.Is(err, apperr.PermissionDenied) {
		t.Errorf("volunteer Delete: err = %v", err)
	}
	if _, err := f.svc.Create(ctx, f.head, taskflow.NewInput{Title: "  "}); !errors.Is(err, apperr.Validation) {
		t.Errorf("blank title: err = %v", err)
	}
}

func TestCreate_DefaultReward(t *testing.T) {
	f := setup(t)
	task := f.task(t, taskflow.NewInput{Category: " outreach "})
	if task.XPReward != 100 || task.Category != "outreach" {
		t.Errorf("task = %+v", task)
	}
}

func TestDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	open := f.task(t, taskflow.NewInput{})
	if err := f.svc.Delete(ctx, f.head, open.ID); err != nil {
		t.Fatalf("Delete open: %v", err)
	}
	if _, err := f.svc.Get(ctx, open.ID); apperr.CodeOf(err) != apperr.CodeTaskNotFound {
		t.Errorf("Get deleted: err = %v", err)
	}

	done := f.task(t, taskflow.NewInput{XPReward: 10})
	if _, err := f.svc.Claim(ctx, f.vol, done.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Submit(ctx, f.vol, done.ID, taskflow.SubmitInput{Notes: "ok"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Verify(ctx, f.head, done.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(ctx, f.head, done.ID); !errors.Is(err, apperr.InvalidState) {
		t.Errorf("Delete verified: err = %v, want InvalidState", err)
	}
	if err := f.svc.Delete(ctx, f.head, primitive.NewObjectID()); !errors.Is(err, apperr.NotFound) {
		t.Errorf("Delete unknown: err = %v", err)
	}
	if f.mem.User(f.vol.ID).XP != 10 {
		t.Error("xp changed")
	}
}

func TestList(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.task(t, taskflow.NewInput{Title: "A"})
	f.task(t, taskflow.NewInput{Title: "B"})
	if _, err := f.svc.Claim(ctx, f.vol, a.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	open, err := f.svc.List(ctx, models.TaskOpen, 0)
	if err != nil || len(open) != 1 || open[0].Title != "B" {
		t.Errorf("open = %+v, %v", open, err)
	}
	claimed, err := f.svc.List(ctx, models.TaskClaimed, 0)
	if err != nil || len(claimed) != 1 || claimed[0].ID != a.ID {
		t.Errorf("claimed = %+v, %v", claimed, err)
	}
	_, err = f.svc.List(ctx, "archived", 0)
	wantCode(t, err, apperr.CodeValidation)
}
