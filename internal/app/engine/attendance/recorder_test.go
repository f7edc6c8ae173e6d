package attendance_test

import (
	"context"
	"sync"
	"testing"

	"github.com/dalemusser/volunteerhub/internal/app/engine/attendance"
	"github.com/dalemusser/volunteerhub/internal/app/engine/enginetest"
	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.uber.org/zap"
)

func setup() (*attendance.Recorder, *enginetest.Memory) {
	mem := enginetest.NewMemory()
	ledger := xpledger.New(mem.Ledger(), mem.Users(), zap.NewNop(), nil)
	return attendance.NewRecorder(mem.Attendance(), ledger, 25, zap.NewNop()), mem
}

func TestRecord_GrantsOnce(t *testing.T) {
	rec, mem := setup()
	ctx := context.Background()
	u := mem.AddUser(models.User{FullName: "Lia"})
	ev := mem.AddEvent(models.Event{Title: "Beach cleanup", XPReward: 40})

	first, err := rec.Record(ctx, ev, attendance.Entry{UserID: u.ID, Method: models.AttendanceGeofence})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !first.Created || first.XPAwarded != 40 {
		t.Errorf("first = %+v, want created with 40 xp", first)
	}

	again, err := rec.Record(ctx, ev, attendance.Entry{UserID: u.ID, Method: models.AttendanceQR})
	if err != nil {
		t.Fatalf("Record again: %v", err)
	}
	if again.Created || again.XPAwarded != 0 {
		t.Errorf("again = %+v, want existing record, no xp", again)
	}
	if again.Record.ID != first.Record.ID || again.Record.Method != models.AttendanceGeofence {
		t.Errorf("again returned %+v, want the original record", again.Record)
	}
	if got := mem.User(u.ID).XP; got != 40 {
		t.Errorf("xp = %d, want 40", got)
	}
}

func TestRecord_DefaultReward(t *testing.T) {
	rec, mem := setup()
	u := mem.AddUser(models.User{FullName: "Mo"})
	ev := mem.AddEvent(models.Event{Title: "Blood drive"})

	out, err := rec.Record(context.Background(), ev, attendance.Entry{UserID: u.ID, Method: models.AttendanceQR})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if out.XPAwarded != 25 {
		t.Errorf("XPAwarded = %d, want default 25", out.XPAwarded)
	}
}

func TestRecord_RetryCompletesMissingGrant(t *testing.T) {
	rec, mem := setup()
	ctx := context.Background()
	u := mem.AddUser(models.User{FullName: "Nia"})
	ev := mem.AddEvent(models.Event{Title: "Food bank", XPReward: 30})

	mem.FailAppend = context.DeadlineExceeded
	if _, err := rec.Record(ctx, ev, attendance.Entry{UserID: u.ID, Method: models.AttendanceGeofence}); err == nil {
		t.Fatal("Record with failing ledger: want error")
	}
	if mem.AttendanceCount(ev.ID, u.ID) != 1 {
		t.Fatal("record not inserted before the grant")
	}

	out, err := rec.Record(ctx, ev, attendance.Entry{UserID: u.ID, Method: models.AttendanceGeofence})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if out.Created || out.XPAwarded != 30 {
		t.Errorf("retry = %+v, want existing record with the grant completed", out)
	}
}

func TestRecord_ConcurrentSinglePairOneGrant(t *testing.T) {
	rec, mem := setup()
	ctx := context.Background()
	u := mem.AddUser(models.User{FullName: "Oz"})
	ev := mem.AddEvent(models.Event{Title: "Tree planting", XPReward: 50})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		method := models.AttendanceGeofence
		if i%2 == 1 {
			method = models.AttendanceQR
		}
		go func() {
			defer wg.Done()
			if _, err := rec.Record(ctx, ev, attendance.Entry{UserID: u.ID, Method: method}); err != nil {
				t.Errorf("Record: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := mem.AttendanceCount(ev.ID, u.ID); n != 1 {
		t.Errorf("records = %d, want 1", n)
	}
	if got := mem.User(u.ID).XP; got != 50 {
		t.Errorf("xp = %d, want 50", got)
	}
}
