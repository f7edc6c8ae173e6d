package auditlog_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/features/auditlog"
	"github.com/dalemusser/volunteerhub/internal/app/store/audit"
	"github.com/dalemusser/volunteerhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fakeStore records the last filter it was asked for.
type fakeStore struct {
	events []audit.Event
	total  int64
	last   audit.QueryFilter
}

func (s *fakeStore) Query(_ context.Context, f audit.QueryFilter) ([]audit.Event, error) {
	s.last = f
	return s.events, nil
}

func (s *fakeStore) CountByFilter(_ context.Context, f audit.QueryFilter) (int64, error) {
	return s.total, nil
}

func serve(h *auditlog.Handler, target string, as *testutil.TestUser) *testutil.ResponseRecorder {
	req := testutil.NewRequest(http.MethodGet, target)
	if as != nil {
		req = testutil.WithUser(req, *as)
	}
	rec := testutil.NewRecorder()
	auditlog.Routes(h).ServeHTTP(rec, req)
	return rec
}

func TestServeList_Access(t *testing.T) {
	h := auditlog.NewHandler(&fakeStore{}, zap.NewNop())

	serve(h, "/", nil).AssertStatus(t, http.StatusUnauthorized)

	secretary := testutil.SecretaryUser()
	serve(h, "/", &secretary).AssertStatus(t, http.StatusForbidden)

	root := testutil.SuperAdminUser()
	serve(h, "/", &root).AssertStatus(t, http.StatusOK)
}

func TestServeList_Filters(t *testing.T) {
	store := &fakeStore{total: 120}
	h := auditlog.NewHandler(store, zap.NewNop())
	root := testutil.SuperAdminUser()
	vol := primitive.NewObjectID()

	rec := serve(h, "/?category=admin&event_type=xp_adjusted&user_id="+vol.Hex()+"&start_date=2026-03-01&end_date=2026-03-01&page=2", &root)
	rec.AssertStatus(t, http.StatusOK)

	f := store.last
	if f.Category != "admin" || f.EventType != "xp_adjusted" {
		t.Errorf("classification filter = %+v", f)
	}
	if f.UserID == nil || *f.UserID != vol {
		t.Errorf("user filter = %v", f.UserID)
	}
	if f.Limit != 50 || f.Offset != 50 {
		t.Errorf("paging = limit %d offset %d", f.Limit, f.Offset)
	}
	wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if f.StartTime == nil || !f.StartTime.Equal(wantStart) {
		t.Errorf("start = %v", f.StartTime)
	}
	if f.EndTime == nil || f.EndTime.Sub(wantStart) < 23*time.Hour {
		t.Errorf("end date should cover the whole day, got %v", f.EndTime)
	}

	var body struct {
		Total      int64 `json:"total"`
		Page       int   `json:"page"`
		TotalPages int   `json:"total_pages"`
	}
	rec.DecodeJSON(t, &body)
	if body.Total != 120 || body.Page != 2 || body.TotalPages != 3 {
		t.Errorf("paging body = %+v", body)
	}
}

func TestServeList_InvalidQuery(t *testing.T) {
	h := auditlog.NewHandler(&fakeStore{}, zap.NewNop())
	root := testutil.SuperAdminUser()

	for _, q := range []string{
		"/?page=0",
		"/?page=abc",
		"/?user_id=nope",
		"/?actor_id=123",
		"/?start_date=03/01/2026",
		"/?end_date=yesterday",
		"/?start_date=2026-03-02&end_date=2026-03-01",
	} {
		t.Run(q, func(t *testing.T) {
			rec := serve(h, q, &root)
			rec.AssertStatus(t, http.StatusUnprocessableEntity)
			rec.AssertContains(t, "ValidationError")
		})
	}
}

func TestServeList_Mongo(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	staff := primitive.NewObjectID()
	for _, et := range []string{audit.EventXPAdjusted, audit.EventScanApproved} {
		if err := store.Log(ctx, audit.Event{Category: audit.CategoryAdmin, EventType: et, ActorID: &staff, Success: true}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	h := auditlog.NewHandler(store, zap.NewNop())
	root := testutil.SuperAdminUser()
	rec := serve(h, "/?actor_id="+staff.Hex(), &root)
	rec.AssertStatus(t, http.StatusOK)

	var body struct {
		Events []audit.Event `json:"events"`
		Total  int64         `json:"total"`
	}
	rec.DecodeJSON(t, &body)
	if len(body.Events) != 2 || body.Total != 2 {
		t.Fatalf("got %d events, total %d", len(body.Events), body.Total)
	}
	if body.Events[0].EventType != audit.EventScanApproved {
		t.Errorf("expected newest first, got %s", body.Events[0].EventType)
	}
}
