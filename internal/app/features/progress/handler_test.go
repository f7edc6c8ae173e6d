package progress_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/engine/enginetest"
	engine "github.com/dalemusser/volunteerhub/internal/app/engine/progress"
	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	"github.com/dalemusser/volunteerhub/internal/app/features/progress"
	"github.com/dalemusser/volunteerhub/internal/app/store/audit"
	"github.com/dalemusser/volunteerhub/internal/app/system/leveling"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"github.com/dalemusser/volunteerhub/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// loginLog serves canned login records and remembers the limit asked for.
type loginLog struct {
	recs  []models.LoginRecord
	limit int64
	err   error
}

func (l *loginLog) Recent(_ context.Context, userID primitive.ObjectID, limit int64) ([]models.LoginRecord, error) {
	l.limit = limit
	out := []models.LoginRecord{}
	for _, rec := range l.recs {
		if rec.UserID == userID && int64(len(out)) < limit {
			out = append(out, rec)
		}
	}
	return out, l.err
}

type fixture struct {
	router http.Handler
	mem    *enginetest.Memory
	logins *loginLog
	audit  *testutil.AuditSink
	clock  *time.Time
	vol    models.User
	admin  testutil.TestUser
}

func setup() *fixture {
	mem := enginetest.NewMemory()
	ledger := xpledger.New(mem.Ledger(), mem.Users(), zap.NewNop(), nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := &fixture{mem: mem, clock: &now, logins: &loginLog{}}
	svc := engine.New(mem.Users(), mem.Tiers(), ledger, engine.Bonus{Every: 7, XP: 25}, zap.NewNop()).
		WithClock(func() time.Time { return *f.clock })
	auditLog, sink := testutil.AuditLogger()
	r := chi.NewRouter()
	progress.MountRoutes(r, progress.NewHandler(svc, f.logins, auditLog, zap.NewNop()))
	f.router = r
	f.audit = sink
	f.vol = mem.AddUser(models.User{FullName: "Lena"})
	f.admin = testutil.AsTestUser(mem.AddUser(models.User{FullName: "Root", Role: models.RoleSuperAdmin}))
	return f
}

func (f *fixture) do(method, target string, body any, as testutil.TestUser) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	f.router.ServeHTTP(rec, testutil.WithUser(testutil.NewJSONRequest(method, target, body), as))
	return rec
}

func TestLevel(t *testing.T) {
	f := setup()
	f.mem.SetUserXP(f.vol.ID, 100)

	rec := f.do(http.MethodGet, "/me/level", nil, testutil.AsTestUser(f.vol))
	rec.AssertStatus(t, http.StatusOK)
	var info leveling.Info
	rec.DecodeJSON(t, &info)
	if info.Level != 2 || info.XP != 100 || info.Tier == nil || info.Tier.Title != "Newcomer" {
		t.Errorf("info = %+v", info)
	}

	other := testutil.VolunteerUser()
	f.do(http.MethodGet, "/users/"+f.vol.ID.Hex()+"/level", nil, other).AssertContains(t, `"level":2`)
	f.do(http.MethodGet, "/users/"+other.ID+"/level", nil, other).AssertStatus(t, http.StatusNotFound)
}

func TestSessionAndStreak(t *testing.T) {
	f := setup()
	me := testutil.AsTestUser(f.vol)

	for day, want := range []int{1, 2, 3} {
		*f.clock = time.Date(2026, 3, 1+day, 9, 0, 0, 0, time.UTC)
		rec := f.do(http.MethodPost, "/me/streak", nil, me)
		rec.AssertStatus(t, http.StatusOK)
		var res engine.SessionStart
		rec.DecodeJSON(t, &res)
		if res.Streak != want {
			t.Errorf("day %d: streak = %d, want %d", day, res.Streak, want)
		}
	}

	*f.clock = f.clock.Add(72 * time.Hour)
	rec := f.do(http.MethodGet, "/me/streak", nil, me)
	rec.AssertStatus(t, http.StatusOK)
	var v engine.StreakView
	rec.DecodeJSON(t, &v)
	if v.Active || v.Streak != 0 || v.Stored != 3 {
		t.Errorf("lapsed view = %+v", v)
	}
}

func TestLoginHistory(t *testing.T) {
	f := setup()
	me := testutil.AsTestUser(f.vol)
	for i := 3; i >= 1; i-- {
		f.logins.recs = append(f.logins.recs, models.LoginRecord{
			UserID: f.vol.ID, Provider: "trust", Streak: i,
			CreatedAt: time.Date(2026, 3, i, 9, 0, 0, 0, time.UTC),
		})
	}

	rec := f.do(http.MethodGet, "/me/logins?limit=2", nil, me)
	rec.AssertStatus(t, http.StatusOK)
	var body struct {
		Logins []models.LoginRecord `json:"logins"`
	}
	rec.DecodeJSON(t, &body)
	if len(body.Logins) != 2 || body.Logins[0].Streak != 3 {
		t.Errorf("logins = %+v, want the newest 2", body.Logins)
	}

	f.do(http.MethodGet, "/me/logins?limit=5000", nil, me).AssertStatus(t, http.StatusOK)
	if f.logins.limit != 100 {
		t.Errorf("limit passed = %d, want capped at 100", f.logins.limit)
	}
	f.do(http.MethodGet, "/me/logins?limit=x", nil, me).AssertStatus(t, http.StatusUnprocessableEntity)

	f.logins.err = errors.New("mongo down")
	f.do(http.MethodGet, "/me/logins", nil, me).AssertStatus(t, http.StatusServiceUnavailable)
}

func TestTiers(t *testing.T) {
	f := setup()

	rec := f.do(http.MethodGet, "/tiers", nil, testutil.AsTestUser(f.vol))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, "Newcomer")

	catalog := map[string]any{"tiers": []map[string]any{
		{"level": 1, "title": "Rookie", "min_xp": 0, "max_xp": 499},
		{"level": 2, "title": "Regular", "min_xp": 500, "max_xp": -1, "badge": map[string]string{"color": "#ffaa00"}},
	}}
	f.do(http.MethodPut, "/tiers", catalog, testutil.AsTestUser(f.vol)).AssertStatus(t, http.StatusForbidden)

	rec = f.do(http.MethodPut, "/tiers", catalog, f.admin)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"key":"rookie"`)
	replaced := f.audit.OfType(audit.EventTiersReplaced)
	if len(replaced) != 1 || replaced[0].Details["tiers"] != "2" {
		t.Errorf("tiers_replaced events = %+v", replaced)
	}

	f.mem.SetUserXP(f.vol.ID, 600)
	f.do(http.MethodGet, "/me/level", nil, testutil.AsTestUser(f.vol)).AssertContains(t, "Regular")
}

func TestReplaceTiers_Invalid(t *testing.T) {
	f := setup()
	tests := []struct {
		name string
		body any
		code string
	}{
		{"empty", map[string]any{"tiers": []any{}}, "ValidationError"},
		{"bad color", map[string]any{"tiers": []map[string]any{
			{"level": 1, "title": "A", "min_xp": 0, "max_xp": -1, "badge": map[string]string{"color": "red"}},
		}}, "ValidationError"},
		{"gap", map[string]any{"tiers": []map[string]any{
			{"level": 1, "title": "A", "min_xp": 0, "max_xp": 99},
			{"level": 2, "title": "B", "min_xp": 150, "max_xp": -1},
		}}, "InvalidTierCatalog"},
		{"bounded last", map[string]any{"tiers": []map[string]any{
			{"level": 1, "title": "A", "min_xp": 0, "max_xp": 99},
		}}, "InvalidTierCatalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPut, "/tiers", tt.body, f.admin)
			rec.AssertStatus(t, http.StatusUnprocessableEntity)
			rec.AssertContains(t, tt.code)
		})
	}
}
