package ledger_test

import (
	"net/http"
	"testing"

	"github.com/dalemusser/volunteerhub/internal/app/engine/enginetest"
	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	"github.com/dalemusser/volunteerhub/internal/app/features/ledger"
	"github.com/dalemusser/volunteerhub/internal/app/store/audit"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"github.com/dalemusser/volunteerhub/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type fixture struct {
	router http.Handler
	mem    *enginetest.Memory
	audit  *testutil.AuditSink
	vol    models.User
	staff  testutil.TestUser
}

func setup() *fixture {
	mem := enginetest.NewMemory()
	svc := xpledger.New(mem.Ledger(), mem.Users(), zap.NewNop(), nil)
	auditLog, sink := testutil.AuditLogger()
	r := chi.NewRouter()
	ledger.MountRoutes(r, ledger.NewHandler(svc, auditLog, zap.NewNop()))
	return &fixture{
		router: r,
		mem:    mem,
		audit:  sink,
		vol:    mem.AddUser(models.User{FullName: "Ira"}),
		staff:  testutil.AsTestUser(mem.AddUser(models.User{FullName: "Sec", Role: models.RoleSecretary})),
	}
}

func (f *fixture) do(method, target string, body any, as testutil.TestUser) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	f.router.ServeHTTP(rec, testutil.WithUser(testutil.NewJSONRequest(method, target, body), as))
	return rec
}

func TestAdjustReverseHistory(t *testing.T) {
	f := setup()
	me := testutil.AsTestUser(f.vol)

	adjust := map[string]any{"user_id": f.vol.ID.Hex(), "delta": 30, "note": "helped at the desk"}
	f.do(http.MethodPost, "/xp/adjust", adjust, me).AssertStatus(t, http.StatusForbidden)

	rec := f.do(http.MethodPost, "/xp/adjust", adjust, f.staff)
	rec.AssertStatus(t, http.StatusCreated)
	var tx models.XPTransaction
	rec.DecodeJSON(t, &tx)
	if tx.Delta != 30 || tx.Source != models.XPSourceManualAdjustment {
		t.Fatalf("tx = %+v", tx)
	}

	target := "/xp/transactions/" + tx.ID.Hex() + "/reverse"
	f.do(http.MethodPost, target, nil, f.staff).AssertStatus(t, http.StatusCreated)
	rec = f.do(http.MethodPost, target, map[string]string{"note": "again"}, f.staff)
	rec.AssertStatus(t, http.StatusConflict)
	rec.AssertContains(t, "AlreadyReversed")

	rec = f.do(http.MethodGet, "/me/xp", nil, me)
	rec.AssertStatus(t, http.StatusOK)
	var hist struct {
		Balance      xpledger.Balance       `json:"balance"`
		Transactions []models.XPTransaction `json:"transactions"`
	}
	rec.DecodeJSON(t, &hist)
	if len(hist.Transactions) != 2 {
		t.Errorf("transactions = %d, want 2", len(hist.Transactions))
	}
	if hist.Balance.Counter != 0 || hist.Balance.LedgerSum != 0 || !hist.Balance.InSync {
		t.Errorf("balance = %+v", hist.Balance)
	}

	adjusted := f.audit.OfType(audit.EventXPAdjusted)
	if len(adjusted) != 1 || adjusted[0].Details["delta"] != "30" {
		t.Errorf("xp_adjusted events = %+v", adjusted)
	}
	if n := len(f.audit.OfType(audit.EventXPReversed)); n != 1 {
		t.Errorf("xp_reversed events = %d, want 1", n)
	}
}

func TestAdjust_Invalid(t *testing.T) {
	f := setup()
	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"zero delta", map[string]any{"user_id": f.vol.ID.Hex(), "delta": 0, "note": "x"}, http.StatusUnprocessableEntity, "InvalidDelta"},
		{"missing note", map[string]any{"user_id": f.vol.ID.Hex(), "delta": 5}, http.StatusUnprocessableEntity, "note"},
		{"bad user id", map[string]any{"user_id": "me", "delta": 5, "note": "x"}, http.StatusUnprocessableEntity, "user_id"},
		{"unknown user", map[string]any{"user_id": f.mem.AddEvent(models.Event{}).ID.Hex(), "delta": 5, "note": "x"}, http.StatusNotFound, "UnknownUser"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/xp/adjust", tt.body, f.staff)
			rec.AssertStatus(t, tt.status)
			rec.AssertContains(t, tt.code)
		})
	}
}

func TestHistory_Permissions(t *testing.T) {
	f := setup()
	target := "/users/" + f.vol.ID.Hex() + "/xp"

	f.do(http.MethodGet, target, nil, testutil.VolunteerUser()).AssertStatus(t, http.StatusForbidden)
	f.do(http.MethodGet, target, nil, f.staff).AssertStatus(t, http.StatusOK)
	f.do(http.MethodGet, target, nil, testutil.AsTestUser(f.vol)).AssertStatus(t, http.StatusOK)
	f.do(http.MethodGet, target+"?limit=abc", nil, f.staff).AssertStatus(t, http.StatusUnprocessableEntity)

	rec := testutil.NewRecorder()
	f.router.ServeHTTP(rec, testutil.NewRequest(http.MethodGet, target))
	rec.AssertStatus(t, http.StatusUnauthorized)
}
