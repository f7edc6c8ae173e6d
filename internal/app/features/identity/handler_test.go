package identity_test

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/engine/attendance"
	"github.com/dalemusser/volunteerhub/internal/app/engine/enginetest"
	engine "github.com/dalemusser/volunteerhub/internal/app/engine/identity"
	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	"github.com/dalemusser/volunteerhub/internal/app/features/identity"
	"github.com/dalemusser/volunteerhub/internal/app/store/audit"
	"github.com/dalemusser/volunteerhub/internal/app/system/qrtoken"
	"github.com/dalemusser/volunteerhub/internal/app/system/ratelimit"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"github.com/dalemusser/volunteerhub/internal/testutil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type fixture struct {
	router  http.Handler
	mem     *enginetest.Memory
	audit   *testutil.AuditSink
	codec   *qrtoken.Codec
	event   models.Event
	vol     testutil.TestUser
	volUser models.User
	staff   testutil.TestUser
}

func setup(t *testing.T, limiter ratelimit.Policy) *fixture {
	t.Helper()
	mem := enginetest.NewMemory()
	codec, err := qrtoken.New(bytes.Repeat([]byte("k"), 32), "volunteerhub", time.Minute)
	if err != nil {
		t.Fatalf("qrtoken.New: %v", err)
	}
	ledger := xpledger.New(mem.Ledger(), mem.Users(), zap.NewNop(), nil)
	svc := engine.New(engine.Deps{
		Sessions: mem.Sessions(),
		Users:    mem.Users(),
		Events:   mem.Events(),
		Recorder: attendance.NewRecorder(mem.Attendance(), ledger, 50, zap.NewNop()),
		Codec:    codec,
		Limiter:  limiter,
		Logger:   zap.NewNop(),
	})
	auditLog, sink := testutil.AuditLogger()
	r := chi.NewRouter()
	identity.MountRoutes(r, identity.NewHandler(svc, auditLog, zap.NewNop()))

	vol := mem.AddUser(models.User{FullName: "Vik", Status: "active"})
	sec := mem.AddUser(models.User{FullName: "Sec", Role: models.RoleSecretary})
	return &fixture{
		router:  r,
		mem:     mem,
		audit:   sink,
		codec:   codec,
		event:   mem.AddEvent(models.Event{Title: "Blood drive", XPReward: 40}),
		vol:     testutil.AsTestUser(vol),
		volUser: vol,
		staff:   testutil.AsTestUser(sec),
	}
}

func (f *fixture) do(t *testing.T, method, target string, body any, as testutil.TestUser) *testutil.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(method, target, body)
	req.RemoteAddr = "10.0.0.7:5000"
	rec := testutil.NewRecorder()
	f.router.ServeHTTP(rec, testutil.WithUser(req, as))
	return rec
}

func (f *fixture) scan(t *testing.T, payload string) *testutil.ResponseRecorder {
	return f.do(t, http.MethodPost, "/identity/scan",
		map[string]string{"event_id": f.event.ID.Hex(), "payload": payload}, f.staff)
}

func TestQRScanApprove(t *testing.T) {
	f := setup(t, ratelimit.Disabled{})

	rec := f.do(t, http.MethodGet, "/identity/qr", nil, f.vol)
	rec.AssertStatus(t, http.StatusOK)
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
	var qr engine.QR
	rec.DecodeJSON(t, &qr)

	rec = f.scan(t, qr.Payload)
	rec.AssertStatus(t, http.StatusOK)
	var scanned engine.ScanResult
	rec.DecodeJSON(t, &scanned)
	if scanned.Session.State != models.ScanVerified || scanned.User == nil {
		t.Fatalf("scan = %+v", scanned)
	}

	target := "/identity/sessions/" + scanned.Session.ID.Hex() + "/approve"
	for i := 0; i < 2; i++ {
		rec = f.do(t, http.MethodPost, target, nil, f.staff)
		rec.AssertStatus(t, http.StatusOK)
	}
	if n := f.mem.AttendanceCount(f.event.ID, f.volUser.ID); n != 1 {
		t.Errorf("attendance records = %d, want 1", n)
	}
	if xp := f.mem.User(f.volUser.ID).XP; xp != 40 {
		t.Errorf("XP = %d, want 40", xp)
	}
	approved := f.audit.OfType(audit.EventScanApproved)
	if len(approved) != 1 {
		t.Fatalf("scan_approved events = %d, want 1", len(approved))
	}
	if approved[0].UserID == nil || *approved[0].UserID != f.volUser.ID || approved[0].Details["xp_awarded"] != "40" {
		t.Errorf("scan_approved = %+v", approved[0])
	}
}

func TestScan_Noise(t *testing.T) {
	f := setup(t, ratelimit.Disabled{})
	rec := f.scan(t, "https://example.com/menu")
	rec.AssertStatus(t, http.StatusNoContent)
}

func TestScan_RequiresStaff(t *testing.T) {
	f := setup(t, ratelimit.Disabled{})
	qr, _, _ := f.codec.Issue(f.volUser.ID.Hex())
	rec := f.do(t, http.MethodPost, "/identity/scan",
		map[string]string{"event_id": f.event.ID.Hex(), "payload": qr}, f.vol)
	rec.AssertStatus(t, http.StatusForbidden)
}

func TestScan_Validation(t *testing.T) {
	f := setup(t, ratelimit.Disabled{})
	rec := f.do(t, http.MethodPost, "/identity/scan", map[string]string{"event_id": "x"}, f.staff)
	rec.AssertStatus(t, http.StatusUnprocessableEntity)
	rec.AssertContains(t, "event_id")
	rec.AssertContains(t, "payload")
}

func TestScan_RateLimited(t *testing.T) {
	lim := ratelimit.New(1, time.Minute)
	defer lim.Close()
	f := setup(t, lim)
	qr, _, _ := f.codec.Issue(f.volUser.ID.Hex())

	f.scan(t, qr).AssertStatus(t, http.StatusOK)
	rec := f.scan(t, qr)
	rec.AssertStatus(t, http.StatusTooManyRequests)
	rec.AssertContains(t, "ScanRateLimited")
}

func TestReject(t *testing.T) {
	f := setup(t, ratelimit.Disabled{})
	qr, _, _ := f.codec.Issue(f.volUser.ID.Hex())
	var scanned engine.ScanResult
	f.scan(t, qr).DecodeJSON(t, &scanned)
	base := "/identity/sessions/" + scanned.Session.ID.Hex()

	rec := f.do(t, http.MethodPost, base+"/reject", map[string]string{"reason": "photo mismatch"}, f.staff)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, "photo mismatch")

	rec = f.do(t, http.MethodPost, base+"/approve", nil, f.staff)
	rec.AssertStatus(t, http.StatusConflict)
	if n := f.mem.AttendanceCount(f.event.ID, f.volUser.ID); n != 0 {
		t.Errorf("attendance records = %d, want 0", n)
	}
}

func TestReject_EmptyBody(t *testing.T) {
	f := setup(t, ratelimit.Disabled{})
	qr, _, _ := f.codec.Issue(f.volUser.ID.Hex())
	var scanned engine.ScanResult
	f.scan(t, qr).DecodeJSON(t, &scanned)

	rec := f.do(t, http.MethodPost, "/identity/sessions/"+scanned.Session.ID.Hex()+"/reject", nil, f.staff)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"state":"rejected"`)
}

func TestApprove_UnknownSession(t *testing.T) {
	f := setup(t, ratelimit.Disabled{})
	rec := f.do(t, http.MethodPost, "/identity/sessions/"+f.event.ID.Hex()+"/approve", nil, f.staff)
	rec.AssertStatus(t, http.StatusNotFound)
	rec.AssertContains(t, "ScanSessionNotFound")
}

func TestApproveAttendance(t *testing.T) {
	f := setup(t, ratelimit.Disabled{})
	target := "/events/" + f.event.ID.Hex() + "/attendance"
	body := map[string]string{"user_id": f.volUser.ID.Hex()}

	f.do(t, http.MethodPost, target, body, f.vol).AssertStatus(t, http.StatusForbidden)

	rec := f.do(t, http.MethodPost, target, body, f.staff)
	rec.AssertStatus(t, http.StatusOK)
	var res engine.Approval
	rec.DecodeJSON(t, &res)
	if res.Attendance.Method != models.AttendanceQR || res.AlreadyRecorded {
		t.Errorf("approval = %+v", res)
	}

	f.do(t, http.MethodPost, target, body, f.staff).AssertContains(t, `"already_recorded":true`)
}
