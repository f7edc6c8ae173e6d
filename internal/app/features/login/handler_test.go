package login_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/dalemusser/volunteerhub/internal/app/engine/enginetest"
	"github.com/dalemusser/volunteerhub/internal/app/engine/progress"
	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	"github.com/dalemusser/volunteerhub/internal/app/features/login"
	"github.com/dalemusser/volunteerhub/internal/app/store/audit"
	"github.com/dalemusser/volunteerhub/internal/app/system/auth"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"github.com/dalemusser/volunteerhub/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type recordedLogin struct {
	userID   primitive.ObjectID
	provider string
	streak   int
}

type fakeLogins struct {
	mu   sync.Mutex
	recs []recordedLogin
	err  error
}

func (f *fakeLogins) CreateFrom(_ context.Context, _ *http.Request, userID primitive.ObjectID, provider string, streak int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, recordedLogin{userID, provider, streak})
	return f.err
}

func newTestHandler(t *testing.T) (*login.Handler, *enginetest.Memory, *fakeLogins) {
	t.Helper()
	logger := zap.NewNop()
	sessionMgr, err := auth.NewSessionManager("test-session-key-for-testing-only-0123", "test-session", "", 0, false, logger)
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}
	mem := enginetest.NewMemory()
	ledger := xpledger.New(mem.Ledger(), mem.Users(), logger, nil)
	streaks := progress.New(mem.Users(), mem.Tiers(), ledger, progress.Bonus{}, logger)
	logins := &fakeLogins{}
	return login.NewHandler(mem.Users(), sessionMgr, streaks, logins, nil, logger), mem, logins
}

func post(h *login.Handler, body any) *testutil.ResponseRecorder {
	rec := testutil.NewRecorder()
	h.HandleLoginPost(rec, testutil.NewJSONRequest(http.MethodPost, "/login", body))
	return rec
}

func TestHandleLoginPost_Success(t *testing.T) {
	h, mem, logins := newTestHandler(t)
	u := mem.AddUser(models.User{FullName: "Nia", Email: "nia@example.com", Status: "active"})

	rec := post(h, map[string]string{"email": "Nia@Example.com"})
	rec.AssertStatus(t, http.StatusOK)
	if rec.Header().Get("Set-Cookie") == "" {
		t.Error("expected a session cookie")
	}

	var resp struct {
		User    models.UserSummary    `json:"user"`
		Session progress.SessionStart `json:"session"`
	}
	rec.DecodeJSON(t, &resp)
	if resp.User.ID != u.ID || resp.Session.Streak != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if got := mem.User(u.ID); got.Streak != 1 || got.LastLoginAt == nil {
		t.Errorf("stored streak = %d last = %v", got.Streak, got.LastLoginAt)
	}
	if len(logins.recs) != 1 || logins.recs[0].provider != login.Provider || logins.recs[0].streak != 1 {
		t.Errorf("login records = %+v", logins.recs)
	}
}

func TestHandleLoginPost_SameDayKeepsStreak(t *testing.T) {
	h, mem, _ := newTestHandler(t)
	u := mem.AddUser(models.User{FullName: "Omar", Email: "omar@example.com"})

	post(h, map[string]string{"email": "omar@example.com"}).AssertStatus(t, http.StatusOK)
	rec := post(h, map[string]string{"email": "omar@example.com"})
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"change":"unchanged"`)
	if got := mem.User(u.ID).Streak; got != 1 {
		t.Errorf("streak = %d, want 1", got)
	}
}

func TestHandleLoginPost_LoginRecordFailureIsNotFatal(t *testing.T) {
	h, mem, logins := newTestHandler(t)
	logins.err = errors.New("insert failed")
	mem.AddUser(models.User{FullName: "Pat", Email: "pat@example.com"})

	post(h, map[string]string{"email": "pat@example.com"}).AssertStatus(t, http.StatusOK)
}

func TestHandleLoginPost_Audited(t *testing.T) {
	h, mem, _ := newTestHandler(t)
	auditLog, sink := testutil.AuditLogger()
	h.Audit = auditLog
	u := mem.AddUser(models.User{FullName: "Quinn", Email: "quinn@example.com"})
	off := mem.AddUser(models.User{FullName: "Off", Email: "off@example.com", Status: "disabled"})

	post(h, map[string]string{"email": "quinn@example.com"}).AssertStatus(t, http.StatusOK)
	post(h, map[string]string{"email": "ghost@example.com"}).AssertStatus(t, http.StatusNotFound)
	post(h, map[string]string{"email": "off@example.com"}).AssertStatus(t, http.StatusForbidden)

	ok := sink.OfType(audit.EventLoginSuccess)
	if len(ok) != 1 || *ok[0].UserID != u.ID || ok[0].Details["provider"] != login.Provider {
		t.Errorf("login_success = %+v", ok)
	}
	if n := len(sink.OfType(audit.EventLoginFailedUserNotFound)); n != 1 {
		t.Errorf("user-not-found events = %d, want 1", n)
	}
	disabled := sink.OfType(audit.EventLoginFailedUserDisabled)
	if len(disabled) != 1 || *disabled[0].UserID != off.ID || disabled[0].Success {
		t.Errorf("disabled events = %+v", disabled)
	}
}

func TestHandleLoginPost_Failures(t *testing.T) {
	h, mem, logins := newTestHandler(t)
	mem.AddUser(models.User{FullName: "Off", Email: "off@example.com", Status: "disabled"})

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"unknown", map[string]string{"email": "ghost@example.com"}, http.StatusNotFound, "UserNotFound"},
		{"disabled", map[string]string{"email": "off@example.com"}, http.StatusForbidden, "PermissionDenied"},
		{"not an email", map[string]string{"email": "off"}, http.StatusUnprocessableEntity, "ValidationError"},
		{"empty body", nil, http.StatusUnprocessableEntity, "ValidationError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, tt.body)
			rec.AssertStatus(t, tt.status)
			rec.AssertContains(t, tt.code)
			if rec.Header().Get("Set-Cookie") != "" {
				t.Error("failed login must not set a cookie")
			}
		})
	}
	if len(logins.recs) != 0 {
		t.Errorf("login records = %d, want 0", len(logins.recs))
	}
}
