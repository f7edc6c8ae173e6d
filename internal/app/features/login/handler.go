// internal/app/features/login/handler.go
package login

import (
	"context"
	"errors"
	"net/http"

	"github.com/dalemusser/volunteerhub/internal/app/engine/progress"
	userstore "github.com/dalemusser/volunteerhub/internal/app/store/users"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/auditlog"
	"github.com/dalemusser/volunteerhub/internal/app/system/jsonio"
	"github.com/dalemusser/volunteerhub/internal/app/system/timeouts"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Provider is stamped on login records made by this handler.
const Provider = "trust"

type Users interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type SessionManager interface {
	GetSession(r *http.Request) (*sessions.Session, error)
	SignIn(w http.ResponseWriter, r *http.Request, userID string) error
}

type Streaks interface {
	StartSession(ctx context.Context, userID primitive.ObjectID) (progress.SessionStart, error)
}

type LoginRecorder interface {
	CreateFrom(ctx context.Context, r *http.Request, userID primitive.ObjectID, provider string, streak int) error
}

// Handler signs a user in by email alone. It is mounted only when
// trust_login is enabled, which config validation refuses in production.
type Handler struct {
	Users      Users
	SessionMgr SessionManager
	Streaks    Streaks
	Logins     LoginRecorder // optional
	Audit      *auditlog.Logger
	Log        *zap.Logger
}

func NewHandler(users Users, sm SessionManager, streaks Streaks, logins LoginRecorder, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{Users: users, SessionMgr: sm, Streaks: streaks, Logins: logins, Audit: audit, Log: logger}
}

type loginRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type loginResponse struct {
	User    models.UserSummary    `json:"user"`
	Session progress.SessionStart `json:"session"`
}

// HandleLoginPost handles POST /login. A successful sign-in is a session
// start, so the streak is applied before responding.
func (h *Handler) HandleLoginPost(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := jsonio.Decode(r, &req); err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		h.Audit.LoginFailedUserNotFound(ctx, r, req.Email)
		jsonio.Error(w, h.Log, apperr.New(apperr.NotFound, apperr.CodeUserNotFound, "no account found for that email"))
		return
	case err != nil:
		jsonio.Error(w, h.Log, apperr.Unavailable("find user", err))
		return
	}
	if u.Status == "disabled" {
		h.Log.Info("login refused: user disabled", zap.String("user_id", u.ID.Hex()))
		h.Audit.LoginFailedUserDisabled(ctx, r, u.ID)
		jsonio.Error(w, h.Log, apperr.Denied("account is disabled"))
		return
	}

	if _, err := h.SessionMgr.GetSession(r); err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			h.Log.Warn("session cookie invalid, using fresh session",
				zap.Error(err), zap.String("user_id", u.ID.Hex()))
		} else {
			h.Log.Error("session store error during login, using fresh session",
				zap.Error(err), zap.String("user_id", u.ID.Hex()))
		}
	}
	if err := h.SessionMgr.SignIn(w, r, u.ID.Hex()); err != nil {
		h.Log.Error("save session failed", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		jsonio.Error(w, h.Log, apperr.Unavailable("save session", err))
		return
	}

	start, err := h.Streaks.StartSession(ctx, u.ID)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	if h.Logins != nil {
		if err := h.Logins.CreateFrom(ctx, r, u.ID, Provider, start.Streak); err != nil {
			h.Log.Warn("failed to record login", zap.Error(err), zap.String("user_id", u.ID.Hex()))
		}
	}

	h.Audit.LoginSuccess(ctx, r, u.ID, Provider, start.Streak)
	h.Log.Info("login success", zap.String("user_id", u.ID.Hex()), zap.Int("streak", start.Streak))
	jsonio.OK(w, loginResponse{User: u.Summary(), Session: start})
}
