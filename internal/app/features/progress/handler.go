// internal/app/features/progress/handler.go
package progress

import (
	"context"
	"net/http"
	"strconv"

	engine "github.com/dalemusser/volunteerhub/internal/app/engine/progress"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/auditlog"
	"github.com/dalemusser/volunteerhub/internal/app/system/jsonio"
	"github.com/dalemusser/volunteerhub/internal/app/system/timeouts"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	defaultLogins = 30
	maxLogins     = 100
)

// LoginHistory reads the session starts recorded at sign-in.
type LoginHistory interface {
	Recent(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.LoginRecord, error)
}

// Handler serves levels, streaks and the tier catalog.
type Handler struct {
	Svc    *engine.Service
	Logins LoginHistory
	Audit  *auditlog.Logger
	Log    *zap.Logger
}

func NewHandler(svc *engine.Service, logins LoginHistory, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{Svc: svc, Logins: logins, Audit: audit, Log: logger}
}

// ServeMyLevel handles GET /me/level.
func (h *Handler) ServeMyLevel(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	h.level(w, r, p.ID)
}

// ServeUserLevel handles GET /users/{userID}/level. Levels are visible to
// every signed-in user.
func (h *Handler) ServeUserLevel(w http.ResponseWriter, r *http.Request) {
	if _, ok := jsonio.Principal(w, r); !ok {
		return
	}
	id, err := jsonio.ObjectIDParam(r, "userID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	h.level(w, r, id)
}

func (h *Handler) level(w http.ResponseWriter, r *http.Request, id primitive.ObjectID) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	info, err := h.Svc.LevelInfo(ctx, id)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, info)
}

// ServeStreak handles GET /me/streak.
func (h *Handler) ServeStreak(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	v, err := h.Svc.StreakInfo(ctx, p.ID)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, v)
}

// ServeLoginHistory handles GET /me/logins: the caller's recent session
// starts with the streak each one produced, newest first.
func (h *Handler) ServeLoginHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	limit := int64(defaultLogins)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			jsonio.Error(w, h.Log, apperr.Invalid(apperr.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxLogins)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	recs, err := h.Logins.Recent(ctx, p.ID, limit)
	if err != nil {
		jsonio.Error(w, h.Log, apperr.Unavailable("list logins", err))
		return
	}
	jsonio.OK(w, map[string]any{"logins": recs})
}

// ServeStartSession handles POST /me/streak, called by clients when the
// app is opened with a live cookie. Sign-in calls the same operation.
func (h *Handler) ServeStartSession(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	res, err := h.Svc.StartSession(ctx, p.ID)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, res)
}

// ServeTiers handles GET /tiers.
func (h *Handler) ServeTiers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	cat, err := h.Svc.Tiers(ctx)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, map[string]any{"tiers": cat})
}

type tierRequest struct {
	Level      int      `json:"level" validate:"gte=1"`
	Title      string   `json:"title" validate:"required,max=100"`
	MinXP      int64    `json:"min_xp" validate:"gte=0"`
	MaxXP      int64    `json:"max_xp" validate:"gte=-1"`
	Rewards    []string `json:"rewards"`
	Privileges []string `json:"privileges"`
	Badge      struct {
		Key   string `json:"key"`
		Name  string `json:"name"`
		Icon  string `json:"icon"`
		Color string `json:"color" validate:"omitempty,hexcolor"`
	} `json:"badge"`
}

type replaceTiersRequest struct {
	Tiers []tierRequest `json:"tiers" validate:"required,min=1,dive"`
}

// ServeReplaceTiers handles PUT /tiers. The catalog is replaced whole.
func (h *Handler) ServeReplaceTiers(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	var req replaceTiersRequest
	if err := jsonio.Decode(r, &req); err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	tiers := make([]models.LevelTier, 0, len(req.Tiers))
	for _, t := range req.Tiers {
		tiers = append(tiers, models.LevelTier{
			Level:      t.Level,
			Title:      t.Title,
			MinXP:      t.MinXP,
			MaxXP:      t.MaxXP,
			Rewards:    t.Rewards,
			Privileges: t.Privileges,
			Badge:      models.Badge{Key: t.Badge.Key, Name: t.Badge.Name, Icon: t.Badge.Icon, Color: t.Badge.Color},
		})
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "replace tier catalog")
	defer cancel()

	cat, err := h.Svc.ReplaceTiers(ctx, p, tiers)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	h.Audit.TiersReplaced(r.Context(), r, p.ID, len(cat))
	jsonio.OK(w, map[string]any{"tiers": cat})
}
