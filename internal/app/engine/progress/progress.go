// Package progress serves a volunteer's level, tier and login streak, and
// owns the tier catalog.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	"github.com/dalemusser/volunteerhub/internal/app/policy/staffpolicy"
	userstore "github.com/dalemusser/volunteerhub/internal/app/store/users"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/authz"
	"github.com/dalemusser/volunteerhub/internal/app/system/leveling"
	"github.com/dalemusser/volunteerhub/internal/app/system/streak"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// sessionRetries bounds the compare-and-swap loop in StartSession.
const sessionRetries = 3

type Users interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	RecordLogin(ctx context.Context, id primitive.ObjectID, prev *time.Time, streak int, at time.Time) error
}

type Tiers interface {
	List(ctx context.Context) ([]models.LevelTier, error)
	Replace(ctx context.Context, tiers []models.LevelTier) error
}

type Granter interface {
	GrantOnce(ctx context.Context, g xpledger.Grant) (models.XPTransaction, bool, error)
}

// Bonus configures the streak bonus. Every <= 0 disables it.
type Bonus struct {
	Every int
	XP    int64
}

type Service struct {
	users  Users
	tiers  Tiers
	ledger Granter
	bonus  Bonus
	log    *zap.Logger
	now    func() time.Time
}

func New(users Users, tiers Tiers, ledger Granter, bonus Bonus, logger *zap.Logger) *Service {
	return &Service{users: users, tiers: tiers, ledger: ledger, bonus: bonus, log: logger, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// LevelInfo resolves the user's level and tier from the cached XP counter.
func (s *Service) LevelInfo(ctx context.Context, userID primitive.ObjectID) (leveling.Info, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return leveling.Info{}, err
	}
	cat, err := s.Tiers(ctx)
	if err != nil {
		return leveling.Info{}, err
	}
	return leveling.Resolve(u.XP, cat), nil
}

// SessionStart is the result of a session start.
type SessionStart struct {
	streak.Result
	BonusXP int64 `json:"bonus_xp"`
}

// StartSession applies the streak rules for a login now and stores the
// result. Concurrent starts for one user are serialized by comparing the
// stored last-login time.
func (s *Service) StartSession(ctx context.Context, userID primitive.ObjectID) (SessionStart, error) {
	var res streak.Result
	for attempt := 0; ; attempt++ {
		u, err := s.user(ctx, userID)
		if err != nil {
			return SessionStart{}, err
		}
		res = streak.Apply(u.Streak, u.LastLoginAt, s.now())
		err = s.users.RecordLogin(ctx, userID, u.LastLoginAt, res.Streak, res.LastLoginAt)
		if err == nil {
			break
		}
		if !errors.Is(err, userstore.ErrStaleLogin) {
			return SessionStart{}, userErr(err)
		}
		if attempt+1 >= sessionRetries {
			return SessionStart{}, apperr.New(apperr.InvalidState, apperr.CodeInvalidState, "session start raced, try again")
		}
	}

	out := SessionStart{Result: res}
	log := s.log.With(zap.String("user_id", userID.Hex()), zap.Int("streak", res.Streak), zap.String("change", string(res.Change)))
	if s.bonusDue(res) {
		tx, granted, err := s.ledger.GrantOnce(ctx, xpledger.Grant{
			UserID:    userID,
			Delta:     s.bonus.XP,
			Source:    models.XPSourceStreakBonus,
			DedupeKey: xpledger.StreakKey(userID, streak.DayNumber(res.LastLoginAt)),
		})
		switch {
		case err != nil:
			// Keyed by day, so the next login today grants it.
			log.Error("streak bonus failed", zap.Error(err))
		case granted:
			out.BonusXP = tx.Delta
		}
	}
	log.Info("session started", zap.Int64("bonus_xp", out.BonusXP))
	return out, nil
}

// bonusDue also fires on a same-day repeat of a qualifying login, so a
// failed grant is completed later the same day. The day key dedupes it.
func (s *Service) bonusDue(r streak.Result) bool {
	if s.bonus.XP <= 0 || s.bonus.Every <= 0 {
		return false
	}
	if streak.BonusDue(r, s.bonus.Every) {
		return true
	}
	return r.Change == streak.Unchanged && r.Streak > 1 && r.Streak%s.bonus.Every == 0
}

// StreakView is the streak as shown to the user.
type StreakView struct {
	Streak      int        `json:"streak"`
	Stored      int        `json:"stored_streak"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	// Active is false once a full UTC day has passed without a login.
	Active bool `json:"active"`
}

// StreakInfo reads the streak without recording a login.
func (s *Service) StreakInfo(ctx context.Context, userID primitive.ObjectID) (StreakView, error) {
	u, err := s.user(ctx, userID)
	if err != nil {
		return StreakView{}, err
	}
	v := StreakView{Stored: u.Streak, LastLoginAt: u.LastLoginAt}
	if u.LastLoginAt != nil && streak.DayNumber(s.now())-streak.DayNumber(*u.LastLoginAt) <= 1 {
		v.Active = true
		v.Streak = u.Streak
	}
	return v, nil
}

// Tiers returns the stored catalog, or the default one when none is stored.
func (s *Service) Tiers(ctx context.Context) (leveling.Catalog, error) {
	tiers, err := s.tiers.List(ctx)
	if err != nil {
		return nil, apperr.Unavailable("load tier catalog", err)
	}
	if len(tiers) == 0 {
		return leveling.DefaultCatalog(), nil
	}
	return leveling.NewCatalog(tiers), nil
}

// ReplaceTiers swaps the whole catalog after checking it is contiguous.
func (s *Service) ReplaceTiers(ctx context.Context, actor authz.Principal, tiers []models.LevelTier) (leveling.Catalog, error) {
	if !staffpolicy.CanEditTiers(actor) {
		return nil, apperr.Denied("only a super admin can edit tiers")
	}
	cat := leveling.NewCatalog(tiers)
	cat.Normalize()
	if err := cat.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.Validation, apperr.CodeInvalidTierCatalog, err.Error(), err)
	}
	if err := s.tiers.Replace(ctx, cat); err != nil {
		return nil, apperr.Unavailable("replace tier catalog", err)
	}
	s.log.Info("tier catalog replaced", zap.String("actor_id", actor.ID.Hex()), zap.Int("tiers", len(cat)))
	return cat, nil
}

func (s *Service) user(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, userErr(err)
	}
	return u, nil
}

func userErr(err error) error {
	if errors.Is(err, userstore.ErrNotFound) {
		return apperr.New(apperr.NotFound, apperr.CodeUserNotFound, "user not found")
	}
	return apperr.Unavailable("load user", err)
}
