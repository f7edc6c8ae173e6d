// Package xpledger is the append-only XP ledger. It is the only writer of
// a user's cached XP counter.
package xpledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/policy/staffpolicy"
	ledgerstore "github.com/dalemusser/volunteerhub/internal/app/store/ledger"
	userstore "github.com/dalemusser/volunteerhub/internal/app/store/users"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/authz"
	"github.com/dalemusser/volunteerhub/internal/app/system/telemetry"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Store is the persistence the ledger needs. Append must insert the
// transaction and bump the owner's counter as one unit.
type Store interface {
	Append(ctx context.Context, tx models.XPTransaction) (models.XPTransaction, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.XPTransaction, error)
	FindByDedupeKey(ctx context.Context, key string) (*models.XPTransaction, error)
	Sum(ctx context.Context, userID primitive.ObjectID) (int64, error)
	ListByUser(ctx context.Context, userID primitive.ObjectID, limit int64) ([]models.XPTransaction, error)
	Totals(ctx context.Context) (map[primitive.ObjectID]int64, error)
}

// Users is the account store as seen by the ledger.
type Users interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	EachXP(ctx context.Context, fn func(userstore.XPEntry) error) error
	RepairXP(ctx context.Context, id primitive.ObjectID, expected, xp int64) (bool, error)
}

// Grant is a request to append one transaction.
type Grant struct {
	UserID    primitive.ObjectID
	Delta     int64
	Source    models.XPSource
	Reference *models.XPReference
	// DedupeKey makes the grant exactly-once; see the Key helpers.
	DedupeKey string
	ActorID   *primitive.ObjectID
	Note      string
}

// counterSettle is how long Reconcile leaves a counter alone after a newer
// transaction, giving a standalone append time to land its increment.
const counterSettle = time.Minute

type Service struct {
	store   Store
	users   Users
	log     *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

func New(store Store, users Users, logger *zap.Logger, metrics *telemetry.Metrics) *Service {
	return &Service{store: store, users: users, log: logger, metrics: metrics, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Dedupe keys for the grants that must happen once.
func TaskKey(taskID, userID primitive.ObjectID) string {
	return "task:" + taskID.Hex() + ":" + userID.Hex()
}

func EventKey(eventID, userID primitive.ObjectID) string {
	return "event:" + eventID.Hex() + ":" + userID.Hex()
}

func StreakKey(userID primitive.ObjectID, day int64) string {
	return fmt.Sprintf("streak:%s:%d", userID.Hex(), day)
}

// Append validates g and writes it. A zero delta is InvalidDelta, a missing
// user is UnknownUser, and a reused dedupe key is AlreadyExists.
func (s *Service) Append(ctx context.Context, g Grant) (models.XPTransaction, error) {
	if g.Delta == 0 {
		return models.XPTransaction{}, apperr.Invalid(apperr.CodeInvalidDelta, "xp delta must be non-zero")
	}
	if !g.Source.Valid() {
		return models.XPTransaction{}, apperr.Invalid(apperr.CodeValidation, "unknown xp source")
	}

	tx, err := s.store.Append(ctx, models.XPTransaction{
		UserID:    g.UserID,
		Delta:     g.Delta,
		Source:    g.Source,
		Reference: g.Reference,
		DedupeKey: g.DedupeKey,
		ActorID:   g.ActorID,
		Note:      strings.TrimSpace(g.Note),
	})
	switch {
	case errors.Is(err, ledgerstore.ErrUnknownUser):
		return models.XPTransaction{}, apperr.New(apperr.NotFound, apperr.CodeUnknownUser, "user does not exist")
	case errors.Is(err, ledgerstore.ErrDuplicate):
		return models.XPTransaction{}, apperr.Wrap(apperr.AlreadyExists, apperr.CodeAlreadyExists, "grant already recorded", err)
	case err != nil:
		return models.XPTransaction{}, apperr.Unavailable("append xp transaction", err)
	}

	s.metrics.XPAppended(string(tx.Source), tx.Delta)
	s.log.Info("xp appended",
		zap.String("user_id", tx.UserID.Hex()),
		zap.String("tx_id", tx.ID.Hex()),
		zap.Int64("delta", tx.Delta),
		zap.String("source", string(tx.Source)))
	return tx, nil
}

// GrantOnce appends g unless its dedupe key was already used, in which case
// it returns the earlier transaction with granted=false.
//
// The key is looked up before inserting: inside a transaction a duplicate
// insert aborts the whole transaction, not just the grant.
func (s *Service) GrantOnce(ctx context.Context, g Grant) (models.XPTransaction, bool, error) {
	if g.DedupeKey == "" {
		return models.XPTransaction{}, false, apperr.Invalid(apperr.CodeValidation, "grant has no dedupe key")
	}
	prev, err := s.store.FindByDedupeKey(ctx, g.DedupeKey)
	switch {
	case err == nil:
		return *prev, false, nil
	case !errors.Is(err, ledgerstore.ErrNotFound):
		return models.XPTransaction{}, false, apperr.Unavailable("load existing grant", err)
	}
	tx, err := s.Append(ctx, g)
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, apperr.AlreadyExists) {
		return models.XPTransaction{}, false, err
	}
	prev, ferr := s.store.FindByDedupeKey(ctx, g.DedupeKey)
	if ferr != nil {
		return models.XPTransaction{}, false, apperr.Unavailable("load existing grant", ferr)
	}
	return *prev, false, nil
}

// TotalXP serves the cached counter.
func (s *Service) TotalXP(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return 0, userErr(err)
	}
	return u.XP, nil
}

// Balance compares the cached counter with the ledger sum.
type Balance struct {
	UserID    primitive.ObjectID `json:"user_id"`
	Counter   int64              `json:"xp"`
	LedgerSum int64              `json:"ledger_sum"`
	InSync    bool               `json:"in_sync"`
}

// Balance reads both sides of the ledger/counter invariant.
func (s *Service) Balance(ctx context.Context, userID primitive.ObjectID) (Balance, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Balance{}, userErr(err)
	}
	sum, err := s.store.Sum(ctx, userID)
	if err != nil {
		return Balance{}, apperr.Unavailable("sum ledger", err)
	}
	return Balance{UserID: userID, Counter: u.XP, LedgerSum: sum, InSync: u.XP == sum}, nil
}

// History returns a user's transactions, newest first.
func (s *Service) History(ctx context.Context, actor authz.Principal, userID primitive.ObjectID, limit int64) ([]models.XPTransaction, error) {
	if !staffpolicy.CanViewLedger(actor, userID) {
		return nil, apperr.Denied("cannot view another user's ledger")
	}
	txs, err := s.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperr.Unavailable("list ledger", err)
	}
	return txs, nil
}

// Adjust posts a manual adjustment on behalf of staff.
func (s *Service) Adjust(ctx context.Context, actor authz.Principal, userID primitive.ObjectID, delta int64, note string) (models.XPTransaction, error) {
	if !staffpolicy.CanAdjustXP(actor) {
		return models.XPTransaction{}, apperr.Denied("manual adjustments require a staff role")
	}
	actorID := actor.ID
	return s.Append(ctx, Grant{
		UserID:  userID,
		Delta:   delta,
		Source:  models.XPSourceManualAdjustment,
		ActorID: &actorID,
		Note:    note,
	})
}

// Reverse appends the negation of txID. History is never deleted, and a
// transaction can be reversed once.
func (s *Service) Reverse(ctx context.Context, actor authz.Principal, txID primitive.ObjectID, note string) (models.XPTransaction, error) {
	if !staffpolicy.CanAdjustXP(actor) {
		return models.XPTransaction{}, apperr.Denied("reversals require a staff role")
	}
	orig, err := s.store.GetByID(ctx, txID)
	if errors.Is(err, ledgerstore.ErrNotFound) {
		return models.XPTransaction{}, apperr.New(apperr.NotFound, apperr.CodeTransactionNotFound, "transaction not found")
	}
	if err != nil {
		return models.XPTransaction{}, apperr.Unavailable("load transaction", err)
	}
	if orig.ReversalOf != nil {
		return models.XPTransaction{}, apperr.New(apperr.InvalidState, apperr.CodeInvalidState, "a reversal cannot itself be reversed")
	}

	actorID := actor.ID
	origID := orig.ID
	if note == "" {
		note = "reversal of " + orig.ID.Hex()
	}
	tx, err := s.store.Append(ctx, models.XPTransaction{
		UserID:     orig.UserID,
		Delta:      -orig.Delta,
		Source:     models.XPSourceManualAdjustment,
		Reference:  &models.XPReference{Kind: "xp_transaction", ID: orig.ID},
		ReversalOf: &origID,
		ActorID:    &actorID,
		Note:       strings.TrimSpace(note),
	})
	switch {
	case errors.Is(err, ledgerstore.ErrDuplicate):
		return models.XPTransaction{}, apperr.New(apperr.AlreadyExists, apperr.CodeAlreadyReversed, "transaction already reversed")
	case errors.Is(err, ledgerstore.ErrUnknownUser):
		return models.XPTransaction{}, apperr.New(apperr.NotFound, apperr.CodeUnknownUser, "user does not exist")
	case err != nil:
		return models.XPTransaction{}, apperr.Unavailable("append reversal", err)
	}

	s.metrics.XPAppended(string(tx.Source), tx.Delta)
	s.log.Info("xp transaction reversed",
		zap.String("tx_id", orig.ID.Hex()),
		zap.String("reversal_id", tx.ID.Hex()),
		zap.String("actor_id", actor.ID.Hex()))
	return tx, nil
}

// Reconcile rewrites every cached counter that disagrees with the ledger.
// Each repair is a compare-and-swap, so a concurrent append wins. A counter
// whose newest transaction is later than its last write and younger than
// counterSettle is skipped until a later run.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	totals, err := s.store.Totals(ctx)
	if err != nil {
		return 0, err
	}
	repaired := 0
	err = s.users.EachXP(ctx, func(e userstore.XPEntry) error {
		if e.XP == totals[e.ID] {
			return nil
		}
		// Totals is a snapshot; re-sum this user after reading the counter
		// so an append in between makes the CAS below fail instead.
		want, err := s.store.Sum(ctx, e.ID)
		if err != nil {
			return err
		}
		if e.XP == want {
			return nil
		}
		pending, err := s.incrementPending(ctx, e)
		if err != nil {
			return err
		}
		if pending {
			s.log.Debug("xp counter behind a recent append; left for next run",
				zap.String("user_id", e.ID.Hex()))
			return nil
		}
		ok, err := s.users.RepairXP(ctx, e.ID, e.XP, want)
		if err != nil {
			return err
		}
		if ok {
			repaired++
			s.metrics.XPRepaired()
			s.log.Warn("xp counter repaired",
				zap.String("user_id", e.ID.Hex()),
				zap.Int64("cached", e.XP),
				zap.Int64("ledger", want))
		}
		return nil
	})
	return repaired, err
}

// incrementPending reports whether e's newest transaction may still have
// its counter increment in flight.
func (s *Service) incrementPending(ctx context.Context, e userstore.XPEntry) (bool, error) {
	latest, err := s.store.ListByUser(ctx, e.ID, 1)
	if err != nil || len(latest) == 0 {
		return false, err
	}
	at := latest[0].CreatedAt
	return at.After(e.UpdatedAt) && s.now().Sub(at) < counterSettle, nil
}

func userErr(err error) error {
	if errors.Is(err, userstore.ErrNotFound) {
		return apperr.New(apperr.NotFound, apperr.CodeUserNotFound, "user not found")
	}
	return apperr.Unavailable("load user", err)
}
