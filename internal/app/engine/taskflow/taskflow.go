// Package taskflow drives the task lifecycle: open, claimed, submitted,
// verified. Every transition is a compare-and-swap on the stored status, and
// verification commits together with the assignees' grants.
package taskflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	"github.com/dalemusser/volunteerhub/internal/app/policy/taskpolicy"
	taskstore "github.com/dalemusser/volunteerhub/internal/app/store/tasks"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/authz"
	"github.com/dalemusser/volunteerhub/internal/app/system/htmlsanitize"
	"github.com/dalemusser/volunteerhub/internal/app/system/telemetry"
	"github.com/dalemusser/volunteerhub/internal/app/system/txn"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type Store interface {
	Create(ctx context.Context, t models.Task) (models.Task, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Task, error)
	ListByStatus(ctx context.Context, status models.TaskStatus, limit int64) ([]models.Task, error)
	Claim(ctx context.Context, id, userID primitive.ObjectID, at time.Time) (*models.Task, error)
	Submit(ctx context.Context, id primitive.ObjectID, sub models.Submission) (*models.Task, error)
	Verify(ctx context.Context, id, approverID primitive.ObjectID, at time.Time) (*models.Task, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type Granter interface {
	GrantOnce(ctx context.Context, g xpledger.Grant) (models.XPTransaction, bool, error)
}

// Atomic commits every write made with the ctx handed to fn, or none.
// It returns txn.ErrNotSupported when the deployment has no transactions.
type Atomic interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	tasks     Store
	ledger    Granter
	atomic    Atomic
	defaultXP int64
	log       *zap.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time
}

func New(tasks Store, ledger Granter, atomic Atomic, defaultXP int64, logger *zap.Logger, metrics *telemetry.Metrics) *Service {
	return &Service{
		tasks:     tasks,
		ledger:    ledger,
		atomic:    atomic,
		defaultXP: defaultXP,
		log:       logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// NewInput describes a task to publish. A zero XPReward takes the default.
type NewInput struct {
	Title       string
	Description string
	Category    string
	Deadline    *time.Time
	XPReward    int64
}

// Create publishes an open task.
func (s *Service) Create(ctx context.Context, actor authz.Principal, in NewInput) (models.Task, error) {
	if !taskpolicy.CanCreate(actor) {
		return models.Task{}, apperr.Denied("creating tasks requires a staff role")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return models.Task{}, apperr.Invalid(apperr.CodeValidation, "title is required")
	}
	if in.XPReward < 0 {
		return models.Task{}, apperr.Invalid(apperr.CodeValidation, "xp reward cannot be negative")
	}
	reward := in.XPReward
	if reward == 0 {
		reward = s.defaultXP
	}
	var deadline *time.Time
	if in.Deadline != nil {
		d := in.Deadline.UTC()
		deadline = &d
	}

	t, err := s.tasks.Create(ctx, models.Task{
		Title:       title,
		Description: htmlsanitize.Sanitize(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Deadline:    deadline,
		XPReward:    reward,
		CreatedBy:   actor.ID,
	})
	if err != nil {
		return models.Task{}, apperr.Unavailable("create task", err)
	}
	s.transitioned(t, actor.ID)
	return t, nil
}

// Get loads a task.
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*models.Task, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if errors.Is(err, taskstore.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, apperr.CodeTaskNotFound, "task not found")
	}
	if err != nil {
		return nil, apperr.Unavailable("load task", err)
	}
	return t, nil
}

// List returns tasks in status, soonest deadline first. An unknown status
// is a validation error.
func (s *Service) List(ctx context.Context, status models.TaskStatus, limit int64) ([]models.Task, error) {
	switch status {
	case models.TaskOpen, models.TaskClaimed, models.TaskSubmitted, models.TaskVerified:
	default:
		return nil, apperr.Invalid(apperr.CodeValidation, "unknown task status "+string(status))
	}
	tasks, err := s.tasks.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, apperr.Unavailable("list tasks", err)
	}
	return tasks, nil
}

// Claim assigns an open task to the actor.
func (s *Service) Claim(ctx context.Context, actor authz.Principal, id primitive.ObjectID) (*models.Task, error) {
	if !taskpolicy.CanClaim(actor) {
		return nil, apperr.Denied("sign in to claim tasks")
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TaskOpen {
		return nil, alreadyClaimed()
	}
	now := s.now().UTC()
	if t.Deadline != nil && now.After(*t.Deadline) {
		return nil, apperr.New(apperr.InvalidState, apperr.CodeDeadlinePassed, "task deadline has passed")
	}

	next, err := s.tasks.Claim(ctx, id, actor.ID, now)
	if errors.Is(err, taskstore.ErrStaleState) {
		return nil, alreadyClaimed()
	}
	if err != nil {
		return nil, s.storeErr("claim task", err)
	}
	s.transitioned(*next, actor.ID)
	return next, nil
}

// SubmitInput is what an assignee hands in.
type SubmitInput struct {
	Notes string
	Link  string
}

// Submit hands in work on a claimed task. Notes are sanitized and must
// keep some visible text.
func (s *Service) Submit(ctx context.Context, actor authz.Principal, id primitive.ObjectID, in SubmitInput) (*models.Task, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TaskClaimed {
		return nil, invalidState(t.Status)
	}
	if !taskpolicy.CanSubmit(actor, *t) {
		return nil, notAssigned()
	}
	notes := htmlsanitize.Sanitize(in.Notes)
	if htmlsanitize.IsEmpty(notes) {
		return nil, apperr.Invalid(apperr.CodeValidation, "submission notes are required")
	}

	next, err := s.tasks.Submit(ctx, id, models.Submission{
		UserID:      actor.ID,
		Notes:       notes,
		Link:        strings.TrimSpace(in.Link),
		SubmittedAt: s.now().UTC(),
	})
	if errors.Is(err, taskstore.ErrStaleState) {
		return nil, s.lostRace(ctx, id)
	}
	if err != nil {
		return nil, s.storeErr("submit task", err)
	}
	s.transitioned(*next, actor.ID)
	return next, nil
}

// VerifyResult reports the grants made by Verify.
type VerifyResult struct {
	Task      models.Task            `json:"task"`
	Grants    []models.XPTransaction `json:"grants"`
	XPAwarded int64                  `json:"xp_awarded"`
}

// Verify approves a submitted task and grants its reward once per assignee.
// The status change and the grants commit together: a failed grant leaves
// the task submitted so the call can be retried. A task that is already
// verified is rejected, never re-rewarded.
//
// On a standalone server the status commits first; a grant that fails after
// it is left to BackfillGrants.
func (s *Service) Verify(ctx context.Context, actor authz.Principal, id primitive.ObjectID) (VerifyResult, error) {
	if !taskpolicy.CanVerify(actor) {
		return VerifyResult{}, apperr.Denied("verifying tasks requires a staff role")
	}
	var res VerifyResult
	err := s.atomic.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.verify(ctx, actor, id, true)
		return err
	})
	if errors.Is(err, txn.ErrNotSupported) {
		res, err = s.verify(ctx, actor, id, false)
		if !res.Task.ID.IsZero() {
			s.transitioned(res.Task, actor.ID)
		}
		return res, err
	}
	if err != nil {
		return VerifyResult{}, err
	}
	s.transitioned(res.Task, actor.ID)
	return res, nil
}

func (s *Service) verify(ctx context.Context, actor authz.Principal, id primitive.ObjectID, atomic bool) (VerifyResult, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return VerifyResult{}, err
	}
	switch t.Status {
	case models.TaskVerified:
		return VerifyResult{}, alreadyVerified()
	case models.TaskSubmitted:
	default:
		return VerifyResult{}, invalidState(t.Status)
	}

	next, err := s.tasks.Verify(ctx, id, actor.ID, s.now().UTC())
	if errors.Is(err, taskstore.ErrStaleState) {
		return VerifyResult{}, s.lostRace(ctx, id)
	}
	if err != nil {
		return VerifyResult{}, s.storeErr("verify task", err)
	}

	res := VerifyResult{Task: *next, Grants: []models.XPTransaction{}}
	var firstErr error
	for _, uid := range next.Assignees {
		tx, granted, err := s.grant(ctx, *next, uid, &actor.ID)
		if err != nil {
			s.log.Error("task grant failed",
				zap.String("task_id", next.ID.Hex()),
				zap.String("user_id", uid.Hex()),
				zap.Bool("rolled_back", atomic),
				zap.Error(err))
			if atomic {
				return VerifyResult{}, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if granted {
			res.Grants = append(res.Grants, tx)
			res.XPAwarded += tx.Delta
		}
	}
	return res, firstErr
}

// Delete removes a task that is not verified. XP already granted stays.
func (s *Service) Delete(ctx context.Context, actor authz.Principal, id primitive.ObjectID) error {
	if !taskpolicy.CanDelete(actor) {
		return apperr.Denied("deleting tasks requires a staff role")
	}
	err := s.tasks.Delete(ctx, id)
	switch {
	case errors.Is(err, taskstore.ErrNotFound):
		return apperr.New(apperr.NotFound, apperr.CodeTaskNotFound, "task not found")
	case errors.Is(err, taskstore.ErrStaleState):
		return apperr.New(apperr.InvalidState, apperr.CodeInvalidState, "verified tasks cannot be deleted")
	case err != nil:
		return apperr.Unavailable("delete task", err)
	}
	s.log.Info("task deleted", zap.String("task_id", id.Hex()), zap.String("actor_id", actor.ID.Hex()))
	return nil
}

// BackfillGrants makes sure every assignee of every verified task holds
// its grant. Grants only go missing when Verify ran without a transaction.
// Returns how many grants were missing.
func (s *Service) BackfillGrants(ctx context.Context) (int, error) {
	verified, err := s.tasks.ListByStatus(ctx, models.TaskVerified, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range verified {
		for _, uid := range t.Assignees {
			_, granted, err := s.grant(ctx, t, uid, t.VerifiedBy)
			if err != nil {
				return n, err
			}
			if granted {
				n++
				s.log.Warn("task grant backfilled", zap.String("task_id", t.ID.Hex()), zap.String("user_id", uid.Hex()))
			}
		}
	}
	return n, nil
}

func (s *Service) grant(ctx context.Context, t models.Task, userID primitive.ObjectID, actor *primitive.ObjectID) (models.XPTransaction, bool, error) {
	if t.XPReward <= 0 {
		return models.XPTransaction{}, false, nil
	}
	return s.ledger.GrantOnce(ctx, xpledger.Grant{
		UserID:    userID,
		Delta:     t.XPReward,
		Source:    models.XPSourceTaskVerified,
		Reference: &models.XPReference{Kind: "task", ID: t.ID},
		DedupeKey: xpledger.TaskKey(t.ID, userID),
		ActorID:   actor,
	})
}

// lostRace explains a failed compare-and-swap from the state that won.
func (s *Service) lostRace(ctx context.Context, id primitive.ObjectID) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status == models.TaskVerified {
		return alreadyVerified()
	}
	return invalidState(t.Status)
}

func (s *Service) storeErr(op string, err error) error {
	if errors.Is(err, taskstore.ErrNotFound) {
		return apperr.New(apperr.NotFound, apperr.CodeTaskNotFound, "task not found")
	}
	return apperr.Unavailable(op, err)
}

func (s *Service) transitioned(t models.Task, actorID primitive.ObjectID) {
	s.metrics.TaskTransition(string(t.Status))
	s.log.Info("task transition",
		zap.String("task_id", t.ID.Hex()),
		zap.String("status", string(t.Status)),
		zap.String("actor_id", actorID.Hex()))
}

func alreadyClaimed() error {
	return apperr.New(apperr.InvalidState, apperr.CodeAlreadyClaimed, "task is already claimed")
}

func alreadyVerified() error {
	return apperr.New(apperr.InvalidState, apperr.CodeAlreadyVerified, "task is already verified")
}

func notAssigned() error {
	return apperr.New(apperr.PermissionDenied, apperr.CodeNotAssigned, "task is not assigned to you")
}

func invalidState(st models.TaskStatus) error {
	return apperr.New(apperr.InvalidState, apperr.CodeInvalidState, "task is "+string(st))
}
