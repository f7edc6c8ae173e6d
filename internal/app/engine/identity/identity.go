// Package identity runs the staff-side QR verification protocol:
// scan, look up, then an explicit approve that records attendance.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/engine/attendance"
	"github.com/dalemusser/volunteerhub/internal/app/policy/staffpolicy"
	eventstore "github.com/dalemusser/volunteerhub/internal/app/store/events"
	scansessionstore "github.com/dalemusser/volunteerhub/internal/app/store/scansessions"
	userstore "github.com/dalemusser/volunteerhub/internal/app/store/users"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/authz"
	"github.com/dalemusser/volunteerhub/internal/app/system/qrtoken"
	"github.com/dalemusser/volunteerhub/internal/app/system/ratelimit"
	"github.com/dalemusser/volunteerhub/internal/app/system/telemetry"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Reject reasons stored on sessions.
const (
	ReasonUserNotFound = "UserNotFound"
	ReasonExpired      = "expired"
	ReasonStaff        = "rejected by staff"
)

type Sessions interface {
	Create(ctx context.Context, ss models.ScanSession) (models.ScanSession, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.ScanSession, error)
	Transition(ctx context.Context, id primitive.ObjectID, from models.ScanState, t scansessionstore.Transition) (*models.ScanSession, error)
	SetAttendance(ctx context.Context, id, attendanceID primitive.ObjectID) (*models.ScanSession, error)
}

type Users interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

type Events interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Event, error)
}

type Recorder interface {
	Record(ctx context.Context, event models.Event, e attendance.Entry) (attendance.Outcome, error)
}

// Codec signs and parses QR identity payloads.
type Codec interface {
	Issue(userID primitive.ObjectID) (string, time.Time, error)
	Parse(payload string) (qrtoken.Identity, error)
}

// Deps wires a Service. Limiter and Now are optional.
type Deps struct {
	Sessions   Sessions
	Users      Users
	Events     Events
	Recorder   Recorder
	Codec      Codec
	Limiter    ratelimit.Policy
	SessionTTL time.Duration
	Logger     *zap.Logger
	Metrics    *telemetry.Metrics
	Now        func() time.Time
}

type Service struct {
	sessions Sessions
	users    Users
	events   Events
	recorder Recorder
	codec    Codec
	limiter  ratelimit.Policy
	ttl      time.Duration
	log      *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func New(d Deps) *Service {
	s := &Service{
		sessions: d.Sessions,
		users:    d.Users,
		events:   d.Events,
		recorder: d.Recorder,
		codec:    d.Codec,
		limiter:  d.Limiter,
		ttl:      d.SessionTTL,
		log:      d.Logger,
		metrics:  d.Metrics,
		now:      d.Now,
	}
	if s.limiter == nil {
		s.limiter = ratelimit.Disabled{}
	}
	if s.ttl <= 0 {
		s.ttl = 10 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// QR is a payload for the volunteer's identity code.
type QR struct {
	Payload   string    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueQR signs a fresh short-lived payload for userID.
func (s *Service) IssueQR(ctx context.Context, userID primitive.ObjectID) (QR, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return QR{}, userErr(err)
	}
	if disabled(u) {
		return QR{}, apperr.New(apperr.InvalidState, apperr.CodeInvalidState, "account is disabled")
	}
	payload, exp, err := s.codec.Issue(u.ID)
	if err != nil {
		return QR{}, apperr.Unavailable("sign qr payload", err)
	}
	return QR{Payload: payload, ExpiresAt: exp}, nil
}

// ScanResult is what the scanning staff member sees. User is nil when the
// candidate was rejected.
type ScanResult struct {
	Session models.ScanSession  `json:"session"`
	User    *models.UserSummary `json:"user,omitempty"`
}

// Scan decodes payload and looks the candidate up. Payloads that do not
// parse are camera noise: Scan returns nil, nil and creates nothing. An
// unknown or disabled candidate is a rejected session, not an error.
func (s *Service) Scan(ctx context.Context, staff authz.Principal, deviceKey string, eventID primitive.ObjectID, payload string) (*ScanResult, error) {
	if !staffpolicy.CanScan(staff) {
		return nil, apperr.Denied("scanning requires a staff role")
	}
	if _, err := s.loadEvent(ctx, eventID); err != nil {
		return nil, err
	}

	ident, err := s.codec.Parse(payload)
	if err != nil {
		s.metrics.Scan(telemetry.ScanIgnored)
		s.log.Debug("qr payload ignored", zap.String("staff_id", staff.ID.Hex()), zap.Error(err))
		return nil, nil
	}

	ok, err := s.limiter.Allow(ctx, deviceKey)
	if err != nil {
		return nil, apperr.Unavailable("scan rate limiter", err)
	}
	if !ok {
		s.metrics.Scan(telemetry.ScanRateLimited)
		s.log.Warn("scan rate limited", zap.String("staff_id", staff.ID.Hex()), zap.String("device", deviceKey))
		return nil, apperr.New(apperr.PermissionDenied, apperr.CodeScanRateLimited, "too many scans, slow down")
	}

	now := s.now().UTC()
	ss, err := s.sessions.Create(ctx, models.ScanSession{
		StaffID:     staff.ID,
		EventID:     eventID,
		CandidateID: ident.UserID,
		TokenID:     ident.TokenID,
		State:       models.ScanScanned,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	})
	if err != nil {
		return nil, apperr.Unavailable("create scan session", err)
	}
	log := s.log.With(
		zap.String("session_id", ss.ID.Hex()),
		zap.String("staff_id", staff.ID.Hex()),
		zap.String("event_id", eventID.Hex()),
		zap.String("candidate_id", ident.UserID.Hex()))

	u, err := s.users.GetByID(ctx, ident.UserID)
	if err != nil && !errors.Is(err, userstore.ErrNotFound) {
		return nil, apperr.Unavailable("look up scanned user", err)
	}
	if err != nil || disabled(u) {
		next, terr := s.sessions.Transition(ctx, ss.ID, models.ScanScanned, scansessionstore.Transition{
			To:           models.ScanRejected,
			RejectReason: ReasonUserNotFound,
			At:           s.now().UTC(),
		})
		if terr != nil {
			return nil, apperr.Unavailable("reject scan session", terr)
		}
		s.metrics.Scan(telemetry.ScanRejected)
		log.Info("scan rejected", zap.String("reason", ReasonUserNotFound))
		return &ScanResult{Session: *next}, nil
	}

	next, err := s.sessions.Transition(ctx, ss.ID, models.ScanScanned, scansessionstore.Transition{
		To: models.ScanVerified,
		At: s.now().UTC(),
	})
	if err != nil {
		return nil, apperr.Unavailable("verify scan session", err)
	}
	s.metrics.Scan(telemetry.ScanVerified)
	log.Info("scan verified")
	sum := u.Summary()
	return &ScanResult{Session: *next, User: &sum}, nil
}

// Approval is the result of approving a session or an attendance directly.
type Approval struct {
	Session         *models.ScanSession     `json:"session,omitempty"`
	Attendance      models.AttendanceRecord `json:"attendance"`
	AlreadyRecorded bool                    `json:"already_recorded"`
	XPAwarded       int64                   `json:"xp_awarded"`
}

// Approve confirms a verified session. The session is moved to approved
// before anything is credited, so a session that a concurrent reject or
// expiry ended never records attendance. Approving an approved session
// finishes and returns its attendance; the pair is recorded once either way.
func (s *Service) Approve(ctx context.Context, staff authz.Principal, sessionID primitive.ObjectID) (Approval, error) {
	if !staffpolicy.CanApproveAttendance(staff) {
		return Approval{}, apperr.Denied("approval requires a staff role")
	}
	ss, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return Approval{}, err
	}

	switch ss.State {
	case models.ScanApproved:
		return s.record(ctx, staff, ss)
	case models.ScanVerified:
	default:
		return Approval{}, apperr.New(apperr.InvalidState, apperr.CodeInvalidState, "session is "+string(ss.State))
	}

	now := s.now().UTC()
	if now.After(ss.ExpiresAt) {
		if _, err := s.sessions.Transition(ctx, ss.ID, models.ScanVerified, scansessionstore.Transition{
			To: models.ScanRejected, RejectReason: ReasonExpired, At: now,
		}); err != nil && !errors.Is(err, scansessionstore.ErrStaleState) {
			return Approval{}, apperr.Unavailable("expire scan session", err)
		}
		return Approval{}, apperr.New(apperr.InvalidState, apperr.CodeScanExpired, "scan session expired")
	}

	next, err := s.sessions.Transition(ctx, ss.ID, models.ScanVerified, scansessionstore.Transition{
		To: models.ScanApproved, At: now,
	})
	if errors.Is(err, scansessionstore.ErrStaleState) {
		// Lost to a concurrent approve or reject; only an approve may credit.
		cur, lerr := s.loadSession(ctx, ss.ID)
		if lerr != nil {
			return Approval{}, lerr
		}
		if cur.State != models.ScanApproved {
			return Approval{}, apperr.New(apperr.InvalidState, apperr.CodeInvalidState, "session is "+string(cur.State))
		}
		next, err = cur, nil
	}
	if err != nil {
		return Approval{}, apperr.Unavailable("approve scan session", err)
	}

	res, err := s.record(ctx, staff, next)
	if err != nil {
		return Approval{}, err
	}

	s.metrics.Scan(telemetry.ScanApproved)
	s.log.Info("scan approved",
		zap.String("session_id", ss.ID.Hex()),
		zap.String("staff_id", staff.ID.Hex()),
		zap.String("user_id", ss.CandidateID.Hex()),
		zap.Bool("already_recorded", res.AlreadyRecorded))
	return res, nil
}

// record credits an approved session and links its attendance record.
func (s *Service) record(ctx context.Context, staff authz.Principal, ss *models.ScanSession) (Approval, error) {
	ev, err := s.loadEvent(ctx, ss.EventID)
	if err != nil {
		return Approval{}, err
	}
	approver := staff.ID
	out, err := s.recorder.Record(ctx, *ev, attendance.Entry{
		UserID:     ss.CandidateID,
		Method:     models.AttendanceQR,
		ApprovedBy: &approver,
	})
	if err != nil {
		return Approval{}, err
	}
	if ss.AttendanceID == nil {
		linked, err := s.sessions.SetAttendance(ctx, ss.ID, out.Record.ID)
		if err != nil {
			return Approval{}, apperr.Unavailable("link scan session attendance", err)
		}
		ss = linked
	}
	return Approval{
		Session:         ss,
		Attendance:      out.Record,
		AlreadyRecorded: !out.Created,
		XPAwarded:       out.XPAwarded,
	}, nil
}

// Reject ends a non-terminal session. Rejecting a rejected session is a
// no-op; an approved session cannot be rejected.
func (s *Service) Reject(ctx context.Context, staff authz.Principal, sessionID primitive.ObjectID, reason string) (*models.ScanSession, error) {
	if !staffpolicy.CanScan(staff) {
		return nil, apperr.Denied("rejecting requires a staff role")
	}
	ss, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch ss.State {
	case models.ScanRejected:
		return ss, nil
	case models.ScanApproved:
		return nil, apperr.New(apperr.InvalidState, apperr.CodeInvalidState, "session already approved")
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonStaff
	}
	next, err := s.sessions.Transition(ctx, ss.ID, ss.State, scansessionstore.Transition{
		To: models.ScanRejected, RejectReason: reason, At: s.now().UTC(),
	})
	if errors.Is(err, scansessionstore.ErrStaleState) {
		return nil, apperr.New(apperr.InvalidState, apperr.CodeInvalidState, "session changed concurrently")
	}
	if err != nil {
		return nil, apperr.Unavailable("reject scan session", err)
	}
	s.metrics.Scan(telemetry.ScanRejected)
	s.log.Info("scan rejected",
		zap.String("session_id", ss.ID.Hex()),
		zap.String("staff_id", staff.ID.Hex()),
		zap.String("reason", reason))
	return next, nil
}

// ApproveAttendance records attendance for a user without a scan, for staff
// confirming presence by other means.
func (s *Service) ApproveAttendance(ctx context.Context, staff authz.Principal, eventID, userID primitive.ObjectID) (Approval, error) {
	if !staffpolicy.CanApproveAttendance(staff) {
		return Approval{}, apperr.Denied("approval requires a staff role")
	}
	ev, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return Approval{}, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Approval{}, userErr(err)
	}
	approver := staff.ID
	out, err := s.recorder.Record(ctx, *ev, attendance.Entry{
		UserID:     u.ID,
		Method:     models.AttendanceQR,
		ApprovedBy: &approver,
	})
	if err != nil {
		return Approval{}, err
	}
	s.log.Info("attendance approved",
		zap.String("event_id", ev.ID.Hex()),
		zap.String("user_id", u.ID.Hex()),
		zap.String("staff_id", staff.ID.Hex()))
	return Approval{Attendance: out.Record, AlreadyRecorded: !out.Created, XPAwarded: out.XPAwarded}, nil
}

func (s *Service) loadEvent(ctx context.Context, id primitive.ObjectID) (*models.Event, error) {
	ev, err := s.events.GetByID(ctx, id)
	if errors.Is(err, eventstore.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, apperr.CodeEventNotFound, "event not found")
	}
	if err != nil {
		return nil, apperr.Unavailable("load event", err)
	}
	return ev, nil
}

func (s *Service) loadSession(ctx context.Context, id primitive.ObjectID) (*models.ScanSession, error) {
	ss, err := s.sessions.GetByID(ctx, id)
	if errors.Is(err, scansessionstore.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, apperr.CodeScanSessionNotFound, "scan session not found")
	}
	if err != nil {
		return nil, apperr.Unavailable("load scan session", err)
	}
	return ss, nil
}

func disabled(u *models.User) bool { return u.Status == "disabled" }

func userErr(err error) error {
	if errors.Is(err, userstore.ErrNotFound) {
		return apperr.New(apperr.NotFound, apperr.CodeUserNotFound, "user not found")
	}
	return apperr.Unavailable("load user", err)
}
