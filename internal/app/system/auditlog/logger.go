// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dalemusser/volunteerhub/internal/app/store/audit"
	"github.com/dalemusser/volunteerhub/internal/app/system/ratelimit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
type Config struct {
	// Auth controls logging for authentication events (login, logout).
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Auth string
	// Admin controls logging for staff actions (XP adjustments, scan
	// decisions, task verification, tier changes).
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Admin string
}

// ValidSetting reports whether s is an accepted Config value.
func ValidSetting(s string) bool {
	switch s {
	case "all", "db", "log", "off":
		return true
	}
	return false
}

// Sink persists audit events; *audit.Store satisfies it.
type Sink interface {
	Log(ctx context.Context, event audit.Event) error
}

// Logger provides convenience methods for logging audit events.
// It logs to both MongoDB (via the Sink) and structured logs (via zap).
type Logger struct {
	store  Sink
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store Sink, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// logToZap logs the event to zap with consistent structure.
func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("ip", event.IP),
	}

	if event.UserID != nil {
		fields = append(fields, zap.String("user_id", event.UserID.Hex()))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event based on configuration.
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
// Logging destination is controlled by config: "all", "db", "log", or "off".
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	var setting string
	switch event.Category {
	case audit.CategoryAuth:
		setting = l.config.Auth
	case audit.CategoryAdmin:
		setting = l.config.Admin
	default:
		setting = "all"
	}

	if setting == "off" {
		return
	}

	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}

	if setting == "all" || setting == "db" {
		// Audit writes outlive a cancelled request.
		if err := l.store.Log(context.WithoutCancel(ctx), event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

func (l *Logger) admin(ctx context.Context, r *http.Request, eventType string, actorID primitive.ObjectID, userID *primitive.ObjectID, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAdmin,
		EventType: eventType,
		UserID:    userID,
		ActorID:   &actorID,
		IP:        ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
		Success:   true,
		Details:   details,
	})
}

// --- Authentication Events ---

// LoginSuccess logs a successful login.
func (l *Logger) LoginSuccess(ctx context.Context, r *http.Request, userID primitive.ObjectID, provider string, streak int) {
	l.Log(ctx, audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventLoginSuccess,
		UserID:    &userID,
		IP:        ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
		Success:   true,
		Details: map[string]string{
			"provider": provider,
			"streak":   strconv.Itoa(streak),
		},
	})
}

// LoginFailedUserNotFound logs a login attempt for an unknown email.
func (l *Logger) LoginFailedUserNotFound(ctx context.Context, r *http.Request, email string) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventLoginFailedUserNotFound,
		IP:            ratelimit.ClientIP(r),
		UserAgent:     r.UserAgent(),
		Success:       false,
		FailureReason: "user not found",
		Details:       map[string]string{"email": email},
	})
}

// LoginFailedUserDisabled logs a login attempt by a disabled account.
func (l *Logger) LoginFailedUserDisabled(ctx context.Context, r *http.Request, userID primitive.ObjectID) {
	l.Log(ctx, audit.Event{
		Category:      audit.CategoryAuth,
		EventType:     audit.EventLoginFailedUserDisabled,
		UserID:        &userID,
		IP:            ratelimit.ClientIP(r),
		UserAgent:     r.UserAgent(),
		Success:       false,
		FailureReason: "account disabled",
	})
}

// Logout logs a sign-out. userIDStr may be empty for an anonymous request.
func (l *Logger) Logout(ctx context.Context, r *http.Request, userIDStr string) {
	event := audit.Event{
		Category:  audit.CategoryAuth,
		EventType: audit.EventLogout,
		IP:        ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
		Success:   true,
	}
	if oid, err := primitive.ObjectIDFromHex(userIDStr); err == nil {
		event.UserID = &oid
	}
	l.Log(ctx, event)
}

// --- Staff Actions ---

// XPAdjusted logs a manual XP correction.
func (l *Logger) XPAdjusted(ctx context.Context, r *http.Request, actorID, userID, txID primitive.ObjectID, delta int64, note string) {
	l.admin(ctx, r, audit.EventXPAdjusted, actorID, &userID, map[string]string{
		"tx_id": txID.Hex(),
		"delta": strconv.FormatInt(delta, 10),
		"note":  note,
	})
}

// XPReversed logs the reversal of an earlier transaction.
func (l *Logger) XPReversed(ctx context.Context, r *http.Request, actorID, userID, originalTxID, reversalTxID primitive.ObjectID, delta int64) {
	l.admin(ctx, r, audit.EventXPReversed, actorID, &userID, map[string]string{
		"original_tx_id": originalTxID.Hex(),
		"tx_id":          reversalTxID.Hex(),
		"delta":          strconv.FormatInt(delta, 10),
	})
}

// ScanApproved logs a staff approval of a verified QR scan.
func (l *Logger) ScanApproved(ctx context.Context, r *http.Request, actorID, userID, sessionID, eventID primitive.ObjectID, xpAwarded int64) {
	l.admin(ctx, r, audit.EventScanApproved, actorID, &userID, map[string]string{
		"session_id": sessionID.Hex(),
		"event_id":   eventID.Hex(),
		"xp_awarded": strconv.FormatInt(xpAwarded, 10),
	})
}

// ScanRejected logs a staff rejection of a scan session.
func (l *Logger) ScanRejected(ctx context.Context, r *http.Request, actorID, userID, sessionID primitive.ObjectID, reason string) {
	var target *primitive.ObjectID
	if !userID.IsZero() {
		target = &userID
	}
	l.admin(ctx, r, audit.EventScanRejected, actorID, target, map[string]string{
		"session_id": sessionID.Hex(),
		"reason":     reason,
	})
}

// AttendanceApproved logs attendance recorded by staff without a scan.
func (l *Logger) AttendanceApproved(ctx context.Context, r *http.Request, actorID, userID, eventID primitive.ObjectID, xpAwarded int64) {
	l.admin(ctx, r, audit.EventAttendanceApproved, actorID, &userID, map[string]string{
		"event_id":   eventID.Hex(),
		"xp_awarded": strconv.FormatInt(xpAwarded, 10),
	})
}

// TaskCreated logs a newly published task.
func (l *Logger) TaskCreated(ctx context.Context, r *http.Request, actorID, taskID primitive.ObjectID, title string, xpReward int64) {
	l.admin(ctx, r, audit.EventTaskCreated, actorID, nil, map[string]string{
		"task_id":   taskID.Hex(),
		"title":     title,
		"xp_reward": strconv.FormatInt(xpReward, 10),
	})
}

// TaskVerified logs verification of submitted work. One event is written
// per assignee that received the reward.
func (l *Logger) TaskVerified(ctx context.Context, r *http.Request, actorID, taskID primitive.ObjectID, assignees []primitive.ObjectID, xpAwarded int64) {
	for _, uid := range assignees {
		l.admin(ctx, r, audit.EventTaskVerified, actorID, &uid, map[string]string{
			"task_id":    taskID.Hex(),
			"xp_awarded": strconv.FormatInt(xpAwarded, 10),
		})
	}
}

// TaskDeleted logs removal of a task.
func (l *Logger) TaskDeleted(ctx context.Context, r *http.Request, actorID, taskID primitive.ObjectID) {
	l.admin(ctx, r, audit.EventTaskDeleted, actorID, nil, map[string]string{
		"task_id": taskID.Hex(),
	})
}

// TiersReplaced logs a change to the level tier catalog.
func (l *Logger) TiersReplaced(ctx context.Context, r *http.Request, actorID primitive.ObjectID, count int) {
	l.admin(ctx, r, audit.EventTiersReplaced, actorID, nil, map[string]string{
		"tiers": strconv.Itoa(count),
	})
}
