// Package attendance records presence at an event and grants the matching
// XP. Both the geofence and QR paths converge here, so the (event, user)
// uniqueness of the store is the single idempotency point.
package attendance

import (
	"context"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Store inserts a record unless one exists for the pair, in which case it
// returns the existing record with created=false.
type Store interface {
	Insert(ctx context.Context, rec models.AttendanceRecord) (models.AttendanceRecord, bool, error)
}

// Granter is the slice of the XP ledger the recorder uses.
type Granter interface {
	GrantOnce(ctx context.Context, g xpledger.Grant) (models.XPTransaction, bool, error)
}

type Recorder struct {
	store     Store
	ledger    Granter
	defaultXP int64
	log       *zap.Logger
}

// NewRecorder grants defaultXP for events that carry no reward of their own.
func NewRecorder(store Store, ledger Granter, defaultXP int64, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, ledger: ledger, defaultXP: defaultXP, log: logger}
}

// Entry describes one presence proof.
type Entry struct {
	UserID     primitive.ObjectID
	Method     models.AttendanceMethod
	Distance   *float64
	ApprovedBy *primitive.ObjectID
}

// Outcome is what Record did.
type Outcome struct {
	Record models.AttendanceRecord
	// Created is false when the pair was already recorded.
	Created bool
	// XPAwarded is the delta granted by this call, zero on a repeat.
	XPAwarded int64
}

// Record inserts the attendance record and grants the attendance XP.
// The grant is attempted even when the record already existed, so a call
// that failed between the two writes is completed by a retry. The dedupe
// key keeps the grant to one per pair.
func (r *Recorder) Record(ctx context.Context, event models.Event, e Entry) (Outcome, error) {
	rec, created, err := r.store.Insert(ctx, models.AttendanceRecord{
		EventID:        event.ID,
		UserID:         e.UserID,
		Method:         e.Method,
		DistanceMeters: e.Distance,
		ApprovedBy:     e.ApprovedBy,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return Outcome{}, apperr.Unavailable("record attendance", err)
	}

	out := Outcome{Record: rec, Created: created}
	reward := event.XPReward
	if reward <= 0 {
		reward = r.defaultXP
	}
	if reward <= 0 {
		return out, nil
	}

	tx, granted, err := r.ledger.GrantOnce(ctx, xpledger.Grant{
		UserID:    e.UserID,
		Delta:     reward,
		Source:    models.XPSourceEventAttended,
		Reference: &models.XPReference{Kind: "event", ID: event.ID},
		DedupeKey: xpledger.EventKey(event.ID, e.UserID),
		ActorID:   e.ApprovedBy,
	})
	if err != nil {
		return out, err
	}
	if granted {
		out.XPAwarded = tx.Delta
	}

	r.log.Info("attendance recorded",
		zap.String("event_id", event.ID.Hex()),
		zap.String("user_id", e.UserID.Hex()),
		zap.String("method", string(e.Method)),
		zap.Bool("created", created),
		zap.Int64("xp_awarded", out.XPAwarded))
	return out, nil
}
