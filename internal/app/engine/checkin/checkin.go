// Package checkin verifies that a volunteer is physically at an event and
// records their attendance when they are. Staff read the resulting roster
// here too.
package checkin

import (
	"context"
	"errors"

	"github.com/dalemusser/volunteerhub/internal/app/engine/attendance"
	"github.com/dalemusser/volunteerhub/internal/app/policy/staffpolicy"
	eventstore "github.com/dalemusser/volunteerhub/internal/app/store/events"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/authz"
	"github.com/dalemusser/volunteerhub/internal/app/system/geo"
	"github.com/dalemusser/volunteerhub/internal/app/system/telemetry"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type Events interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Event, error)
}

type Recorder interface {
	Record(ctx context.Context, event models.Event, e attendance.Entry) (attendance.Outcome, error)
}

// Roster reads an event's attendance records.
type Roster interface {
	ListByEvent(ctx context.Context, eventID primitive.ObjectID, limit int64) ([]models.AttendanceRecord, error)
	CountByEvent(ctx context.Context, eventID primitive.ObjectID) (int64, error)
}

type Service struct {
	events   Events
	recorder Recorder
	roster   Roster
	log      *zap.Logger
	metrics  *telemetry.Metrics
}

func New(events Events, recorder Recorder, roster Roster, logger *zap.Logger, metrics *telemetry.Metrics) *Service {
	return &Service{events: events, recorder: recorder, roster: roster, log: logger, metrics: metrics}
}

// Result is returned for every check-in that reached the distance check,
// inside the fence or not.
type Result struct {
	IsWithinGeofence bool                     `json:"is_within_geofence"`
	DistanceMeters   float64                  `json:"distance_meters"`
	AllowedRadius    float64                  `json:"allowed_radius"`
	Attendance       *models.AttendanceRecord `json:"attendance,omitempty"`
	AlreadyCheckedIn bool                     `json:"already_checked_in"`
	XPAwarded        int64                    `json:"xp_awarded"`
}

// CheckIn compares the reported position with the event's geofence. A nil
// position means the client could not obtain one.
func (s *Service) CheckIn(ctx context.Context, userID, eventID primitive.ObjectID, pos *geo.Point) (Result, error) {
	log := s.log.With(zap.String("user_id", userID.Hex()), zap.String("event_id", eventID.Hex()))

	if pos == nil {
		s.fail(log, telemetry.CheckinNoLocation)
		return Result{}, apperr.New(apperr.ExternalUnavailable, apperr.CodeLocationUnavailable, "location could not be obtained")
	}
	if err := pos.Validate(); err != nil {
		s.fail(log, telemetry.CheckinBadCoords)
		return Result{}, apperr.Wrap(apperr.Validation, apperr.CodeInvalidCoordinates, "coordinates out of range", err)
	}

	ev, err := s.events.GetByID(ctx, eventID)
	if errors.Is(err, eventstore.ErrNotFound) {
		s.fail(log, telemetry.CheckinEventAbsent)
		return Result{}, apperr.New(apperr.NotFound, apperr.CodeEventNotFound, "event not found")
	}
	if err != nil {
		s.fail(log, telemetry.CheckinError)
		return Result{}, apperr.Unavailable("load event", err)
	}
	if ev.Geofence == nil {
		s.fail(log, telemetry.CheckinNoGeofence)
		return Result{}, apperr.New(apperr.InvalidState, apperr.CodeGeofenceNotConfigured, "event has no geofence")
	}

	center := geo.Point{Lat: ev.Geofence.Latitude, Lon: ev.Geofence.Longitude}
	v := geo.Check(center, ev.Geofence.RadiusMeters, *pos)
	res := Result{
		IsWithinGeofence: v.Within,
		DistanceMeters:   v.DistanceMeters,
		AllowedRadius:    v.AllowedRadius,
	}
	log = log.With(zap.Float64("distance_m", v.DistanceMeters), zap.Float64("radius_m", v.AllowedRadius))

	if !v.Within {
		s.metrics.Checkin(telemetry.CheckinOutside)
		log.Info("check-in outside geofence")
		return res, nil
	}

	dist := v.DistanceMeters
	out, err := s.recorder.Record(ctx, *ev, attendance.Entry{
		UserID:   userID,
		Method:   models.AttendanceGeofence,
		Distance: &dist,
	})
	if err != nil {
		s.fail(log, telemetry.CheckinError)
		return Result{}, err
	}
	rec := out.Record
	res.Attendance = &rec
	res.AlreadyCheckedIn = !out.Created
	res.XPAwarded = out.XPAwarded

	if out.Created {
		s.metrics.Checkin(telemetry.CheckinWithin)
	} else {
		s.metrics.Checkin(telemetry.CheckinDuplicate)
	}
	log.Info("check-in recorded", zap.Bool("already_checked_in", res.AlreadyCheckedIn))
	return res, nil
}

// EventAttendance is an event's roster as staff see it.
type EventAttendance struct {
	EventID primitive.ObjectID        `json:"event_id"`
	Title   string                    `json:"title"`
	Total   int64                     `json:"total"`
	Records []models.AttendanceRecord `json:"records"`
}

// Attendance lists who attended eventID, oldest first and at most limit
// records. Total counts every record regardless of limit.
func (s *Service) Attendance(ctx context.Context, actor authz.Principal, eventID primitive.ObjectID, limit int64) (EventAttendance, error) {
	if !staffpolicy.CanViewAttendance(actor) {
		return EventAttendance{}, apperr.Denied("viewing attendance requires a staff role")
	}
	ev, err := s.events.GetByID(ctx, eventID)
	if errors.Is(err, eventstore.ErrNotFound) {
		return EventAttendance{}, apperr.New(apperr.NotFound, apperr.CodeEventNotFound, "event not found")
	}
	if err != nil {
		return EventAttendance{}, apperr.Unavailable("load event", err)
	}
	total, err := s.roster.CountByEvent(ctx, eventID)
	if err != nil {
		return EventAttendance{}, apperr.Unavailable("count attendance", err)
	}
	recs, err := s.roster.ListByEvent(ctx, eventID, limit)
	if err != nil {
		return EventAttendance{}, apperr.Unavailable("list attendance", err)
	}
	return EventAttendance{EventID: ev.ID, Title: ev.Title, Total: total, Records: recs}, nil
}

func (s *Service) fail(log *zap.Logger, outcome string) {
	s.metrics.Checkin(outcome)
	log.Info("check-in rejected", zap.String("outcome", outcome))
}
