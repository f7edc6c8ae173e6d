// internal/app/features/checkin/handler.go
package checkin

import (
	"context"
	"net/http"
	"strconv"

	engine "github.com/dalemusser/volunteerhub/internal/app/engine/checkin"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/geo"
	"github.com/dalemusser/volunteerhub/internal/app/system/jsonio"
	"github.com/dalemusser/volunteerhub/internal/app/system/timeouts"
	"go.uber.org/zap"
)

const (
	defaultRoster = 200
	maxRoster     = 1000
)

// Handler serves geofenced event check-in and the staff attendance roster.
type Handler struct {
	Svc *engine.Service
	Log *zap.Logger
}

func NewHandler(svc *engine.Service, logger *zap.Logger) *Handler {
	return &Handler{Svc: svc, Log: logger}
}

// checkinRequest is the device's location fix. A client that could not
// obtain a fix sends location_available=false or omits the coordinates.
type checkinRequest struct {
	Lat               *float64 `json:"lat"`
	Lon               *float64 `json:"lon"`
	LocationAvailable *bool    `json:"location_available"`
}

func (req checkinRequest) point() *geo.Point {
	if req.LocationAvailable != nil && !*req.LocationAvailable {
		return nil
	}
	if req.Lat == nil || req.Lon == nil {
		return nil
	}
	return &geo.Point{Lat: *req.Lat, Lon: *req.Lon}
}

// ServeCheckIn handles POST /events/{eventID}/checkin.
//
// 200 with the verdict whether or not the caller is inside the fence; an
// attendance record is present only when they are.
func (h *Handler) ServeCheckIn(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	eventID, err := jsonio.ObjectIDParam(r, "eventID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	var req checkinRequest
	if err := jsonio.Decode(r, &req); err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	res, err := h.Svc.CheckIn(ctx, p.ID, eventID, req.point())
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, res)
}

// ServeAttendance handles GET /events/{eventID}/attendance. Staff only.
func (h *Handler) ServeAttendance(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	eventID, err := jsonio.ObjectIDParam(r, "eventID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	limit := int64(defaultRoster)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			jsonio.Error(w, h.Log, apperr.Invalid(apperr.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxRoster)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	res, err := h.Svc.Attendance(ctx, p, eventID, limit)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, res)
}
