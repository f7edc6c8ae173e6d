// internal/app/features/identity/handler.go
package identity

import (
	"context"
	"net/http"

	engine "github.com/dalemusser/volunteerhub/internal/app/engine/identity"
	"github.com/dalemusser/volunteerhub/internal/app/system/auditlog"
	"github.com/dalemusser/volunteerhub/internal/app/system/jsonio"
	"github.com/dalemusser/volunteerhub/internal/app/system/ratelimit"
	"github.com/dalemusser/volunteerhub/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves the QR identity protocol: volunteers fetch a signed
// code, staff scan it and approve or reject the resulting session.
type Handler struct {
	Svc   *engine.Service
	Audit *auditlog.Logger
	Log   *zap.Logger
}

func NewHandler(svc *engine.Service, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{Svc: svc, Audit: audit, Log: logger}
}

// ServeQR handles GET /identity/qr for the signed-in volunteer.
func (h *Handler) ServeQR(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	qr, err := h.Svc.IssueQR(ctx, p.ID)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	jsonio.OK(w, qr)
}

type scanRequest struct {
	EventID string `json:"event_id" validate:"required,objectid"`
	Payload string `json:"payload" validate:"required"`
}

// ServeScan handles POST /identity/scan. A payload that is not one of
// our codes yields 204 so the scanner keeps going.
func (h *Handler) ServeScan(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	var req scanRequest
	if err := jsonio.Decode(r, &req); err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	eventID, _ := primitive.ObjectIDFromHex(req.EventID)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	res, err := h.Svc.Scan(ctx, p, ratelimit.ScanKey(p.ID.Hex(), r), eventID, req.Payload)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	jsonio.OK(w, res)
}

// ServeApprove handles POST /identity/sessions/{sessionID}/approve.
func (h *Handler) ServeApprove(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	id, err := jsonio.ObjectIDParam(r, "sessionID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	res, err := h.Svc.Approve(ctx, p, id)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	if !res.AlreadyRecorded {
		h.Audit.ScanApproved(r.Context(), r, p.ID, res.Attendance.UserID, id, res.Attendance.EventID, res.XPAwarded)
	}
	jsonio.OK(w, res)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

// ServeReject handles POST /identity/sessions/{sessionID}/reject. The
// body is optional.
func (h *Handler) ServeReject(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	id, err := jsonio.ObjectIDParam(r, "sessionID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	var req rejectRequest
	if r.ContentLength > 0 {
		if err := jsonio.Decode(r, &req); err != nil {
			jsonio.Error(w, h.Log, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	ss, err := h.Svc.Reject(ctx, p, id, req.Reason)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	h.Audit.ScanRejected(r.Context(), r, p.ID, ss.CandidateID, ss.ID, ss.RejectReason)
	jsonio.OK(w, ss)
}

type attendanceRequest struct {
	UserID string `json:"user_id" validate:"required,objectid"`
}

// ServeApproveAttendance handles POST /events/{eventID}/attendance, the
// manual path for volunteers who cannot present a code.
func (h *Handler) ServeApproveAttendance(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	eventID, err := jsonio.ObjectIDParam(r, "eventID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	var req attendanceRequest
	if err := jsonio.Decode(r, &req); err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	userID, _ := primitive.ObjectIDFromHex(req.UserID)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	res, err := h.Svc.ApproveAttendance(ctx, p, eventID, userID)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	if !res.AlreadyRecorded {
		h.Audit.AttendanceApproved(r.Context(), r, p.ID, userID, eventID, res.XPAwarded)
	}
	jsonio.OK(w, res)
}
