// internal/app/features/tasks/handler.go
package tasks

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/engine/taskflow"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/auditlog"
	"github.com/dalemusser/volunteerhub/internal/app/system/jsonio"
	"github.com/dalemusser/volunteerhub/internal/app/system/timeouts"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler exposes the task lifecycle: publish, claim, submit, verify.
type Handler struct {
	Svc   *taskflow.Service
	Audit *auditlog.Logger
	Log   *zap.Logger
}

func NewHandler(svc *taskflow.Service, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{Svc: svc, Audit: audit, Log: logger}
}

type createRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Description string     `json:"description" validate:"max=5000"`
	Category    string     `json:"category" validate:"max=100"`
	Deadline    *time.Time `json:"deadline"`
	XPReward    int64      `json:"xp_reward" validate:"gte=0"`
}

// ServeCreate handles POST /tasks.
func (h *Handler) ServeCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := jsonio.Decode(r, &req); err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	t, err := h.Svc.Create(ctx, p, taskflow.NewInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Deadline:    req.Deadline,
		XPReward:    req.XPReward,
	})
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	h.Audit.TaskCreated(r.Context(), r, p.ID, t.ID, t.Title, t.XPReward)
	jsonio.Write(w, http.StatusCreated, t)
}

// ServeList handles GET /tasks?status=open&limit=50.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	if _, ok := jsonio.Principal(w, r); !ok {
		return
	}
	status := models.TaskStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.TaskOpen
	}
	limit := int64(defaultListLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			jsonio.Error(w, h.Log, apperr.Invalid(apperr.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	list, err := h.Svc.List(ctx, status, limit)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, map[string]any{"tasks": list})
}

// ServeGet handles GET /tasks/{taskID}.
func (h *Handler) ServeGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := jsonio.Principal(w, r); !ok {
		return
	}
	id, err := jsonio.ObjectIDParam(r, "taskID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	t, err := h.Svc.Get(ctx, id)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, t)
}

// ServeClaim handles POST /tasks/{taskID}/claim.
func (h *Handler) ServeClaim(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	id, err := jsonio.ObjectIDParam(r, "taskID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	t, err := h.Svc.Claim(ctx, p, id)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, t)
}

type submitRequest struct {
	Notes string `json:"notes" validate:"required,max=10000"`
	Link  string `json:"link" validate:"omitempty,url,max=2000"`
}

// ServeSubmit handles POST /tasks/{taskID}/submit.
func (h *Handler) ServeSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	id, err := jsonio.ObjectIDParam(r, "taskID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	var req submitRequest
	if err := jsonio.Decode(r, &req); err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	t, err := h.Svc.Submit(ctx, p, id, taskflow.SubmitInput{Notes: req.Notes, Link: req.Link})
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, t)
}

// ServeVerify handles POST /tasks/{taskID}/verify.
func (h *Handler) ServeVerify(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	id, err := jsonio.ObjectIDParam(r, "taskID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "verify task")
	defer cancel()

	res, err := h.Svc.Verify(ctx, p, id)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	h.Audit.TaskVerified(r.Context(), r, p.ID, id, res.Task.Assignees, res.Task.XPReward)
	jsonio.OK(w, res)
}

// ServeDelete handles DELETE /tasks/{taskID}.
func (h *Handler) ServeDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	id, err := jsonio.ObjectIDParam(r, "taskID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if err := h.Svc.Delete(ctx, p, id); err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	h.Audit.TaskDeleted(r.Context(), r, p.ID, id)
	w.WriteHeader(http.StatusNoContent)
}
