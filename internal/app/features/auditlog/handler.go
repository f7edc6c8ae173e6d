// internal/app/features/auditlog/handler.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dalemusser/volunteerhub/internal/app/policy/staffpolicy"
	"github.com/dalemusser/volunteerhub/internal/app/store/audit"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/jsonio"
	"github.com/dalemusser/volunteerhub/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const pageSize = 50

// Store is the read side of the audit trail.
type Store interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error)
	CountByFilter(ctx context.Context, filter audit.QueryFilter) (int64, error)
}

type Handler struct {
	Store Store
	Log   *zap.Logger
}

func NewHandler(store Store, logger *zap.Logger) *Handler {
	return &Handler{Store: store, Log: logger}
}

type listResponse struct {
	Events     []audit.Event `json:"events"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
}

// ServeList handles GET /audit. Query parameters: category, event_type,
// user_id, actor_id, start_date and end_date (YYYY-MM-DD, inclusive) and page.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	if !staffpolicy.CanViewAudit(p) {
		jsonio.Error(w, h.Log, apperr.Denied("only a superadmin can read the audit log"))
		return
	}

	filter, page, err := parseFilter(r)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "audit log list")
	defer cancel()

	events, err := h.Store.Query(ctx, filter)
	if err != nil {
		jsonio.Error(w, h.Log, apperr.Unavailable("audit log unavailable", err))
		return
	}
	total, err := h.Store.CountByFilter(ctx, filter)
	if err != nil {
		jsonio.Error(w, h.Log, apperr.Unavailable("audit log unavailable", err))
		return
	}

	totalPages := int((total + pageSize - 1) / pageSize)
	if totalPages < 1 {
		totalPages = 1
	}
	jsonio.OK(w, listResponse{Events: events, Total: total, Page: page, TotalPages: totalPages})
}

func parseFilter(r *http.Request) (audit.QueryFilter, int, error) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		Category:  strings.TrimSpace(q.Get("category")),
		EventType: strings.TrimSpace(q.Get("event_type")),
		Limit:     pageSize,
	}

	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return filter, 0, apperr.Invalid(apperr.CodeValidation, "page must be a positive integer")
		}
		page = n
	}
	filter.Offset = int64((page - 1) * pageSize)

	for name, dst := range map[string]**primitive.ObjectID{"user_id": &filter.UserID, "actor_id": &filter.ActorID} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		oid, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return filter, 0, apperr.Invalid(apperr.CodeValidation, name+" is not a valid id")
		}
		*dst = &oid
	}

	if raw := q.Get("start_date"); raw != "" {
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return filter, 0, apperr.Invalid(apperr.CodeValidation, "start_date must be YYYY-MM-DD")
		}
		filter.StartTime = &t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return filter, 0, apperr.Invalid(apperr.CodeValidation, "end_date must be YYYY-MM-DD")
		}
		// End of day
		endOfDay := t.Add(24*time.Hour - time.Nanosecond)
		filter.EndTime = &endOfDay
	}
	if filter.StartTime != nil && filter.EndTime != nil && filter.EndTime.Before(*filter.StartTime) {
		return filter, 0, apperr.Invalid(apperr.CodeValidation, "end_date is before start_date")
	}
	return filter, page, nil
}
