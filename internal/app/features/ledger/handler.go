// internal/app/features/ledger/handler.go
package ledger

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dalemusser/volunteerhub/internal/app/engine/xpledger"
	"github.com/dalemusser/volunteerhub/internal/app/system/apperr"
	"github.com/dalemusser/volunteerhub/internal/app/system/auditlog"
	"github.com/dalemusser/volunteerhub/internal/app/system/jsonio"
	"github.com/dalemusser/volunteerhub/internal/app/system/timeouts"
	"github.com/dalemusser/volunteerhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	defaultHistory = 50
	maxHistory     = 500
)

// Handler exposes the XP ledger: history, balance and staff corrections.
type Handler struct {
	Svc   *xpledger.Service
	Audit *auditlog.Logger
	Log   *zap.Logger
}

func NewHandler(svc *xpledger.Service, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{Svc: svc, Audit: audit, Log: logger}
}

type historyResponse struct {
	Balance      xpledger.Balance       `json:"balance"`
	Transactions []models.XPTransaction `json:"transactions"`
}

// ServeMyHistory handles GET /me/xp.
func (h *Handler) ServeMyHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	h.history(w, r, p.ID)
}

// ServeUserHistory handles GET /users/{userID}/xp. Only the user and
// staff may read it.
func (h *Handler) ServeUserHistory(w http.ResponseWriter, r *http.Request) {
	id, err := jsonio.ObjectIDParam(r, "userID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	h.history(w, r, id)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, userID primitive.ObjectID) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	limit := int64(defaultHistory)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			jsonio.Error(w, h.Log, apperr.Invalid(apperr.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistory)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	txs, err := h.Svc.History(ctx, p, userID, limit)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	bal, err := h.Svc.Balance(ctx, userID)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	jsonio.OK(w, historyResponse{Balance: bal, Transactions: txs})
}

type adjustRequest struct {
	UserID string `json:"user_id" validate:"required,objectid"`
	Delta  int64  `json:"delta"`
	Note   string `json:"note" validate:"required,max=500"`
}

// ServeAdjust handles POST /xp/adjust.
func (h *Handler) ServeAdjust(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := jsonio.Decode(r, &req); err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	userID, _ := primitive.ObjectIDFromHex(req.UserID)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	tx, err := h.Svc.Adjust(ctx, p, userID, req.Delta, req.Note)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	h.Audit.XPAdjusted(r.Context(), r, p.ID, userID, tx.ID, tx.Delta, tx.Note)
	jsonio.Write(w, http.StatusCreated, tx)
}

type reverseRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// ServeReverse handles POST /xp/transactions/{txID}/reverse. The body
// is optional.
func (h *Handler) ServeReverse(w http.ResponseWriter, r *http.Request) {
	p, ok := jsonio.Principal(w, r)
	if !ok {
		return
	}
	id, err := jsonio.ObjectIDParam(r, "txID")
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	var req reverseRequest
	if r.ContentLength > 0 {
		if err := jsonio.Decode(r, &req); err != nil {
			jsonio.Error(w, h.Log, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	tx, err := h.Svc.Reverse(ctx, p, id, req.Note)
	if err != nil {
		jsonio.Error(w, h.Log, err)
		return
	}
	h.Audit.XPReversed(r.Context(), r, p.ID, tx.UserID, id, tx.ID, tx.Delta)
	jsonio.Write(w, http.StatusCreated, tx)
}
