// internal/app/features/ledger/routes.go
package ledger

import "github.com/go-chi/chi/v5"

// MountRoutes registers the ledger endpoints.
func MountRoutes(r chi.Router, h *Handler) {
	r.Get("/me/xp", h.ServeMyHistory)
	r.Get("/users/{userID}/xp", h.ServeUserHistory)
	r.Post("/xp/adjust", h.ServeAdjust)
	r.Post("/xp/transactions/{txID}/reverse", h.ServeReverse)
}
