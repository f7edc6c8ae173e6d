// internal/app/features/progress/routes.go
package progress

import "github.com/go-chi/chi/v5"

// MountRoutes registers the progress endpoints.
func MountRoutes(r chi.Router, h *Handler) {
	r.Get("/me/level", h.ServeMyLevel)
	r.Get("/me/streak", h.ServeStreak)
	r.Post("/me/streak", h.ServeStartSession)
	r.Get("/me/logins", h.ServeLoginHistory)
	r.Get("/users/{userID}/level", h.ServeUserLevel)
	r.Get("/tiers", h.ServeTiers)
	r.Put("/tiers", h.ServeReplaceTiers)
}
