// internal/app/features/checkin/routes.go
package checkin

import "github.com/go-chi/chi/v5"

// MountRoutes registers the check-in and roster endpoints. The caller
// mounts them behind RequireSignedIn.
func MountRoutes(r chi.Router, h *Handler) {
	r.Post("/events/{eventID}/checkin", h.ServeCheckIn)
	r.Get("/events/{eventID}/attendance", h.ServeAttendance)
}
