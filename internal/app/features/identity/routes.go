// internal/app/features/identity/routes.go
package identity

import "github.com/go-chi/chi/v5"

// MountRoutes registers the identity endpoints. Staff checks happen in
// the engine, so the only middleware needed is RequireSignedIn.
func MountRoutes(r chi.Router, h *Handler) {
	r.Get("/identity/qr", h.ServeQR)
	r.Post("/identity/scan", h.ServeScan)
	r.Post("/identity/sessions/{sessionID}/approve", h.ServeApprove)
	r.Post("/identity/sessions/{sessionID}/reject", h.ServeReject)
	r.Post("/events/{eventID}/attendance", h.ServeApproveAttendance)
}
