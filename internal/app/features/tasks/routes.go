// internal/app/features/tasks/routes.go
package tasks

import "github.com/go-chi/chi/v5"

// Routes returns a subrouter for the task board, mounted under /tasks.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeList)
	r.Post("/", h.ServeCreate)
	r.Route("/{taskID}", func(r chi.Router) {
		r.Get("/", h.ServeGet)
		r.Delete("/", h.ServeDelete)
		r.Post("/claim", h.ServeClaim)
		r.Post("/submit", h.ServeSubmit)
		r.Post("/verify", h.ServeVerify)
	})
	return r
}
