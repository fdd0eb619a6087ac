package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP surface. Appointment routes carry the request-ID
// and logging middleware; health probes stay bare so load balancers do not
// flood the logs.
func NewRouter(h *Handler, health *HealthHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)

	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(RequestIDMiddleware)
		r.Use(LoggingMiddleware)

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.CreateAppointment)
			r.Post("/emergency", h.CreateEmergency)

			r.Route("/{appointmentID}", func(r chi.Router) {
				r.Get("/", h.GetAppointment)
				r.Post("/check-in", h.CheckIn)
				r.Post("/start", h.StartAppointment)
				r.Post("/complete", h.CompleteAppointment)
				r.Post("/cancel", h.CancelAppointment)
				r.Post("/no-show", h.MarkNoShow)
				r.Post("/reinstate", h.ReinstateAppointment)
			})
		})

		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Post("/delay", h.ApplyDelay)
			r.Post("/breaks", h.CreateBreak)
			r.Get("/queue", h.GetQueue)
		})

		r.Get("/jobs/failed", h.ListFailedJobs)
		r.Post("/jobs/{jobID}/cancel", h.CancelJob)
	})

	return r
}
