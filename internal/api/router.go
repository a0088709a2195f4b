package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the transport surface. The framework layer stays thin:
// every route body is a direct call into the core packages.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/nodes", h.ListNodes)
		r.Post("/nodes", h.RegisterNode)

		r.Route("/nodes/{nodeID}", func(r chi.Router) {
			r.Delete("/", h.RemoveNode)
			r.Put("/settings", h.UpdateSettings)
			r.Put("/name", h.RenameNode)

			r.Post("/telemetry", h.ReportTelemetry)
			r.Get("/telemetry", h.GetTelemetry)

			r.Get("/relay", h.GetRelay)
			r.Post("/relay", h.SetRelay)

			r.Get("/schedules", h.ListSchedules)
			r.Post("/schedules", h.AddSchedule)
			r.Delete("/schedules/{scheduleID}", h.RemoveSchedule)
			r.Put("/schedules/{scheduleID}/enabled", h.SetScheduleEnabled)

			r.Post("/timer", h.StartTimer)
			r.Get("/timer", h.TimerStatus)
			r.Delete("/timer", h.CancelTimer)

			r.Get("/log", h.DownloadLog)
		})

		r.Post("/alert", h.TriggerAlert)
	})

	r.Get("/ws", h.hub.ServeWS)

	return r
}
