// Package handlers exposes the booking engine and user notifications over HTTP.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

type Deps struct {
	Engine        *scheduling.Engine
	Notifications storage.Notifications
	Verifier      *auth.Verifier
	Logger        *slog.Logger
}

// Routes builds the API router. Provider reads and slot listings are public;
// everything else needs a bearer token.
func Routes(d Deps) http.Handler {
	appts := NewAppointmentHandler(d.Engine, d.Logger)
	providers := NewProviderHandler(d.Engine, d.Logger)
	notes := NewNotificationHandler(d.Notifications, d.Logger)
	managers := auth.RequireRole(auth.RoleProvider, auth.RoleAdmin)

	r := chi.NewRouter()

	r.Group(func(public chi.Router) {
		public.Get("/providers", providers.List)
		public.Get("/providers/{id}", providers.Get)
		public.Get("/providers/{id}/slots", providers.Slots)
		public.Get("/providers/{id}/availability", providers.Slots)
		public.Get("/appointment/{id}/slots", providers.Slots)
	})

	r.Group(func(private chi.Router) {
		private.Use(auth.Middleware(d.Verifier))

		private.Get("/providers/{id}/blocks", providers.Blocks)
		private.With(managers).Post("/providers/{id}/blocks", providers.CreateBlock)
		private.With(managers).Delete("/providers/{id}/blocks/{blockId}", providers.DeleteBlock)

		private.Post("/appointment", appts.Book)
		private.Post("/appointment/book-slot", appts.BookSlot)
		private.Get("/appointment/me", appts.Mine)
		private.Put("/appointment/{id}/cancel", appts.Cancel)
		private.Put("/appointment/{id}/reschedule", appts.Reschedule)
		private.Get("/appointment/{id}/history", appts.History)
		private.With(managers).Put("/appointment/{id}/status", appts.SetStatus)

		private.Route("/notifications", func(r chi.Router) {
			r.Get("/", notes.List)
			r.Delete("/", notes.DeleteAll)
			r.Put("/read-all", notes.MarkAllRead)
			r.Put("/{id}/read", notes.MarkRead)
			r.Delete("/{id}", notes.Delete)
		})
	})
	return r
}
