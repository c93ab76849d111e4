/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend

SECURITY NOTE:
  No authentication middleware. The acting user comes from the X-User-ID
  header; an identity-aware gateway fronts this service in production.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Availability template routes
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Get("/{id}", h.GetTemplate)
			r.Delete("/{id}", h.DeleteTemplate)
			r.Post("/{id}/materialize", h.MaterializeSlots)
			r.Get("/{id}/preview", h.PreviewSlots)
			r.Post("/{id}/rules", h.AddRule)
			r.Delete("/{id}/rules/{ruleID}", h.DeleteRule)
			r.Post("/{id}/overrides", h.AddOverride)
			r.Delete("/{id}/overrides/{overrideID}", h.DeleteOverride)
		})

		// Slot routes
		r.Route("/slots", func(r chi.Router) {
			r.Get("/", h.ListSlots)
			r.Post("/", h.CreateManualSlot)
		})

		// Offering routes
		r.Route("/offerings", func(r chi.Router) {
			r.Get("/", h.ListOfferings)
			r.Post("/", h.CreateOffering)
		})

		// Booking lifecycle routes
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/confirm", h.ConfirmBooking)
			r.Post("/{id}/complete", h.CompleteBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/no-show/student", h.ReportStudentNoShow)
			r.Post("/{id}/no-show/mentor", h.ReportMentorNoShow)
			r.Post("/{id}/reschedule", h.ProposeReschedule)
			r.Post("/{id}/reschedule/approve", h.ApproveReschedule)
			r.Post("/{id}/reschedule/reject", h.RejectReschedule)
			r.Post("/{id}/dispute", h.OpenDispute)
			r.Post("/{id}/dispute/resolve", h.ResolveDispute)
		})

		// Payout routes
		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", h.ListPayouts)
			r.Post("/", h.SubmitPayout)
			r.Get("/{id}", h.GetPayout)
			r.Post("/{id}/approve", h.ApprovePayout)
			r.Post("/{id}/reject", h.RejectPayout)
		})

		// Balance routes
		r.Get("/balances/{mentor_id}", h.GetBalance)
		r.Get("/balances/{mentor_id}/entries", h.ListLedgerEntries)
	})

	return r
}
