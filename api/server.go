/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Access log: logrus entry per request with the request id
  4. Metrics:    prometheus counters and latency per route pattern
  5. CORS:       Cross-origin requests for the portal frontend
  6. Session:    X-Staff-ID resolved to an officer (every /api route
                 except scenarios)

ROUTE GROUPS:
  /api/reference/*      Reference data view, import, reload
  /api/queues/{queue}   Region-scoped claim queues
  /api/cases/{irn}/*    Case file, documents, lock, calculation
  /api/reports/*        Hearing schedule (PDF or XLSX)
  /api/scenarios/*      Demo scenarios (only with RouterOptions.Scenarios)
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness plus store ping

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Access log, session and rate limit
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions are the HTTP-level settings of the router.
type RouterOptions struct {
	AllowedOrigins []string

	// Scenarios mounts the demo endpoints, which reset the store.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(h.Logger))
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", StaffHeader},
		ExposedHeaders:   []string{"Content-Disposition", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Scenarios seed the staff table, so they sit outside the session.
		if opts.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(h.session)

			r.Route("/reference", func(r chi.Router) {
				r.Get("/", h.GetReference)
				r.Post("/import", h.ImportReference)
				r.Post("/reload", h.ReloadReference)
			})

			r.Get("/queues/{queue}", h.ListQueue)

			r.Route("/cases/{irn}", func(r chi.Router) {
				r.Get("/", h.GetCase)
				r.Get("/documents", h.GetDocuments)
				r.Post("/lock", h.AcquireLock)
				r.Delete("/lock", h.ReleaseLock)

				r.Route("/calculation", func(r chi.Router) {
					r.Get("/", h.GetCalculation)
					r.Post("/preview", h.PreviewCalculation)
					r.With(h.limitSubmissions).Post("/", h.SubmitCalculation)
				})
			})

			r.Get("/reports/hearings", h.HearingReport)
		})
	})

	return r
}
