/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging, scoped logger in the context
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counters (when configured)
  5. CORS:       Cross-origin requests for the frontend
  6. Caller:     Identity asserted by the host (X-Account-Id, Authorization)

ROUTE GROUPS:
  /api/me, /api/users/*     Users, balances, managers
  /api/teams/*              Teams and memberships
  /api/requests/*           Leave requests and review
  /api/managers/*           Manager approval queues
  /api/schedules            Calendar view
  /api/integration/*        Outbox inspection and retry
  /health                   Storage reachability
  /metrics                  Prometheus exposition

SECURITY NOTE:
  The host platform authenticates callers. The service trusts the caller
  headers it is given and only forwards them to the directory.

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
	"go.uber.org/zap"

	"github.com/warp/pto-service/metrics"
)

// RouterOptions configure the middleware stack. Zero values are usable.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderAccountID},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	r.Use(callerIdentity)

	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.CurrentUser)

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/search", h.SearchUsers)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}", h.UpdateUser)
			r.Put("/{id}/allocation", h.SetAllocation)
			r.Post("/{id}/deactivate", h.DeactivateUser)
			r.Post("/{id}/recalculate", h.RecalculateBalance)
			r.Get("/{id}/managers", h.UserManagers)
			r.Get("/{id}/requests", h.UserRequests)
			r.Get("/{id}/schedules", h.UserSchedules)
		})

		// Team routes
		r.Route("/teams", func(r chi.Router) {
			r.Get("/", h.ListTeams)
			r.Post("/", h.CreateTeam)
			r.Get("/{id}", h.GetTeam)
			r.Put("/{id}", h.UpdateTeam)
			r.Delete("/{id}", h.DeleteTeam)
			r.Get("/{id}/members", h.TeamMembers)
			r.Post("/{id}/members", h.AddTeamMember)
			r.Delete("/{id}/members/{userID}", h.RemoveTeamMember)
		})

		// Request routes
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Get("/{id}", h.GetRequest)
			r.Put("/{id}", h.UpdateRequest)
			r.Delete("/{id}", h.DeleteRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/decline", h.DeclineRequest)
		})

		r.Get("/managers/{id}/pending", h.PendingForManager)
		r.Get("/schedules", h.SchedulesInRange)

		// Integration routes
		r.Route("/integration", func(r chi.Router) {
			r.Get("/tasks", h.ListIntegrationTasks)
			r.Post("/deliver", h.DeliverPending)
		})
	})

	return r
}
