package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/api/handlers"
	mw "github.com/Harshitk-cp/twinledger/internal/api/middleware"
	"github.com/Harshitk-cp/twinledger/internal/buildconfig"
	"github.com/Harshitk-cp/twinledger/internal/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// App holds the router and the services whose lifecycle main manages.
type App struct {
	Router       *chi.Mux
	Services     *Services
	Backend      *Backend
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(b *Backend, svcs *Services, logger *zap.Logger) *App {
	tenantHandler := handlers.NewTenantHandler(b.Tenants)
	beliefHandler := handlers.NewBeliefHandler(svcs.Beliefs)
	graphHandler := handlers.NewGraphHandler(svcs.Graph)
	jobHandler := handlers.NewJobHandler(svcs.Jobs, svcs.Runner)
	escalationHandler := handlers.NewEscalationHandler(svcs.Escalation)
	documentHandler := handlers.NewDocumentHandler(svcs.Documents)
	askHandler := handlers.NewAskHandler(svcs.Answers)

	r := chi.NewRouter()
	app := &App{
		Router:    r,
		Services:  svcs,
		Backend:   b,
		startTime: time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount, svcs.Metrics)

	// Global middleware (order matters)
	r.Use(mw.RequestID)                                                 // Generate/extract request ID first
	r.Use(middleware.RealIP)                                            // Extract real IP
	r.Use(metricsCollector.Middleware)                                  // Collect metrics
	r.Use(mw.Logging(logger))                                           // Log all requests
	r.Use(middleware.Recoverer)                                         // Recover from panics
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst())) // Rate limiting

	// Unauthenticated
	r.Get("/health", healthHandler(b))
	r.Method(http.MethodGet, "/metrics", svcs.Metrics.Handler())
	r.Get("/stats", app.statsHandler())

	// Tenant creation is the bootstrap endpoint.
	r.Post("/v1/tenants", tenantHandler.Create)

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(b.Tenants))

		r.Route("/beliefs", func(r chi.Router) {
			r.Get("/", beliefHandler.List)
			r.Post("/propose", beliefHandler.Propose)
			r.Post("/correct", beliefHandler.Correct)
			r.Get("/current", beliefHandler.Current)
			r.Get("/history", beliefHandler.History)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", beliefHandler.GetByID)
				r.Get("/transitions", beliefHandler.Transitions)
				r.Post("/verify", beliefHandler.Verify)
				r.Post("/retract", beliefHandler.Retract)
				r.Post("/deprecate", beliefHandler.Deprecate)
				r.Post("/repropose", beliefHandler.Repropose)
			})
		})

		r.Route("/graph", func(r chi.Router) {
			r.Put("/nodes", graphHandler.UpsertNode)
			r.Get("/nodes/{key}", graphHandler.GetNode)
			r.Get("/nodes/{key}/history", graphHandler.NodeHistory)
			r.Get("/nodes/{key}/neighbors", graphHandler.Neighbors)
			r.Post("/nodes/{id}/retract", graphHandler.RetractNode)
			r.Put("/edges", graphHandler.UpsertEdge)
			r.Get("/edges", graphHandler.GetEdge)
			r.Get("/edges/history", graphHandler.EdgeHistory)
			r.Post("/edges/{id}/retract", graphHandler.RetractEdge)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", jobHandler.Submit)
			r.Get("/", jobHandler.List)
			r.Get("/stats", jobHandler.Stats)
			r.Post("/drain", jobHandler.Drain)
			r.Get("/dead-letters", jobHandler.DeadLetters)
			r.Post("/dead-letters/replay", jobHandler.ReplayDeadLetters)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", jobHandler.Get)
				r.Get("/logs", jobHandler.Logs)
				r.Post("/claim", jobHandler.Claim)
				r.Post("/complete", jobHandler.Complete)
				r.Post("/fail", jobHandler.Fail)
				r.Post("/retry", jobHandler.Retry)
				r.Post("/requeue", jobHandler.Requeue)
				r.Post("/cancel", jobHandler.Cancel)
				r.Post("/progress", jobHandler.Progress)
			})
		})

		r.Route("/escalations", func(r chi.Router) {
			r.Get("/", escalationHandler.List)
			r.Post("/{id}/resolve", escalationHandler.Resolve)
			r.Post("/{id}/dismiss", escalationHandler.Dismiss)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", documentHandler.Create)
			r.Get("/{id}", documentHandler.Get)
			r.Post("/{id}/reindex", documentHandler.Reindex)
			r.Post("/{id}/health-check", documentHandler.HealthCheck)
		})

		r.Post("/ask", askHandler.Ask)
	})

	return app
}

func healthHandler(b *Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := b.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		body := map[string]string{"status": "ok", "backend": b.Name}
		for k, v := range buildconfig.VersionInfo() {
			body[k] = v
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (app *App) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		if stats, err := app.Services.Jobs.Stats(r.Context(), nil); err == nil {
			response["jobs"] = stats
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
