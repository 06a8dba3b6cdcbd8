/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs and error responses
  2. RealIP:     Client address behind a proxy
  3. Logger:     logrus request log + latency histogram
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/cylinders/*      Cylinder registry
  /api/fillings/*       Filling batches
  /api/transfers/*      Transfer batches and trips
  /api/tank/*           Bulk tank
  /api/reversals        Reversal engine
  /api/adjustments      Physical count corrections
  /api/approval-logs    Audit trail
  /api/reconciliation/* Tank reconciliation runs
  /api/scenarios/*      Demo scenarios (only when enabled)
  /health, /metrics

SECURITY NOTE:
  No authentication middleware. Scenario routes wipe the database and must
  stay disabled outside development.
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RequestObserver records request latency. *metrics.Collector implements it.
type RequestObserver interface {
	ObserveRequest(method, route string, code int, took time.Duration)
}

type RouterOptions struct {
	AllowedOrigins  []string
	EnableScenarios bool

	// Requests and Gatherer are optional. With a Gatherer, /metrics is served.
	Requests RequestObserver
	Gatherer prometheus.Gatherer

	// Scheduler exposes reconciliation runs when set.
	Scheduler *ReconciliationScheduler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Log, opts.Requests))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/cylinders", func(r chi.Router) {
			r.Get("/", h.ListCylinders)
			r.Post("/", h.RegisterCylinder)
			r.Get("/summary", h.CylinderSummary)
			r.Get("/due-tests", h.DueTests)
			r.Get("/{id}", h.GetCylinder)
			r.Patch("/{id}", h.EditCylinder)
			r.Delete("/{id}", h.DeleteCylinder)
		})

		r.Route("/fillings", func(r chi.Router) {
			r.Get("/", h.ListFillings)
			r.Post("/batches", h.FillBatch)
			r.Get("/batches/{batch}", h.GetBatch)
			r.Patch("/batches/{batch}/weights", h.EditBatchWeights)
			r.Post("/batches/{batch}/approval", h.SetBatchApproval)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Get("/", h.ListTransfers)
			r.Post("/batches", h.TransferBatch)
			r.Get("/open", h.OpenBatches)
			r.Post("/trips/{ref}/close", h.CloseTrip)
		})

		r.Route("/tank", func(r chi.Router) {
			r.Get("/", h.TankLevel)
			r.Post("/entrances", h.TankEntrance)
			r.Post("/exits", h.TankExit)
			r.Get("/movements", h.TankMovements)
			r.Get("/recompute", h.TankRecompute)
		})

		r.Post("/reversals", h.Reverse)

		r.Route("/adjustments", func(r chi.Router) {
			r.Get("/", h.ListAdjustments)
			r.Post("/", h.CreateAdjustment)
		})

		r.Get("/approval-logs", h.ListApprovalLogs)

		if opts.Scheduler != nil {
			r.Route("/reconciliation", func(r chi.Router) {
				r.Get("/runs", opts.Scheduler.ListRuns)
				r.Post("/run", opts.Scheduler.TriggerRun)
			})
		}

		if opts.EnableScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}

// requestLogger logs one line per request through logrus and feeds the
// latency histogram, labelled with the matched route pattern.
func requestLogger(log *logrus.Logger, obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			took := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if obs != nil {
				obs.ObserveRequest(r.Method, route, status, took)
			}
			log.WithFields(logrus.Fields{
				"module":     "api",
				"method":     r.Method,
				"route":      route,
				"path":       r.URL.Path,
				"status":     status,
				"bytes":      ww.BytesWritten(),
				"duration":   took.String(),
				"request_id": requestID(r),
				"remote":     r.RemoteAddr,
			}).Info("request")
		})
	}
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
